package client

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"pkt.systems/fmg/api"
)

// Sentinel errors. Typed errors below wrap one of these so callers can use
// errors.Is regardless of the concrete type.
var (
	// ErrNotAuthenticated is returned when an operation runs before Open.
	ErrNotAuthenticated = errors.New("fmg: not authenticated, open the session first")
	// ErrAuthentication covers rejected credentials and permission denials.
	ErrAuthentication = errors.New("fmg: authentication failed")
	// ErrConnectivity means the endpoint could not be reached.
	ErrConnectivity = errors.New("fmg: endpoint unreachable")
	// ErrLockNeeded means the ADOM must be locked before writing (recoverable).
	ErrLockNeeded = errors.New("fmg: workspace lock needed")
	// ErrLockConflict means another user holds the workspace lock.
	ErrLockConflict = errors.New("fmg: workspace locked by other user")
	// ErrLock is a failed lock request.
	ErrLock = errors.New("fmg: lock failed")
	// ErrWorkspace is a commit/unlock bookkeeping failure.
	ErrWorkspace = errors.New("fmg: workspace error")
	// ErrInvalidData means the payload does not fit the URL.
	ErrInvalidData = errors.New("fmg: invalid data for url")
	// ErrAlreadyExists means the object is already in the database.
	ErrAlreadyExists = errors.New("fmg: object already exists")
	// ErrInvalidURL means the server does not know the URL.
	ErrInvalidURL = errors.New("fmg: invalid url")
	// ErrEmptyResult is returned by get when nothing matched and the session
	// raises on errors.
	ErrEmptyResult = errors.New("fmg: empty result")
	// ErrRequest is malformed caller input.
	ErrRequest = errors.New("fmg: bad request")
	// ErrUnhandledServer is any server status the client does not recognise.
	ErrUnhandledServer = errors.New("fmg: unhandled server error")
	// ErrTaskTimeout is returned when a task does not finish in time.
	ErrTaskTimeout = errors.New("fmg: task timeout")
	// ErrTaskNotFound is returned when a polled task disappears.
	ErrTaskNotFound = errors.New("fmg: task not found")
	// ErrNotBound is returned by object helpers that have no session.
	ErrNotBound = errors.New("fmg: object not bound to a session")
)

// StatusError is a non-zero per-result status returned by the server.
type StatusError struct {
	// Kind is the sentinel this status was classified as.
	Kind error
	// Method and URL identify the failing operation.
	Method string
	URL    string
	// Status is the raw status block.
	Status api.Status
}

func (e *StatusError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%v: %s %s: %s (code %d)", e.Kind, e.Method, e.URL, e.Status.Message, e.Status.Code)
	}
	return fmt.Sprintf("%v: %s (code %d)", e.Kind, e.Status.Message, e.Status.Code)
}

// Unwrap exposes Kind to errors.Is.
func (e *StatusError) Unwrap() error { return e.Kind }

var noPermission = regexp.MustCompile(`(?i)no( write)? permission$`)

// classifyStatus maps a server status message to a sentinel.
func classifyStatus(status api.Status) error {
	switch {
	case status.Message == "No permission for the resource":
		return ErrAuthentication
	case noPermission.MatchString(status.Message):
		return ErrLockNeeded
	case status.Message == "Workspace is locked by other user":
		return ErrLockConflict
	case status.Message == "The data is invalid for selected url":
		return ErrInvalidData
	case status.Message == "Object already exists":
		return ErrAlreadyExists
	case status.Message == "Invalid url":
		return ErrInvalidURL
	}
	return ErrUnhandledServer
}

// checkResults returns a *StatusError for the first failing result.
func checkResults(method string, params []api.Params, results []api.Result) error {
	for i, res := range results {
		if res.Status.OK() {
			continue
		}
		url := res.URL
		if url == "" && i < len(params) {
			url = params[i].URL
		}
		return &StatusError{
			Kind:   classifyStatus(res.Status),
			Method: method,
			URL:    url,
			Status: res.Status,
		}
	}
	return nil
}

// ConnectivityError wraps a transport failure.
type ConnectivityError struct {
	Endpoint string
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("fmg: %s unreachable: %v", e.Endpoint, e.Err)
}

// Is matches ErrConnectivity.
func (e *ConnectivityError) Is(target error) bool { return target == ErrConnectivity }

// Unwrap returns the underlying transport error.
func (e *ConnectivityError) Unwrap() error { return e.Err }

// LockError is a failed workspace lock of one ADOM.
type LockError struct {
	ADOM string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("fmg: lock adom %q: %v", e.ADOM, e.Err)
}

// Is matches ErrLock.
func (e *LockError) Is(target error) bool { return target == ErrLock }

// Unwrap returns the server error.
func (e *LockError) Unwrap() error { return e.Err }

// WorkspaceError lists ADOMs that are still locked after an unlock pass.
type WorkspaceError struct {
	Remaining []string
	Errs      []error
}

func (e *WorkspaceError) Error() string {
	names := slices.Clone(e.Remaining)
	slices.Sort(names)
	return fmt.Sprintf("fmg: failed to unlock adoms: %s", strings.Join(names, ", "))
}

// Is matches ErrWorkspace.
func (e *WorkspaceError) Is(target error) bool { return target == ErrWorkspace }

// Unwrap returns the per-ADOM unlock errors.
func (e *WorkspaceError) Unwrap() []error { return e.Errs }

// TaskTimeoutError reports a task that did not reach a terminal state.
type TaskTimeoutError struct {
	TaskID  int
	Timeout time.Duration
	Last    api.TaskState
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("fmg: timed out waiting %s for task %d (last state %q)", e.Timeout, e.TaskID, e.Last)
}

// Unwrap exposes ErrTaskTimeout.
func (e *TaskTimeoutError) Unwrap() error { return ErrTaskTimeout }

// retryError keeps both the first failure and the retry failure visible to
// errors.Is while reporting the retry as the primary error.
type retryError struct {
	retry error
	cause error
}

func (e *retryError) Error() string {
	return fmt.Sprintf("%v (after retry; first attempt: %v)", e.retry, e.cause)
}

func (e *retryError) Unwrap() []error { return []error{e.retry, e.cause} }

func chainRetry(retry, cause error) error {
	if retry == nil {
		return nil
	}
	return &retryError{retry: retry, cause: cause}
}
