package client

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"pkt.systems/fmg/api"
)

// Workspace tracks FortiManager workspace mode for one session: whether it
// is enabled, which ADOMs this session has locked, and the commit/unlock
// calls that go with them. In non-workspace deployments Acquire is a no-op.
type Workspace struct {
	s *Session

	mu            sync.Mutex
	checked       bool
	usesWorkspace bool
	usesADOMs     bool
	locked        map[string]struct{}
}

// CommitOptions selects what Commit applies.
type CommitOptions struct {
	// ADOMs to commit; empty commits every locked ADOM.
	ADOMs []string
	// Aux commits the policy package workspace instead of the database
	// workspace.
	Aux bool
}

func newWorkspace(s *Session) *Workspace {
	return &Workspace{s: s, locked: make(map[string]struct{})}
}

// canonicalADOM folds any spelling of "global" to lower case. ADOM names are
// otherwise kept as given.
func canonicalADOM(adom string) string {
	adom = strings.TrimSpace(adom)
	if strings.EqualFold(adom, "global") {
		return "global"
	}
	return adom
}

// CheckMode reads the global system settings once and caches whether
// workspace mode (and ADOM mode) is enabled.
func (w *Workspace) CheckMode(ctx context.Context) error {
	w.mu.Lock()
	checked := w.checked
	w.mu.Unlock()
	if checked {
		return nil
	}
	p := api.Params{URL: api.URLSystemGlobal, Fields: []string{"workspace-mode", "adom-status"}}
	resp, err := w.s.do(ctx, &Call{Method: api.MethodGet, Params: []api.Params{p}, Verbose: true})
	if err != nil {
		return fmt.Errorf("fmg: check workspace mode: %w", err)
	}
	var global api.SystemGlobal
	if err := resp.Decode(&global); err != nil {
		return err
	}
	w.mu.Lock()
	w.checked = true
	w.usesWorkspace = global.WorkspaceEnabled()
	w.usesADOMs = global.ADOMsEnabled()
	w.mu.Unlock()
	w.s.logDebugCtx(ctx, "client.workspace.mode", "workspace", global.WorkspaceEnabled(), "adoms", global.ADOMsEnabled())
	return nil
}

// UsesWorkspace reports the cached workspace mode. It is false until
// CheckMode (or Acquire) ran.
func (w *Workspace) UsesWorkspace() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usesWorkspace
}

// UsesADOMs reports the cached adom-status setting.
func (w *Workspace) UsesADOMs() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usesADOMs
}

// LockedADOMs returns the ADOMs locked by this session, sorted.
func (w *Workspace) LockedADOMs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.locked))
	for adom := range w.locked {
		out = append(out, adom)
	}
	slices.Sort(out)
	return out
}

// IsLocked reports whether this session holds the lock of adom.
func (w *Workspace) IsLocked(adom string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.locked[canonicalADOM(adom)]
	return ok
}

func (w *Workspace) markLocked(adom string, locked bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if locked {
		w.locked[canonicalADOM(adom)] = struct{}{}
		return
	}
	delete(w.locked, canonicalADOM(adom))
}

// Acquire checks the workspace mode and, when it is enabled, locks adoms
// (default "root").
func (w *Workspace) Acquire(ctx context.Context, adoms ...string) error {
	if err := w.CheckMode(ctx); err != nil {
		return err
	}
	if !w.UsesWorkspace() {
		w.s.logTraceCtx(ctx, "client.workspace.disabled")
		return nil
	}
	return w.Lock(ctx, adoms...)
}

// Lock locks adoms (default "root") in order. ADOMs already locked by this
// session are skipped. The first failure stops the pass and is returned as a
// *LockError; ADOMs locked before it stay locked.
func (w *Workspace) Lock(ctx context.Context, adoms ...string) error {
	if len(adoms) == 0 {
		adoms = []string{"root"}
	}
	for _, adom := range adoms {
		adom = canonicalADOM(adom)
		if adom == "" {
			return fmt.Errorf("%w: empty adom name", ErrRequest)
		}
		if w.IsLocked(adom) {
			continue
		}
		_, err := w.s.do(ctx, &Call{Method: api.MethodExec, Params: []api.Params{{URL: lockURL(adom)}}})
		if err != nil {
			w.s.logWarnCtx(ctx, "client.lock.failed", "adom", adom, "error", err)
			return &LockError{ADOM: adom, Err: err}
		}
		w.markLocked(adom, true)
		w.s.logInfoCtx(ctx, "client.lock.acquired", "adom", adom)
	}
	return nil
}

// Unlock releases adoms (default every locked ADOM). An ADOM leaves the
// locked set only when the server confirms the unlock; ADOMs that stay
// locked are reported in a *WorkspaceError.
func (w *Workspace) Unlock(ctx context.Context, adoms ...string) error {
	if len(adoms) == 0 {
		adoms = w.LockedADOMs()
	}
	var (
		remaining []string
		errs      []error
	)
	for _, adom := range adoms {
		adom = canonicalADOM(adom)
		_, err := w.s.do(ctx, &Call{Method: api.MethodExec, Params: []api.Params{{URL: unlockURL(adom)}}})
		if err != nil {
			w.s.logWarnCtx(ctx, "client.unlock.failed", "adom", adom, "error", err)
			remaining = append(remaining, adom)
			errs = append(errs, fmt.Errorf("unlock %s: %w", adom, err))
			continue
		}
		w.markLocked(adom, false)
		w.s.logInfoCtx(ctx, "client.unlock.released", "adom", adom)
	}
	if len(remaining) > 0 {
		return &WorkspaceError{Remaining: remaining, Errs: errs}
	}
	return nil
}

// Commit applies pending workspace changes, one call per ADOM (default every
// locked ADOM). A failed commit does not stop the pass: inspect each
// Response. The error is only set when ctx ends.
func (w *Workspace) Commit(ctx context.Context, opts CommitOptions) ([]*Response, error) {
	adoms := opts.ADOMs
	if len(adoms) == 0 {
		adoms = w.LockedADOMs()
	}
	out := make([]*Response, 0, len(adoms))
	for _, adom := range adoms {
		adom = canonicalADOM(adom)
		resp, err := w.s.do(ctx, &Call{Method: api.MethodExec, Params: []api.Params{{URL: commitURL(adom, opts.Aux)}}})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			w.s.logWarnCtx(ctx, "client.commit.failed", "adom", adom, "error", err)
			out = append(out, w.s.failedResponse(resp, err))
			continue
		}
		w.s.logInfoCtx(ctx, "client.commit.applied", "adom", adom, "aux", opts.Aux)
		out = append(out, resp)
	}
	return out, nil
}

func lockURL(adom string) string {
	if adom == "global" {
		return "/dvmdb/global/workspace/lock/"
	}
	return "/dvmdb/adom/" + adom + "/workspace/lock/"
}

func unlockURL(adom string) string {
	if adom == "global" {
		return "/dvmdb/global/workspace/unlock/"
	}
	return "/dvmdb/adom/" + adom + "/workspace/unlock/"
}

func commitURL(adom string, aux bool) string {
	switch {
	case aux:
		return "/pm/config/adom/" + adom + "/workspace/commit"
	case adom == "global":
		return "/dvmdb/global/workspace/commit/"
	default:
		return "/dvmdb/adom/" + adom + "/workspace/commit"
	}
}

// failedResponse turns err into a Response with Success false.
func (s *Session) failedResponse(resp *Response, err error) *Response {
	if resp == nil {
		resp = &Response{session: s}
	}
	resp.Success = false
	resp.Error = err.Error()
	var se *StatusError
	if errors.As(err, &se) {
		resp.Status = se.Status
	}
	return resp
}
