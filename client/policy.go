package client

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Handler performs one call.
type Handler func(ctx context.Context, call *Call) (*Response, error)

// Policy wraps a Handler with retry or instrumentation behaviour.
type Policy func(next Handler) Handler

// Chain wraps h with policies; policies[0] ends up outermost.
func Chain(h Handler, policies ...Policy) Handler {
	for i := len(policies) - 1; i >= 0; i-- {
		if policies[i] != nil {
			h = policies[i](h)
		}
	}
	return h
}

// AuthRetry re-authenticates once and retries the call once when the server
// reports an authentication failure. A second failure is returned with the
// first one chained as its cause.
func AuthRetry(s *Session) Policy {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (*Response, error) {
			resp, err := next(ctx, call)
			if err == nil || !errors.Is(err, ErrAuthentication) {
				return resp, err
			}
			s.logWarnCtx(ctx, "client.auth.retry", "method", call.Method, "url", call.URL(), "error", err)
			s.tel.retried(ctx, "auth")
			if loginErr := s.reauthenticate(ctx, call.token); loginErr != nil {
				return resp, chainRetry(loginErr, err)
			}
			resp, retryErr := next(ctx, call)
			if retryErr != nil {
				return resp, chainRetry(retryErr, err)
			}
			return resp, nil
		}
	}
}

// LockRetry locks the owning ADOM once and retries the call once when a
// mutating call is rejected for lack of a workspace lock. If the ADOM is
// already locked the original error is returned immediately.
func LockRetry(s *Session) Policy {
	return func(next Handler) Handler {
		return func(ctx context.Context, call *Call) (*Response, error) {
			resp, err := next(ctx, call)
			if err == nil || !mutating(call.Method) || !errors.Is(err, ErrLockNeeded) {
				return resp, err
			}
			adom := call.ADOM
			if adom == "" {
				parsed, parseErr := ADOMFromURL(call.URL())
				if parseErr != nil {
					return resp, chainRetry(parseErr, err)
				}
				adom = parsed
			}
			if s.workspace.IsLocked(adom) {
				s.logDebugCtx(ctx, "client.lock.already_held", "adom", adom, "url", call.URL())
				return resp, err
			}
			s.logInfoCtx(ctx, "client.lock.retry", "adom", adom, "method", call.Method, "url", call.URL())
			s.tel.retried(ctx, "lock")
			if lockErr := s.workspace.Acquire(ctx, adom); lockErr != nil {
				return resp, chainRetry(lockErr, err)
			}
			resp, retryErr := next(ctx, call)
			if retryErr != nil {
				return resp, chainRetry(retryErr, err)
			}
			return resp, nil
		}
	}
}

var adomName = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)

// ADOMFromURL returns the ADOM a request URL belongs to: "global" for
// /.../global/... URLs and <name> for /.../adom/<name>/... URLs. Anything
// else is ErrRequest.
func ADOMFromURL(u string) (string, error) {
	path := u
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: url %q is not absolute", ErrRequest, u)
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		switch seg {
		case "":
			return "", fmt.Errorf("%w: url %q has an empty segment", ErrRequest, u)
		case "global":
			return "global", nil
		case "adom":
			if i+1 >= len(segments) {
				return "", fmt.Errorf("%w: url %q ends before the adom name", ErrRequest, u)
			}
			name := segments[i+1]
			if !adomName.MatchString(name) {
				return "", fmt.Errorf("%w: url %q has invalid adom name %q", ErrRequest, u, name)
			}
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: no adom in url %q", ErrRequest, u)
}
