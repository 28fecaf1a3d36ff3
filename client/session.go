package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/internal/clock"
)

// Session is an authenticated connection to one FortiManager. It owns the
// session token, the workspace lock bookkeeping and the retry policy chain.
//
// A Session may be shared between goroutines: the token is swapped under a
// lock and at most one login is in flight at a time. Lock state is local to
// the Session; the server remains the only arbiter of who holds a lock.
type Session struct {
	endpoint string
	user     string
	password Secret

	httpClient *http.Client
	transport  Transport
	tlsConfig  *tls.Config
	insecure   bool
	timeout    time.Duration

	raiseOnError   bool
	discardOnClose bool
	discardOnError bool

	logger         pslog.Base
	clock          clock.Clock
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tel            *telemetry
	pollInterval   time.Duration
	extraPolicies  []Policy

	id            int
	correlationID string

	mu    sync.RWMutex
	adom  string
	token Secret

	loginMu sync.Mutex

	workspace *Workspace
	read      Handler
	write     Handler
}

// New constructs a Session for baseURL. The URL is normalised to end with
// /jsonrpc. No request is made until Open.
//
// Example:
//
//	sess, err := client.New("https://fmg.example.com",
//	    client.WithCredentials("api", client.NewSecret(os.Getenv("FMG_PASSWORD"))),
//	    client.WithADOM("root"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sess.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close(ctx, false)
func New(baseURL string, opts ...Option) (*Session, error) {
	endpoint, err := NormalizeEndpoint(baseURL)
	if err != nil {
		return nil, err
	}
	s := &Session{
		endpoint:       endpoint,
		adom:           DefaultADOM,
		timeout:        DefaultTimeout,
		raiseOnError:   true,
		discardOnError: true,
		logger:         pslog.NoopLogger(),
		clock:          clock.Real{},
		pollInterval:   DefaultPollInterval,
		id:             rand.IntN(256) + 1,
		correlationID:  GenerateCorrelationID(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = newHTTPTransport(endpoint, s.httpClient, s.tlsConfig, s.insecure, s.timeout)
	}
	s.tel = newTelemetry(s.tracerProvider, s.meterProvider)
	s.workspace = newWorkspace(s)
	s.read = Chain(s.send, append([]Policy{AuthRetry(s)}, s.extraPolicies...)...)
	s.write = Chain(s.send, append([]Policy{AuthRetry(s), LockRetry(s)}, s.extraPolicies...)...)
	s.logTrace("client.session.init", "endpoint", endpoint, "id", s.id, "adom", s.adom)
	return s, nil
}

// NormalizeEndpoint trims baseURL and makes sure it ends with /jsonrpc.
func NormalizeEndpoint(baseURL string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: base url required", ErrRequest)
	}
	if !strings.HasSuffix(trimmed, "/jsonrpc") {
		trimmed += "/jsonrpc"
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid base url %q", ErrRequest, baseURL)
	}
	return trimmed, nil
}

// Endpoint returns the normalised /jsonrpc URL.
func (s *Session) Endpoint() string { return s.endpoint }

// ID returns the JSON-RPC request id used by this session.
func (s *Session) ID() int { return s.id }

// CorrelationID returns the identifier attached to this session's log lines
// and requests.
func (s *Session) CorrelationID() string { return s.correlationID }

// RaiseOnError reports whether failed results are returned as errors.
func (s *Session) RaiseOnError() bool { return s.raiseOnError }

// Workspace returns the workspace lock/commit context of the session.
func (s *Session) Workspace() *Workspace { return s.workspace }

// ADOM returns the default ADOM for object requests.
func (s *Session) ADOM() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adom
}

// SetADOM changes the default ADOM for subsequent object requests.
func (s *Session) SetADOM(adom string) {
	if adom == "" {
		adom = DefaultADOM
	}
	s.mu.Lock()
	s.adom = adom
	s.mu.Unlock()
}

// Authenticated reports whether a session token is held.
func (s *Session) Authenticated() bool {
	return !s.currentToken().Empty()
}

func (s *Session) currentToken() Secret {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) setToken(token Secret) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Open logs in with the configured credentials and stores the session
// token.
func (s *Session) Open(ctx context.Context) error {
	ctx = s.withCID(ctx)
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	return s.login(ctx)
}

// login must be called with loginMu held.
func (s *Session) login(ctx context.Context) error {
	s.logDebugCtx(ctx, "client.login.start", "endpoint", s.endpoint, "user", s.user)
	call := &Call{
		Method: api.MethodExec,
		Params: []api.Params{{
			URL:  api.URLLogin,
			Data: api.Credentials{User: s.user, Passwd: s.password.Reveal()},
		}},
	}
	out, err := s.exchange(ctx, call, "")
	if err != nil {
		s.logErrorCtx(ctx, "client.login.error", "endpoint", s.endpoint, "error", err)
		return err
	}
	status := firstStatus(out.Result)
	if !status.OK() {
		if strings.Contains(status.Message, "No permission for resource") {
			err = fmt.Errorf("%w: login: %s, the user probably has no API access", ErrUnhandledServer, status.Message)
		} else {
			err = &StatusError{Kind: ErrAuthentication, Method: api.MethodExec, URL: api.URLLogin, Status: status}
		}
		s.logErrorCtx(ctx, "client.login.rejected", "endpoint", s.endpoint, "user", s.user, "error", err)
		return err
	}
	if out.Session == "" {
		return fmt.Errorf("%w: login returned no session token", ErrAuthentication)
	}
	s.setToken(NewSecret(out.Session))
	s.logInfoCtx(ctx, "client.login.success", "endpoint", s.endpoint, "user", s.user)
	return nil
}

// reauthenticate replaces stale with a fresh token. When another goroutine
// already refreshed the token the call is a no-op.
func (s *Session) reauthenticate(ctx context.Context, stale Secret) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	if current := s.currentToken(); !current.Empty() && current.Reveal() != stale.Reveal() {
		s.logTraceCtx(ctx, "client.login.refreshed_elsewhere")
		return nil
	}
	return s.login(ctx)
}

func (s *Session) logout(ctx context.Context) error {
	token := s.currentToken()
	if token.Empty() {
		return nil
	}
	call := &Call{Method: api.MethodExec, Params: []api.Params{{URL: api.URLLogout}}}
	out, err := s.exchange(ctx, call, token.Reveal())
	if err != nil {
		return err
	}
	if status := firstStatus(out.Result); !status.OK() {
		return &StatusError{Kind: classifyStatus(status), Method: api.MethodExec, URL: api.URLLogout, Status: status}
	}
	return nil
}

// Close tears the session down: in workspace mode, or whenever ADOMs are
// locked, it commits every locked ADOM (unless discard or WithDiscardOnClose is set) and unlocks them, then
// logs out. Commit, unlock and logout failures are logged and swallowed so
// logout is always attempted; the token is dropped regardless. The returned
// error is only non-nil when ctx ended during teardown.
func (s *Session) Close(ctx context.Context, discard bool) error {
	ctx = s.withCID(ctx)
	defer s.closeIdle()
	if !s.Authenticated() {
		return nil
	}
	discard = discard || s.discardOnClose
	// Locks taken without CheckMode still have to be released.
	if s.workspace.UsesWorkspace() || len(s.workspace.LockedADOMs()) > 0 {
		if !discard {
			responses, err := s.workspace.Commit(ctx, CommitOptions{})
			if err != nil {
				s.logWarnCtx(ctx, "client.close.commit_failed", "error", err)
			}
			for _, resp := range responses {
				if !resp.OK() {
					s.logWarnCtx(ctx, "client.close.commit_failed", "error", resp.Error)
				}
			}
		}
		if err := s.workspace.Unlock(ctx); err != nil {
			s.logWarnCtx(ctx, "client.close.unlock_failed", "error", err)
		}
	}
	if err := s.logout(ctx); err != nil {
		s.logWarnCtx(ctx, "client.logout.failed", "error", err)
	}
	s.setToken(Secret{})
	s.logDebugCtx(ctx, "client.session.closed", "endpoint", s.endpoint, "discarded", discard)
	return ctx.Err()
}

// CloseWithError closes the session after a failed unit of work. When cause
// is non-nil pending workspace changes are discarded if WithDiscardOnError
// (default) or WithDiscardOnClose is set. It returns cause joined with any
// teardown error, which suits a deferred call:
//
//	defer func() { err = sess.CloseWithError(ctx, err) }()
func (s *Session) CloseWithError(ctx context.Context, cause error) error {
	discard := s.discardOnClose
	if cause != nil {
		discard = s.discardOnError || s.discardOnClose
	}
	if err := s.Close(ctx, discard); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Session) closeIdle() {
	if c, ok := s.transport.(idleCloser); ok {
		c.CloseIdleConnections()
	}
}

// Call is one JSON-RPC invocation travelling through the policy chain.
type Call struct {
	Method string
	Params []api.Params
	// ADOM is the owning ADOM when the request was built from an object.
	// Raw requests leave it empty and the lock policy parses the URL.
	ADOM string
	// Verbose asks the server for string enum values.
	Verbose bool
	// CreateTask turns a clone into a background task.
	CreateTask *api.CreateTask

	token Secret
}

// URL returns the URL of the first parameter block.
func (c *Call) URL() string {
	if c == nil || len(c.Params) == 0 {
		return ""
	}
	return c.Params[0].URL
}

// do routes call through the policy chain matching its method.
func (s *Session) do(ctx context.Context, call *Call) (*Response, error) {
	ctx = s.withCID(ctx)
	if mutating(call.Method) {
		return s.write(ctx, call)
	}
	return s.read(ctx, call)
}

// send is the innermost handler: it attaches the token, performs the
// exchange and classifies per-result status.
func (s *Session) send(ctx context.Context, call *Call) (*Response, error) {
	token := s.currentToken()
	if token.Empty() {
		return nil, ErrNotAuthenticated
	}
	call.token = token
	out, err := s.exchange(ctx, call, token.Reveal())
	if err != nil {
		return nil, err
	}
	resp := newResponse(s, out.Result)
	if len(out.Result) == 0 {
		return resp, fmt.Errorf("%w: %s %s returned no results", ErrUnhandledServer, call.Method, call.URL())
	}
	return resp, checkResults(call.Method, call.Params, out.Result)
}

func (s *Session) exchange(ctx context.Context, call *Call, token string) (*api.Response, error) {
	req := &api.Request{
		ID:         s.id,
		Method:     call.Method,
		Params:     call.Params,
		Session:    token,
		CreateTask: call.CreateTask,
	}
	if call.Verbose {
		req.Verbose = 1
	}
	target := call.URL()
	ctx, span := s.tel.startRPC(ctx, call.Method, target)
	begin := time.Now()
	s.logTraceCtx(ctx, "client.rpc.attempt", "method", call.Method, "url", target, "params", len(call.Params))
	out, err := s.transport.RoundTrip(ctx, req)
	if err == nil && out == nil {
		err = fmt.Errorf("%w: empty reply", ErrUnhandledServer)
	}
	s.tel.endRPC(ctx, span, call.Method, err)
	if err != nil {
		s.logDebugCtx(ctx, "client.rpc.error", "method", call.Method, "url", target, "elapsed", time.Since(begin), "error", err)
		return nil, err
	}
	s.logTraceCtx(ctx, "client.rpc.success", "method", call.Method, "url", target, "elapsed", time.Since(begin), "results", len(out.Result))
	return out, nil
}

// finish applies the raise-on-error setting to the outcome of a public
// verb.
func (s *Session) finish(ctx context.Context, call *Call, resp *Response, err error) (*Response, error) {
	if err == nil {
		return resp, nil
	}
	s.logErrorCtx(ctx, "client."+call.Method+".error", "url", call.URL(), "error", err)
	if s.raiseOnError || !softError(err) {
		return nil, err
	}
	return s.failedResponse(resp, err), nil
}

// softError reports whether err describes a failed result rather than a
// failure to talk to the server at all.
func softError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) || errors.Is(err, ErrLock) || errors.Is(err, ErrEmptyResult)
}

func firstStatus(results []api.Result) api.Status {
	if len(results) == 0 {
		return api.Status{Code: -1, Message: "no result"}
	}
	return results[0].Status
}

func (s *Session) resolve(req Request) (resolvedRequest, error) {
	if req == nil {
		return resolvedRequest{}, fmt.Errorf("%w: nil request", ErrRequest)
	}
	return req.resolve(s)
}

func (s *Session) withCID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if CorrelationIDFromContext(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, s.correlationID)
}

func hasKey(keyvals []any, target string) bool {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok && key == target {
			return true
		}
	}
	return false
}

func (s *Session) enrichKeyvals(ctx context.Context, keyvals []any) []any {
	cid := CorrelationIDFromContext(ctx)
	if cid == "" {
		cid = s.correlationID
	}
	if cid == "" || hasKey(keyvals, "cid") {
		return keyvals
	}
	enriched := append([]any(nil), keyvals...)
	enriched = append(enriched, "cid", cid)
	return enriched
}

func (s *Session) logTraceCtx(ctx context.Context, msg string, keyvals ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Trace(msg, s.enrichKeyvals(ctx, keyvals)...)
}

func (s *Session) logDebugCtx(ctx context.Context, msg string, keyvals ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(msg, s.enrichKeyvals(ctx, keyvals)...)
}

func (s *Session) logInfoCtx(ctx context.Context, msg string, keyvals ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Info(msg, s.enrichKeyvals(ctx, keyvals)...)
}

func (s *Session) logWarnCtx(ctx context.Context, msg string, keyvals ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, s.enrichKeyvals(ctx, keyvals)...)
}

func (s *Session) logErrorCtx(ctx context.Context, msg string, keyvals ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Error(msg, s.enrichKeyvals(ctx, keyvals)...)
}

func (s *Session) logTrace(msg string, keyvals ...any) {
	s.logTraceCtx(context.Background(), msg, keyvals...)
}
