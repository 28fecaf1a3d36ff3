package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/internal/clock"
)

// fakeFMG is an in-memory JSON-RPC peer. Login and logout are answered
// automatically; everything else goes to handle.
type fakeFMG struct {
	mu          sync.Mutex
	calls       []api.Request
	logins      int
	token       string
	loginStatus api.Status
	logoutFail  bool
	handle      func(req api.Request) []api.Result
}

func (f *fakeFMG) roundTrip(_ context.Context, req *api.Request) (*api.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, *req)
	url := ""
	if len(req.Params) > 0 {
		url = req.Params[0].URL
	}
	switch url {
	case api.URLLogin:
		f.logins++
		if !f.loginStatus.OK() {
			return &api.Response{Result: []api.Result{{Status: f.loginStatus}}}, nil
		}
		f.token = fmt.Sprintf("tok-%d", f.logins)
		return &api.Response{Result: []api.Result{okResult(nil)}, Session: f.token}, nil
	case api.URLLogout:
		if f.logoutFail {
			return &api.Response{Result: []api.Result{failResult(-1, "logout refused")}}, nil
		}
		return &api.Response{Result: []api.Result{okResult(nil)}}, nil
	}
	if f.handle == nil {
		return &api.Response{Result: []api.Result{okResult(nil)}}, nil
	}
	return &api.Response{Result: f.handle(*req)}, nil
}

func (f *fakeFMG) transport() Transport {
	return TransportFunc(f.roundTrip)
}

// urls returns "method url" for every recorded call.
func (f *fakeFMG) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		url := ""
		if len(c.Params) > 0 {
			url = c.Params[0].URL
		}
		out = append(out, c.Method+" "+url)
	}
	return out
}

func (f *fakeFMG) count(method, url string) int {
	n := 0
	for _, u := range f.urls() {
		if u == method+" "+url {
			n++
		}
	}
	return n
}

func (f *fakeFMG) last() api.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func okResult(data any) api.Result {
	res := api.Result{Status: api.Status{Code: 0, Message: "OK"}}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			panic(err)
		}
		res.Data = raw
	}
	return res
}

func failResult(code int, msg string) api.Result {
	return api.Result{Status: api.Status{Code: code, Message: msg}}
}

func urlOf(req api.Request) string {
	if len(req.Params) == 0 {
		return ""
	}
	return req.Params[0].URL
}

// workspaceOn answers the workspace mode probe with workspace-mode enabled.
func workspaceOn(req api.Request) ([]api.Result, bool) {
	if urlOf(req) != api.URLSystemGlobal {
		return nil, false
	}
	return []api.Result{okResult(map[string]any{"workspace-mode": "normal", "adom-status": "enable"})}, true
}

func newTestSession(t *testing.T, f *fakeFMG, opts ...Option) *Session {
	t.Helper()
	base := []Option{
		WithCredentials("admin", NewSecret("secret-password")),
		WithTransport(f.transport()),
		WithClock(clock.NewStepping(time.Unix(1_700_000_000, 0))),
	}
	sess, err := New("https://fmg.test", append(base, opts...)...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := sess.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	return sess
}
