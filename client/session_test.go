package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/filter"
)

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://fmg.example.com":           "https://fmg.example.com/jsonrpc",
		"https://fmg.example.com/":          "https://fmg.example.com/jsonrpc",
		" https://fmg.example.com/jsonrpc ": "https://fmg.example.com/jsonrpc",
		"http://10.0.0.1:8080/jsonrpc/":     "http://10.0.0.1:8080/jsonrpc",
	}
	for in, want := range cases {
		got, err := NormalizeEndpoint(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
	for _, bad := range []string{"", "   ", "fmg.example.com", "ftp://fmg/"} {
		if _, err := NormalizeEndpoint(bad); !errors.Is(err, ErrRequest) {
			t.Fatalf("%q: expected ErrRequest, got %v", bad, err)
		}
	}
}

func TestOperationsRequireOpen(t *testing.T) {
	t.Parallel()

	f := &fakeFMG{}
	sess, err := New("https://fmg.test", WithTransport(f.transport()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := sess.Get(context.Background(), Raw("/dvmdb/adom", nil)); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := sess.Version(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if len(f.urls()) != 0 {
		t.Fatalf("expected no traffic, got %v", f.urls())
	}
}

func TestOpenSendsCredentialsAndStoresToken(t *testing.T) {
	t.Parallel()

	f := &fakeFMG{}
	sess := newTestSession(t, f)
	login := f.calls[0]
	if login.Method != api.MethodExec || urlOf(login) != api.URLLogin || login.Session != "" {
		t.Fatalf("unexpected login request %+v", login)
	}
	creds, ok := login.Params[0].Data.(api.Credentials)
	if !ok || creds.User != "admin" || creds.Passwd != "secret-password" {
		t.Fatalf("unexpected login payload %#v", login.Params[0].Data)
	}
	if login.ID < 1 || login.ID > 256 {
		t.Fatalf("request id %d out of range", login.ID)
	}
	if !sess.Authenticated() || sess.currentToken().Reveal() != "tok-1" {
		t.Fatalf("token not stored")
	}
}

func TestOpenRejected(t *testing.T) {
	t.Parallel()

	f := &fakeFMG{loginStatus: api.Status{Code: -22, Message: "Login fail"}}
	sess, _ := New("https://fmg.test", WithTransport(f.transport()))
	err := sess.Open(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	if sess.Authenticated() {
		t.Fatal("token stored after rejected login")
	}

	f = &fakeFMG{loginStatus: api.Status{Code: -11, Message: "No permission for resource"}}
	sess, _ = New("https://fmg.test", WithTransport(f.transport()))
	if err := sess.Open(context.Background()); !errors.Is(err, ErrUnhandledServer) {
		t.Fatalf("expected ErrUnhandledServer, got %v", err)
	}
}

func TestOpenUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()
	sess, err := New(endpoint, WithCredentials("admin", NewSecret("pw")))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := sess.Open(context.Background()); !errors.Is(err, ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
}

func TestHTTPTransportRoundTrip(t *testing.T) {
	t.Parallel()

	var gotCID, gotType string
	var got api.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jsonrpc" || r.Method != http.MethodPost {
			http.Error(w, "bad route", http.StatusNotFound)
			return
		}
		gotCID = r.Header.Get(headerCorrelationID)
		gotType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if urlOf(got) == api.URLLogin {
			_ = json.NewEncoder(w).Encode(api.Response{ID: got.ID, Result: []api.Result{okResult(nil)}, Session: "abc"})
			return
		}
		_ = json.NewEncoder(w).Encode(api.Response{ID: got.ID, Result: []api.Result{okResult(map[string]any{"Version": "v7.2.4-build1396"})}})
	}))
	defer srv.Close()

	sess, err := New(srv.URL+"/", WithCredentials("admin", NewSecret("pw")))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := sess.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	version, err := sess.Version(ctx)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != "v7.2.4-build1396" {
		t.Fatalf("unexpected version %q", version)
	}
	if got.Session != "abc" || got.Method != api.MethodGet || urlOf(got) != api.URLStatus {
		t.Fatalf("unexpected request %+v", got)
	}
	if gotCID != sess.CorrelationID() {
		t.Fatalf("expected correlation id %q, got %q", sess.CorrelationID(), gotCID)
	}
	if gotType != "application/json" {
		t.Fatalf("unexpected content type %q", gotType)
	}
}

func TestHTTPTransportServerErrorIsConnectivity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()
	sess, _ := New(srv.URL, WithCredentials("admin", NewSecret("pw")))
	err := sess.Open(context.Background())
	var cerr *ConnectivityError
	if !errors.As(err, &cerr) || !errors.Is(err, ErrConnectivity) {
		t.Fatalf("expected ConnectivityError, got %v", err)
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want error
	}{
		{"No permission for the resource", ErrAuthentication},
		{"No write permission", ErrLockNeeded},
		{"no permission", ErrLockNeeded},
		{"Workspace is locked by other user", ErrLockConflict},
		{"The data is invalid for selected url", ErrInvalidData},
		{"Object already exists", ErrAlreadyExists},
		{"Invalid url", ErrInvalidURL},
		{"Something odd happened", ErrUnhandledServer},
	}
	for _, tc := range cases {
		if got := classifyStatus(api.Status{Code: -1, Message: tc.msg}); got != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.msg, tc.want, got)
		}
	}
}

func TestFirstFailingResultWins(t *testing.T) {
	t.Parallel()

	results := []api.Result{
		okResult(nil),
		failResult(-2, "Object already exists"),
		failResult(-3, "Invalid url"),
	}
	err := checkResults(api.MethodAdd, []api.Params{{URL: "/a"}, {URL: "/b"}, {URL: "/c"}}, results)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.URL != "/b" || !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("unexpected status error %+v", se)
	}
}

func TestGetSendsVerboseFilterAndFields(t *testing.T) {
	t.Parallel()

	f := &fakeFMG{handle: func(req api.Request) []api.Result {
		return []api.Result{okResult([]map[string]any{{"name": "web-1"}})}
	}}
	sess := newTestSession(t, f)
	resp, err := sess.Get(context.Background(), Raw("/pm/config/adom/root/obj/firewall/address", nil),
		WithFilter(filter.And(filter.F("name", "web-1"), filter.MustNew("type", filter.OpEq, "ipmask"))),
		WithFields("name", "subnet"),
	)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	req := f.last()
	if req.Method != api.MethodGet || req.Verbose != 1 || req.Session != "tok-1" {
		t.Fatalf("unexpected envelope %+v", req)
	}
	p := req.Params[0]
	if len(p.Fields) != 2 || p.Loadsub != nil || p.Data != nil {
		t.Fatalf("unexpected params %+v", p)
	}
	raw, _ := json.Marshal(p.Filter)
	if string(raw) != `[["name","==","web-1"],"&&",["type","==","ipmask"]]` {
		t.Fatalf("unexpected filter %s", raw)
	}
	var first struct{ Name string }
	if ok, err := resp.FirstInto(&first); !ok || err != nil || first.Name != "web-1" {
		t.Fatalf("unexpected first row %+v (ok=%v err=%v)", first, ok, err)
	}
}

func TestGetEmptyResultPolicy(t *testing.T) {
	t.Parallel()

	empty := func(req api.Request) []api.Result { return []api.Result{okResult([]any{})} }

	raising := newTestSession(t, &fakeFMG{handle: empty})
	if _, err := raising.Get(context.Background(), Raw("/dvmdb/adom", nil)); !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}

	lenient := newTestSession(t, &fakeFMG{handle: empty}, WithRaiseOnError(false))
	resp, err := lenient.Get(context.Background(), Raw("/dvmdb/adom", nil))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !resp.OK() || string(resp.Data) != "[]" {
		t.Fatalf("expected success with empty list, got %+v", resp)
	}
	if resp.First() != nil {
		t.Fatalf("expected no first row")
	}
}

func TestRaiseOnErrorFalseReturnsFailedResponse(t *testing.T) {
	t.Parallel()

	f := &fakeFMG{handle: func(req api.Request) []api.Result {
		return []api.Result{failResult(-2, "Object already exists")}
	}}
	sess := newTestSession(t, f, WithRaiseOnError(false))
	resp, err := sess.Add(context.Background(), Raw("/pm/config/global/obj/firewall/address", map[string]any{"name": "dup"}))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.OK() || resp.Status.Code != -2 || !strings.Contains(resp.Error, "already exists") {
		t.Fatalf("unexpected response %+v", resp)
	}

	raising := newTestSession(t, &fakeFMG{handle: f.handle})
	if _, err := raising.Add(context.Background(), Raw("/pm/config/global/obj/firewall/address", map[string]any{"name": "dup"})); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestBatchedResultsAreKept(t *testing.T) {
	t.Parallel()

	resp := newResponse(nil, []api.Result{okResult(map[string]any{"name": "a"}), failResult(-3, "Invalid url")})
	if resp.Success {
		t.Fatal("expected failure when any result failed")
	}
	if len(resp.Results) != 2 || string(resp.First()) != `{"name":"a"}` {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestResponseFirst(t *testing.T) {
	t.Parallel()

	cases := []struct {
		data string
		want string
	}{
		{`[{"id":1},{"id":2}]`, `{"id":1}`},
		{`{"id":3}`, `{"id":3}`},
		{`[]`, ``},
		{`null`, ``},
		{``, ``},
	}
	for _, tc := range cases {
		r := &Response{Data: json.RawMessage(tc.data), Success: true}
		if got := string(r.First()); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.data, tc.want, got)
		}
	}
	var nilResp *Response
	if nilResp.First() != nil || nilResp.OK() {
		t.Fatal("nil response must be empty and not ok")
	}
}

func TestVersionAndADOMs(t *testing.T) {
	t.Parallel()

	f := &fakeFMG{handle: func(req api.Request) []api.Result {
		switch urlOf(req) {
		case api.URLStatus:
			return []api.Result{okResult(map[string]any{"Version": "v7.4.3"})}
		case api.URLADOMs:
			return []api.Result{okResult([]map[string]any{{"name": "root"}, {"name": "lab"}})}
		}
		return []api.Result{failResult(-3, "Invalid url")}
	}}
	sess := newTestSession(t, f)
	ctx := context.Background()
	if v, err := sess.Version(ctx); err != nil || v != "v7.4.3" {
		t.Fatalf("version %q err %v", v, err)
	}
	adoms, err := sess.ADOMs(ctx, filter.MustNew("name", filter.OpLike, "%"))
	if err != nil {
		t.Fatalf("adoms: %v", err)
	}
	if strings.Join(adoms, ",") != "root,lab" {
		t.Fatalf("unexpected adoms %v", adoms)
	}
	if fields := f.last().Params[0].Fields; len(fields) != 1 || fields[0] != "name" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestCloneCreateTask(t *testing.T) {
	t.Parallel()

	f := &fakeFMG{handle: func(req api.Request) []api.Result {
		return []api.Result{okResult(map[string]any{"task": 42})}
	}}
	sess := newTestSession(t, f)
	resp, err := sess.Clone(context.Background(),
		Raw("/pm/config/global/obj/firewall/address/web-1", nil),
		CloneOptions{Changes: map[string]any{"name": "web-2"}, CreateTask: true},
	)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	req := f.last()
	if req.Method != api.MethodClone || req.CreateTask == nil {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.CreateTask.ADOM != "root" || !strings.HasPrefix(req.CreateTask.Name, "cloning task of web-1") {
		t.Fatalf("unexpected task %+v", req.CreateTask)
	}
	if id, ok := resp.TaskID(); !ok || id != 42 {
		t.Fatalf("expected task id 42, got %d (%v)", id, ok)
	}
	if _, err := sess.Clone(context.Background(), Raw("/pm/config/global/obj/firewall/address/web-1", nil), CloneOptions{}); !errors.Is(err, ErrRequest) {
		t.Fatalf("expected ErrRequest for clone without changes, got %v", err)
	}
}

func TestSecretIsMasked(t *testing.T) {
	t.Parallel()

	s := NewSecret("a-very-long-session-token")
	if strings.Contains(s.String(), "session") {
		t.Fatalf("secret leaked: %s", s)
	}
	raw, err := json.Marshal(struct{ Token Secret }{s})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "session") {
		t.Fatalf("secret leaked in json: %s", raw)
	}
	if s.Reveal() != "a-very-long-session-token" {
		t.Fatal("reveal returned wrong value")
	}
	if NewSecret("short").String() != "****" {
		t.Fatalf("short secrets must be fully masked, got %q", NewSecret("short").String())
	}
}

func TestSecretDecodesFromText(t *testing.T) {
	t.Parallel()

	var s Secret
	if err := s.UnmarshalText([]byte("a-very-long-session-token")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Reveal() != "a-very-long-session-token" {
		t.Fatalf("unexpected value %q", s.Reveal())
	}
	masked, err := s.MarshalYAML()
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	if masked != s.String() || strings.Contains(s.String(), "session") {
		t.Fatalf("yaml form must be masked, got %v", masked)
	}
}
