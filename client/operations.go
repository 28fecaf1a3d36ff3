package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/xid"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/filter"
)

// GetOption customises a get request.
type GetOption func(*api.Params)

// WithFilter restricts the result set to rows matching e.
func WithFilter(e filter.Expr) GetOption {
	return func(p *api.Params) {
		p.Filter = filter.Generate(e)
	}
}

// WithFields limits the returned attributes.
func WithFields(fields ...string) GetOption {
	return func(p *api.Params) {
		p.Fields = append(p.Fields, fields...)
	}
}

// WithLoadsub toggles expansion of sub tables. Object requests load them by
// default.
func WithLoadsub(load bool) GetOption {
	return func(p *api.Params) {
		p.Loadsub = loadsubValue(load)
	}
}

// WithGetOptions sets the server-side option list (e.g. "count",
// "scope member").
func WithGetOptions(options ...string) GetOption {
	return func(p *api.Params) {
		p.Option = append(p.Option, options...)
	}
}

// Get reads objects. An empty result is ErrEmptyResult when the session
// raises on errors, otherwise a successful Response with an empty list.
func (s *Session) Get(ctx context.Context, req Request, opts ...GetOption) (*Response, error) {
	ctx = s.withCID(ctx)
	rr, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	p := rr.params
	p.Data = nil
	if rr.object != nil && p.Loadsub == nil {
		p.Loadsub = loadsubValue(true)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	call := &Call{Method: api.MethodGet, Params: []api.Params{p}, ADOM: rr.adom, Verbose: true}
	s.logDebugCtx(ctx, "client.get.start", "url", p.URL)
	resp, err := s.do(ctx, call)
	if err != nil {
		return s.finish(ctx, call, resp, err)
	}
	if isEmptyData(resp.Data) {
		if s.raiseOnError {
			return s.finish(ctx, call, resp, fmt.Errorf("%w: get %s", ErrEmptyResult, p.URL))
		}
		resp.Data = json.RawMessage("[]")
	}
	return resp, nil
}

// Add creates an object.
func (s *Session) Add(ctx context.Context, req Request) (*Response, error) {
	return s.mutate(ctx, api.MethodAdd, req)
}

// Set creates or replaces an object.
func (s *Session) Set(ctx context.Context, req Request) (*Response, error) {
	return s.mutate(ctx, api.MethodSet, req)
}

// Update changes attributes of an existing object.
func (s *Session) Update(ctx context.Context, req Request) (*Response, error) {
	return s.mutate(ctx, api.MethodUpdate, req)
}

// Delete removes an object. Object requests address the object by its
// first master key.
func (s *Session) Delete(ctx context.Context, req Request) (*Response, error) {
	return s.mutate(ctx, api.MethodDelete, req)
}

// Exec runs a command URL (device jobs, workspace actions, ...).
func (s *Session) Exec(ctx context.Context, req Request) (*Response, error) {
	ctx = s.withCID(ctx)
	rr, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	call := &Call{
		Method: api.MethodExec,
		Params: []api.Params{{URL: rr.params.URL, Data: rr.params.Data}},
		ADOM:   rr.adom,
	}
	s.logInfoCtx(ctx, "client.exec.start", "url", call.URL())
	resp, err := s.do(ctx, call)
	return s.finish(ctx, call, resp, err)
}

func (s *Session) mutate(ctx context.Context, method string, req Request) (*Response, error) {
	ctx = s.withCID(ctx)
	rr, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	p := api.Params{URL: rr.params.URL, Data: rr.params.Data}
	if method == api.MethodDelete {
		p = api.Params{URL: memberURL(rr)}
	}
	call := &Call{Method: method, Params: []api.Params{p}, ADOM: rr.adom}
	s.logInfoCtx(ctx, "client."+method+".start", "url", p.URL)
	resp, err := s.do(ctx, call)
	return s.finish(ctx, call, resp, err)
}

// CloneOptions controls Clone.
type CloneOptions struct {
	// Changes are the attributes that differ on the copy, at least the new
	// name. For raw requests they are merged over RawRequest.Data.
	Changes map[string]any
	// CreateTask runs the clone as a background task; wait for it with
	// Response.WaitForTask.
	CreateTask bool
	// TaskName overrides the generated task name.
	TaskName string
}

// Clone copies an object. Raw requests address the source object by URL;
// object requests use the object's first master key.
func (s *Session) Clone(ctx context.Context, req Request, opts CloneOptions) (*Response, error) {
	ctx = s.withCID(ctx)
	rr, err := s.resolve(req)
	if err != nil {
		return nil, err
	}
	source := rr.params.URL
	data := map[string]any{}
	if rr.object != nil {
		source = memberURL(rr)
	} else if m, ok := rr.params.Data.(map[string]any); ok {
		for k, v := range m {
			data[k] = v
		}
	} else if rr.params.Data != nil {
		return nil, fmt.Errorf("%w: clone data must be a map, got %T", ErrRequest, rr.params.Data)
	}
	for k, v := range opts.Changes {
		data[k] = v
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: clone needs at least the new name", ErrRequest)
	}
	call := &Call{
		Method: api.MethodClone,
		Params: []api.Params{{URL: source, Data: data}},
		ADOM:   rr.adom,
	}
	if opts.CreateTask {
		adom := rr.adom
		if adom == "" {
			adom = s.ADOM()
		}
		if strings.EqualFold(adom, "global") {
			adom = "root"
		}
		name := opts.TaskName
		if name == "" {
			name = fmt.Sprintf("cloning task of %s (%s)", lastSegment(source), xid.New().String())
		}
		call.CreateTask = &api.CreateTask{ADOM: adom, Name: name}
	}
	s.logInfoCtx(ctx, "client.clone.start", "url", source, "create_task", opts.CreateTask)
	resp, err := s.do(ctx, call)
	return s.finish(ctx, call, resp, err)
}

// Status reads /sys/status.
func (s *Session) Status(ctx context.Context) (api.SystemStatus, error) {
	var st api.SystemStatus
	resp, err := s.do(ctx, &Call{Method: api.MethodGet, Params: []api.Params{{URL: api.URLStatus}}})
	if err != nil {
		return st, err
	}
	if err := resp.Decode(&st); err != nil {
		return st, err
	}
	return st, nil
}

// Version returns the FortiManager firmware version string.
func (s *Session) Version(ctx context.Context) (string, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return "", err
	}
	if st.Version == "" {
		return "", fmt.Errorf("%w: /sys/status carried no version", ErrUnhandledServer)
	}
	return st.Version, nil
}

// ADOMs lists ADOM names, optionally filtered.
func (s *Session) ADOMs(ctx context.Context, f filter.Expr) ([]string, error) {
	p := api.Params{URL: api.URLADOMs, Fields: []string{"name"}, Filter: filter.Generate(f)}
	resp, err := s.do(ctx, &Call{Method: api.MethodGet, Params: []api.Params{p}, Verbose: true})
	if err != nil {
		return nil, err
	}
	rows, err := DecodeAll[struct {
		Name string `json:"name"`
	}](resp)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Name)
	}
	return names, nil
}

// Refresh re-reads obj from the server by its master keys and decodes the
// result into it.
func (s *Session) Refresh(ctx context.Context, obj MasterKeyed) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", ErrRequest)
	}
	expr, err := masterKeyFilter(obj.MasterKeys())
	if err != nil {
		return err
	}
	resp, err := s.Get(ctx, Obj(obj), WithFilter(expr))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("%w: refresh: %s", ErrUnhandledServer, resp.Error)
	}
	found, err := resp.FirstInto(obj)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: refresh found no matching object", ErrEmptyResult)
	}
	obj.Bind(s)
	return nil
}

// Fetch runs Get and decodes every row into T.
func Fetch[T any](ctx context.Context, s *Session, req Request, opts ...GetOption) ([]T, error) {
	resp, err := s.Get(ctx, req, opts...)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("fmg: get: %s", resp.Error)
	}
	return DecodeAll[T](resp)
}

func masterKeyFilter(keys []KeyValue) (filter.Expr, error) {
	var expr filter.Expr
	for _, kv := range keys {
		if kv.Field == "" || kv.Value == nil {
			return nil, fmt.Errorf("%w: master key %q has no value", ErrRequest, kv.Field)
		}
		f := filter.F(kv.Field, kv.Value)
		if expr == nil {
			expr = f
			continue
		}
		expr = filter.And(expr, f)
	}
	if expr == nil {
		return nil, fmt.Errorf("%w: object has no master keys", ErrRequest)
	}
	return expr, nil
}

// memberURL addresses a single object below its table URL.
func memberURL(rr resolvedRequest) string {
	mk, ok := rr.object.(MasterKeyed)
	if !ok {
		return rr.params.URL
	}
	keys := mk.MasterKeys()
	if len(keys) == 0 || keys[0].Value == nil {
		return rr.params.URL
	}
	value := fmt.Sprint(keys[0].Value)
	if value == "" {
		return rr.params.URL
	}
	return strings.TrimRight(rr.params.URL, "/") + "/" + url.PathEscape(value)
}

func lastSegment(u string) string {
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

func mutating(method string) bool {
	switch method {
	case api.MethodAdd, api.MethodSet, api.MethodUpdate, api.MethodDelete, api.MethodClone:
		return true
	}
	return false
}
