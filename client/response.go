package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"pkt.systems/fmg/api"
)

// Response is the result of one verb call.
type Response struct {
	// Data is the data of the single result (or of the first result for
	// batched calls). It is an empty JSON array for empty get results.
	Data json.RawMessage
	// Results holds every per-item result of the call.
	Results []api.Result
	// Status is the status of the first result.
	Status api.Status
	// Success is true when every result reported code 0.
	Success bool
	// Error carries the error text when the session does not raise on
	// errors and the call failed.
	Error string

	session *Session
}

// OK reports Success, mirroring truthiness of a response.
func (r *Response) OK() bool {
	return r != nil && r.Success
}

// Session returns the session that produced the response, if any.
func (r *Response) Session() *Session {
	if r == nil {
		return nil
	}
	return r.session
}

// First returns the first element of an array result, the result itself for
// object results, or nil when empty.
func (r *Response) First() json.RawMessage {
	if r == nil || isEmptyData(r.Data) {
		return nil
	}
	trimmed := bytes.TrimSpace(r.Data)
	if trimmed[0] != '[' {
		return trimmed
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil || len(items) == 0 {
		return nil
	}
	return items[0]
}

// FirstInto decodes First into v. It reports false when there is nothing to
// decode.
func (r *Response) FirstInto(v any) (bool, error) {
	first := r.First()
	if first == nil {
		return false, nil
	}
	if err := json.Unmarshal(first, v); err != nil {
		return false, fmt.Errorf("fmg: decode result: %w", err)
	}
	return true, nil
}

// Decode unmarshals Data into v.
func (r *Response) Decode(v any) error {
	if r == nil || isEmptyData(r.Data) {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("fmg: decode result: %w", err)
	}
	return nil
}

// DecodeAll decodes Data as a list of T. A single object result yields a
// one element slice.
func DecodeAll[T any](r *Response) ([]T, error) {
	if r == nil || isEmptyData(r.Data) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(r.Data)
	if trimmed[0] != '[' {
		var one T
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("fmg: decode result: %w", err)
		}
		return []T{one}, nil
	}
	var out []T
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("fmg: decode result: %w", err)
	}
	return out, nil
}

// TaskID returns the task id carried under "taskid" or "task" in an object
// result.
func (r *Response) TaskID() (int, bool) {
	if r == nil || isEmptyData(r.Data) {
		return 0, false
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return 0, false
	}
	for _, key := range []string{"taskid", "task"} {
		raw, ok := data[key]
		if !ok {
			continue
		}
		var id int
		if err := json.Unmarshal(raw, &id); err == nil {
			return id, true
		}
		var s json.Number
		if err := json.Unmarshal(raw, &s); err == nil {
			if n, err := s.Int64(); err == nil {
				return int(n), true
			}
		}
	}
	return 0, false
}

// WaitForTask polls the task referenced by this response through the
// session that produced it. Failed responses and responses without a
// session return immediately.
func (r *Response) WaitForTask(ctx context.Context, opts WaitOptions) (api.TaskState, error) {
	if !r.OK() || r.session == nil {
		return "", nil
	}
	return r.session.WaitForTask(ctx, r, opts)
}

func isEmptyData(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "[]", "{}", `""`:
		return true
	}
	return false
}

func newResponse(s *Session, results []api.Result) *Response {
	resp := &Response{Results: results, Success: true, session: s}
	for _, res := range results {
		if !res.Status.OK() {
			resp.Success = false
		}
	}
	if len(results) > 0 {
		resp.Data = results[0].Data
		resp.Status = results[0].Status
	}
	return resp
}
