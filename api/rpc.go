package api

import "encoding/json"

// JSON-RPC methods understood by the FortiManager endpoint.
const (
	MethodGet    = "get"
	MethodAdd    = "add"
	MethodSet    = "set"
	MethodUpdate = "update"
	MethodDelete = "delete"
	MethodExec   = "exec"
	MethodClone  = "clone"
)

// Well-known URLs used by the session layer.
const (
	URLLogin        = "/sys/login/user"
	URLLogout       = "/sys/logout"
	URLStatus       = "/sys/status"
	URLSystemGlobal = "/cli/global/system/global"
	URLTask         = "/task/task"
	URLADOMs        = "/dvmdb/adom"
)

// Request is the JSON-RPC envelope posted to /jsonrpc.
type Request struct {
	// ID is the per-session request identifier echoed by the server.
	ID int `json:"id"`
	// Method is one of the Method* constants.
	Method string `json:"method"`
	// Params carries one entry per batched operation.
	Params []Params `json:"params"`
	// Session is the opaque token returned by login. Empty for login itself.
	Session string `json:"session,omitempty"`
	// Verbose asks the server to render enum values as strings.
	Verbose int `json:"verbose,omitempty"`
	// CreateTask turns clone requests into background tasks.
	CreateTask *CreateTask `json:"create_task,omitempty"`
}

// CreateTask names the background task created for a clone request.
type CreateTask struct {
	ADOM string `json:"adom"`
	Name string `json:"name"`
}

// Params is a single operation inside a Request.
type Params struct {
	// URL addresses the object or table.
	URL string `json:"url"`
	// Data is the payload for add/set/update/exec/clone.
	Data any `json:"data,omitempty"`
	// Filter is a generated filter tree (see package filter).
	Filter []any `json:"filter,omitempty"`
	// Fields restricts the returned attributes.
	Fields []string `json:"fields,omitempty"`
	// Loadsub controls expansion of sub tables (0 or 1).
	Loadsub *int `json:"loadsub,omitempty"`
	// Option carries get options such as "count" or "syntax".
	Option []string `json:"option,omitempty"`
}

// Response is the JSON-RPC reply envelope.
type Response struct {
	ID      int      `json:"id,omitempty"`
	Result  []Result `json:"result"`
	Session string   `json:"session,omitempty"`
}

// Result is the outcome of one operation in a batch.
type Result struct {
	Status Status          `json:"status"`
	URL    string          `json:"url,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Status is the per-result status block. Code 0 means success.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OK reports whether the status represents success.
func (s Status) OK() bool {
	return s.Code == 0
}

// Credentials is the login payload.
type Credentials struct {
	User   string `json:"user"`
	Passwd string `json:"passwd"`
}

// SystemStatus is the subset of /sys/status consumed by the client.
type SystemStatus struct {
	Version  string `json:"Version"`
	Hostname string `json:"Hostname,omitempty"`
	Serial   string `json:"Serial Number,omitempty"`
}

// SystemGlobal is the subset of /cli/global/system/global used to detect
// workspace mode.
type SystemGlobal struct {
	WorkspaceMode json.RawMessage `json:"workspace-mode"`
	ADOMStatus    json.RawMessage `json:"adom-status"`
}

// WorkspaceEnabled reports whether workspace-mode is anything but disabled.
// The server renders the value as 0/1/2 or, with verbose on, as
// "disable"/"normal"/"workflow".
func (g SystemGlobal) WorkspaceEnabled() bool {
	return enumEnabled(g.WorkspaceMode)
}

// ADOMsEnabled reports whether adom-status is enabled.
func (g SystemGlobal) ADOMsEnabled() bool {
	return enumEnabled(g.ADOMStatus)
}

func enumEnabled(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "", "0", "disable", "disabled":
			return false
		}
		return true
	}
	return false
}
