package client

import (
	"fmt"
	"strings"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/filter"
)

// Scope is the URL fragment an object is evaluated against: "global" or
// "adom/<name>".
type Scope string

// ScopeGlobal is the global database scope.
const ScopeGlobal Scope = "global"

// ScopeFor returns the scope for an ADOM name. "global" (any case) maps to
// ScopeGlobal and an already prefixed "adom/<name>" is kept as is.
func ScopeFor(adom string) Scope {
	adom = strings.Trim(strings.TrimSpace(adom), "/")
	if strings.EqualFold(adom, "global") {
		return ScopeGlobal
	}
	adom = strings.TrimPrefix(adom, "adom/")
	return Scope("adom/" + adom)
}

// ADOM returns the ADOM name of the scope ("global" for the global scope).
func (s Scope) ADOM() string {
	if s == ScopeGlobal {
		return "global"
	}
	return strings.TrimPrefix(string(s), "adom/")
}

// Object is a high-level FortiManager object. The session renders it into a
// URL and a payload; implementations keep their own field aliases (dashes
// and spaces as the server spells them).
type Object interface {
	// URL returns the request URL for the object within scope.
	URL(scope Scope) (string, error)
	// Payload returns the object as server field name -> value.
	Payload() (map[string]any, error)
	// ObjectScope returns the ADOM the object belongs to, or "" to use the
	// session default.
	ObjectScope() string
	// Bind attaches the owning session so the object can offer
	// Add/Update/Delete helpers.
	Bind(s *Session)
}

// MasterKeyed objects can be refreshed and cloned by their primary key.
type MasterKeyed interface {
	Object
	// MasterKeys returns the primary key field names and values in order.
	MasterKeys() []KeyValue
}

// KeyValue is one master key field.
type KeyValue struct {
	Field string
	Value any
}

// Request is the input of every verb: either a RawRequest or an
// ObjectRequest. It is resolved once at the API boundary.
type Request interface {
	resolve(s *Session) (resolvedRequest, error)
}

// RawRequest addresses the API by URL, like the low-level JSON form.
type RawRequest struct {
	URL     string
	Data    any
	Filter  filter.Expr
	Fields  []string
	Loadsub *bool
	Options []string
}

// ObjectRequest wraps a high-level object.
type ObjectRequest struct {
	Object Object
	// Scope overrides the object's own scope.
	Scope string
}

// Raw is a convenience constructor for RawRequest.
func Raw(url string, data any) RawRequest {
	return RawRequest{URL: url, Data: data}
}

// Obj is a convenience constructor for ObjectRequest.
func Obj(o Object) ObjectRequest {
	return ObjectRequest{Object: o}
}

type resolvedRequest struct {
	params api.Params
	// adom is known for object requests; raw requests derive it from the URL
	// only when a lock is needed.
	adom   string
	object Object
}

func (r RawRequest) resolve(_ *Session) (resolvedRequest, error) {
	if strings.TrimSpace(r.URL) == "" {
		return resolvedRequest{}, fmt.Errorf("%w: url required", ErrRequest)
	}
	p := api.Params{
		URL:    r.URL,
		Data:   r.Data,
		Filter: filter.Generate(r.Filter),
		Fields: r.Fields,
		Option: r.Options,
	}
	if r.Loadsub != nil {
		p.Loadsub = loadsubValue(*r.Loadsub)
	}
	return resolvedRequest{params: p}, nil
}

func (r ObjectRequest) resolve(s *Session) (resolvedRequest, error) {
	if r.Object == nil {
		return resolvedRequest{}, fmt.Errorf("%w: nil object", ErrRequest)
	}
	adom := r.Scope
	if adom == "" {
		adom = r.Object.ObjectScope()
	}
	if adom == "" {
		adom = s.ADOM()
	}
	scope := ScopeFor(adom)
	url, err := r.Object.URL(scope)
	if err != nil {
		return resolvedRequest{}, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	payload, err := r.Object.Payload()
	if err != nil {
		return resolvedRequest{}, fmt.Errorf("%w: %v", ErrRequest, err)
	}
	r.Object.Bind(s)
	p := api.Params{URL: url}
	if len(payload) > 0 {
		p.Data = payload
	}
	return resolvedRequest{params: p, adom: scope.ADOM(), object: r.Object}, nil
}

func loadsubValue(v bool) *int {
	n := 0
	if v {
		n = 1
	}
	return &n
}

// Bool returns a pointer to v, for RawRequest.Loadsub.
func Bool(v bool) *bool { return &v }
