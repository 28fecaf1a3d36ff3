package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/client"
)

// ADOM is an administrative domain as listed under /dvmdb/adom. Scope does
// not apply to it.
type ADOM struct {
	Base

	Name        string          `json:"name"`
	Description string          `json:"desc,omitempty"`
	OSVersion   json.RawMessage `json:"os_ver,omitempty"`
	Release     json.RawMessage `json:"mr,omitempty"`
	State       json.RawMessage `json:"state,omitempty"`
}

// URL implements client.Object.
func (a *ADOM) URL(client.Scope) (string, error) {
	return api.URLADOMs, nil
}

// Payload implements client.Object.
func (a *ADOM) Payload() (map[string]any, error) {
	if a.Name == "" {
		return nil, fmt.Errorf("objects: adom name required")
	}
	out := map[string]any{"name": a.Name}
	if a.Description != "" {
		out["desc"] = a.Description
	}
	return out, nil
}

// MasterKeys implements client.MasterKeyed.
func (a *ADOM) MasterKeys() []client.KeyValue {
	return []client.KeyValue{{Field: "name", Value: a.Name}}
}

// Refresh reloads the ADOM from the server.
func (a *ADOM) Refresh(ctx context.Context) error {
	s, err := a.bound()
	if err != nil {
		return err
	}
	return s.Refresh(ctx, a)
}
