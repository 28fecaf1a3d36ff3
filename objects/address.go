package objects

import (
	"context"
	"fmt"

	"pkt.systems/fmg/client"
)

// Address types understood by the server.
const (
	AddressIPMask   = "ipmask"
	AddressIPRange  = "iprange"
	AddressFQDN     = "fqdn"
	AddressWildcard = "wildcard"
	AddressGeo      = "geography"
)

const maxAddressName = 128

// Address is a firewall address object.
type Address struct {
	Base

	Name                string `json:"name"`
	Type                string `json:"type,omitempty"`
	Subnet              Subnet `json:"subnet,omitempty"`
	StartIP             string `json:"start-ip,omitempty"`
	EndIP               string `json:"end-ip,omitempty"`
	FQDN                string `json:"fqdn,omitempty"`
	Country             string `json:"country,omitempty"`
	AssociatedInterface OneOf  `json:"associated-interface,omitempty"`
	AllowRouting        Toggle `json:"allow-routing,omitempty"`
	Comment             string `json:"comment,omitempty"`
	UUID                string `json:"uuid,omitempty"`
}

// NewAddress returns an ipmask address for subnet.
func NewAddress(name, subnet string) (*Address, error) {
	parsed, err := ParseSubnet(subnet)
	if err != nil {
		return nil, err
	}
	return &Address{Name: name, Type: AddressIPMask, Subnet: parsed}, nil
}

// URL implements client.Object.
func (a *Address) URL(scope client.Scope) (string, error) {
	return "/pm/config/" + string(scope) + "/obj/firewall/address", nil
}

// Payload implements client.Object.
func (a *Address) Payload() (map[string]any, error) {
	if a.Name == "" {
		return nil, fmt.Errorf("objects: address name required")
	}
	if len(a.Name) > maxAddressName {
		return nil, fmt.Errorf("objects: address name longer than %d characters", maxAddressName)
	}
	out := map[string]any{"name": a.Name}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("type", a.Type)
	set("subnet", string(a.Subnet))
	set("start-ip", a.StartIP)
	set("end-ip", a.EndIP)
	set("fqdn", a.FQDN)
	set("country", a.Country)
	set("associated-interface", string(a.AssociatedInterface))
	set("allow-routing", string(a.AllowRouting))
	set("comment", a.Comment)
	set("uuid", a.UUID)
	return out, nil
}

// MasterKeys implements client.MasterKeyed.
func (a *Address) MasterKeys() []client.KeyValue {
	return []client.KeyValue{{Field: "name", Value: a.Name}}
}

// Add creates the address through the bound session.
func (a *Address) Add(ctx context.Context) (*client.Response, error) {
	s, err := a.bound()
	if err != nil {
		return nil, err
	}
	return s.Add(ctx, client.Obj(a))
}

// Set creates or replaces the address.
func (a *Address) Set(ctx context.Context) (*client.Response, error) {
	s, err := a.bound()
	if err != nil {
		return nil, err
	}
	return s.Set(ctx, client.Obj(a))
}

// Update changes the address.
func (a *Address) Update(ctx context.Context) (*client.Response, error) {
	s, err := a.bound()
	if err != nil {
		return nil, err
	}
	return s.Update(ctx, client.Obj(a))
}

// Delete removes the address.
func (a *Address) Delete(ctx context.Context) (*client.Response, error) {
	s, err := a.bound()
	if err != nil {
		return nil, err
	}
	return s.Delete(ctx, client.Obj(a))
}

// Clone copies the address under a new name with optional extra changes.
func (a *Address) Clone(ctx context.Context, newName string, opts client.CloneOptions) (*client.Response, error) {
	s, err := a.bound()
	if err != nil {
		return nil, err
	}
	changes := map[string]any{"name": newName}
	for k, v := range opts.Changes {
		changes[k] = v
	}
	opts.Changes = changes
	return s.Clone(ctx, client.Obj(a), opts)
}

// Refresh reloads the address from the server.
func (a *Address) Refresh(ctx context.Context) error {
	s, err := a.bound()
	if err != nil {
		return err
	}
	return s.Refresh(ctx, a)
}
