// Package objects holds high-level FortiManager objects that plug into
// client.ObjectRequest. Each type renders its own URL for a scope and its
// payload with the server's field spelling, and offers Add/Update/Delete
// style helpers once bound to a session.
package objects

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"pkt.systems/fmg/client"
)

// Base carries the scope and the owning session shared by every object.
// Embed it to satisfy the ObjectScope and Bind parts of client.Object.
type Base struct {
	scope   string
	session *client.Session
}

// SetScope pins the object to an ADOM ("global" or a name). Empty falls
// back to the session default.
func (b *Base) SetScope(adom string) { b.scope = adom }

// ObjectScope implements client.Object.
func (b *Base) ObjectScope() string { return b.scope }

// Bind implements client.Object.
func (b *Base) Bind(s *client.Session) { b.session = s }

// Session returns the bound session or nil.
func (b *Base) Session() *client.Session { return b.session }

func (b *Base) bound() (*client.Session, error) {
	if b.session == nil {
		return nil, client.ErrNotBound
	}
	return b.session, nil
}

// Subnet is an IPv4 address with prefix length ("10.0.0.1/24"). The server
// reports subnets as [address, netmask]; both forms decode.
type Subnet string

// ParseSubnet accepts "a.b.c.d/len", "a.b.c.d/m.m.m.m" or a bare address
// (treated as /32) and returns the canonical "a.b.c.d/len" form. Host bits
// are kept.
func ParseSubnet(s string) (Subnet, error) {
	s = strings.TrimSpace(s)
	host, mask, hasMask := strings.Cut(s, "/")
	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return "", fmt.Errorf("objects: invalid subnet address %q", s)
	}
	bits := 32
	if hasMask {
		if strings.Contains(mask, ".") {
			ip := net.ParseIP(mask).To4()
			if ip == nil {
				return "", fmt.Errorf("objects: invalid netmask %q", mask)
			}
			ones, total := net.IPMask(ip).Size()
			if total == 0 {
				return "", fmt.Errorf("objects: non-contiguous netmask %q", mask)
			}
			bits = ones
		} else if _, err := fmt.Sscanf(mask, "%d", &bits); err != nil || bits < 0 || bits > 32 {
			return "", fmt.Errorf("objects: invalid prefix length %q", mask)
		}
	}
	return Subnet(netip.PrefixFrom(addr, bits).String()), nil
}

// UnmarshalJSON accepts a string or an [address, netmask] pair.
func (s *Subnet) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err == nil {
		if len(pair) == 0 {
			*s = ""
			return nil
		}
		parsed, err := ParseSubnet(strings.Join(pair, "/"))
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var text string
	if err := json.Unmarshal(b, &text); err != nil {
		return fmt.Errorf("objects: subnet: %w", err)
	}
	if text == "" {
		*s = ""
		return nil
	}
	parsed, err := ParseSubnet(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// OneOf is a string the server sometimes wraps in a single element list.
type OneOf string

// UnmarshalJSON keeps the first element of a list.
func (o *OneOf) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*o = ""
		if len(list) > 0 {
			*o = OneOf(list[0])
		}
		return nil
	}
	var text string
	if err := json.Unmarshal(b, &text); err != nil {
		return fmt.Errorf("objects: %w", err)
	}
	*o = OneOf(text)
	return nil
}

// Toggle is a disable/enable flag that the server sends as 0/1 without
// verbose output.
type Toggle string

// Toggle values.
const (
	Disable Toggle = "disable"
	Enable  Toggle = "enable"
)

// UnmarshalJSON accepts the name or its index.
func (t *Toggle) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		switch n {
		case 0:
			*t = Disable
		case 1:
			*t = Enable
		default:
			return fmt.Errorf("objects: toggle index %d out of range", n)
		}
		return nil
	}
	var text string
	if err := json.Unmarshal(b, &text); err != nil {
		return fmt.Errorf("objects: toggle: %w", err)
	}
	*t = Toggle(text)
	return nil
}
