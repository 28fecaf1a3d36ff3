package client

import "encoding/json"

// Secret holds a password or session token. Its printed and marshalled forms
// are masked; use Reveal to read the value.
type Secret struct {
	value string
}

// NewSecret wraps s.
func NewSecret(s string) Secret {
	return Secret{value: s}
}

// Reveal returns the plaintext value.
func (s Secret) Reveal() string { return s.value }

// Empty reports whether no value is held.
func (s Secret) Empty() bool { return s.value == "" }

// String returns a masked representation safe for logs.
func (s Secret) String() string {
	return maskSecret(s.value)
}

// GoString keeps %#v from leaking the value.
func (s Secret) GoString() string {
	return "client.Secret{" + maskSecret(s.value) + "}"
}

// MarshalJSON never emits the plaintext value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(maskSecret(s.value))
}

// MarshalYAML never emits the plaintext value.
func (s Secret) MarshalYAML() (any, error) {
	return maskSecret(s.value), nil
}

// UnmarshalText stores text as the secret value, so config decoders
// (yaml.v3, encoding/json, mapstructure's text hook) can fill a Secret
// from a plain string.
func (s *Secret) UnmarshalText(text []byte) error {
	s.value = string(text)
	return nil
}

// maskSecret shows the first and last four characters of long values only.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 12 {
		return "****"
	}
	return v[:4] + "****" + v[len(v)-4:]
}
