package client

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// MaxCorrelationIDLength bounds the length of caller-supplied correlation identifiers.
const MaxCorrelationIDLength = 128

const headerCorrelationID = "X-Correlation-Id"

type correlationContextKey struct{}

// NormalizeCorrelationID trims and validates an identifier.
func NormalizeCorrelationID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxCorrelationIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// WithCorrelationID overrides the session correlation id for requests issued
// with ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	normalized, ok := NormalizeCorrelationID(id)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, correlationContextKey{}, normalized)
}

// CorrelationIDFromContext extracts the correlation identifier carried by ctx, if present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationContextKey{}).(string); ok {
		return v
	}
	return ""
}

// GenerateCorrelationID creates a new time-ordered correlation identifier.
func GenerateCorrelationID() string {
	return uuid.Must(uuid.NewV7()).String()
}
