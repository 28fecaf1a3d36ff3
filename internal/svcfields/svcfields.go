package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the canonical key for subsystem tags.
const SubsystemKey = pslog.TrustedString("sys")

// Subsystems used across the module.
const (
	ClientSession = "client.session"
	CLI           = "cli"
)

// Subsystem builds a dot-delimited subsystem path from parts, skipping empty
// fragments.
func Subsystem(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.Trim(part, ". "); part != "" {
			filtered = append(filtered, part)
		}
	}
	return strings.Join(filtered, ".")
}

// WithSubsystem tags every entry of logger with the subsystem built from
// parts. A nil logger becomes a no-op logger.
func WithSubsystem(logger pslog.Logger, parts ...string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	subsystem := Subsystem(parts...)
	if subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}
