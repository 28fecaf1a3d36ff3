package client

import (
	"crypto/tls"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"pkt.systems/pslog"

	"pkt.systems/fmg/internal/clock"
	"pkt.systems/fmg/internal/svcfields"
)

const (
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 120 * time.Second
	// DefaultPollInterval is the pause between task status polls.
	DefaultPollInterval = 2 * time.Second
	// DefaultTaskTimeout bounds WaitForTask when WaitOptions.Timeout is zero.
	DefaultTaskTimeout = 60 * time.Second
	// DefaultADOM is used when no ADOM is configured.
	DefaultADOM = "global"
)

// Option customises session construction.
type Option func(*Session)

// WithCredentials sets the login user and password.
func WithCredentials(user string, password Secret) Option {
	return func(s *Session) {
		s.user = user
		s.password = password
	}
}

// WithADOM selects the default ADOM for object requests. Empty keeps
// "global".
func WithADOM(adom string) Option {
	return func(s *Session) {
		if adom != "" {
			s.adom = adom
		}
	}
}

// WithHTTPClient supplies a custom HTTP client for the default transport.
// Use this when you need custom TLS roots, proxies, or connection pooling
// behaviour not covered by the defaults.
func WithHTTPClient(cli *http.Client) Option {
	return func(s *Session) {
		if cli != nil {
			s.httpClient = cli
		}
	}
}

// WithTransport replaces the HTTP transport entirely. WithHTTPClient,
// WithTLSConfig, WithInsecureSkipVerify and WithTimeout are ignored when set.
func WithTransport(t Transport) Option {
	return func(s *Session) {
		if t != nil {
			s.transport = t
		}
	}
}

// WithTLSConfig sets the TLS client configuration of the default HTTP
// client, typically custom roots for a self-signed FortiManager.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Session) {
		s.tlsConfig = cfg
	}
}

// WithInsecureSkipVerify disables server certificate verification on the
// default HTTP client.
func WithInsecureSkipVerify(skip bool) Option {
	return func(s *Session) {
		s.insecure = skip
	}
}

// WithTimeout overrides the per-request HTTP timeout (default 120s).
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRaiseOnError controls whether failed results are returned as errors
// (default) or as a Response with Success false.
func WithRaiseOnError(raise bool) Option {
	return func(s *Session) {
		s.raiseOnError = raise
	}
}

// WithDiscardOnClose makes Close skip the workspace commit.
func WithDiscardOnClose(discard bool) Option {
	return func(s *Session) {
		s.discardOnClose = discard
	}
}

// WithDiscardOnError controls whether CloseWithError discards pending
// workspace changes (default true).
func WithDiscardOnError(discard bool) Option {
	return func(s *Session) {
		s.discardOnError = discard
	}
}

// WithLogger supplies a logger for session diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(s *Session) {
		if logger == nil {
			s.logger = pslog.NoopLogger()
			return
		}
		if full, ok := logger.(pslog.Logger); ok {
			s.logger = svcfields.WithSubsystem(full, svcfields.ClientSession)
			return
		}
		s.logger = logger
	}
}

// WithClock overrides the clock used by the task poller.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithTracerProvider sets the tracer provider for RPC spans. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Session) {
		s.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider for request counters. The
// global provider is used by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Session) {
		s.meterProvider = mp
	}
}

// WithPollInterval changes the default task poll interval (2s).
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithPolicies appends extra policies inside the built-in auth and lock
// retry policies, closest to the transport.
func WithPolicies(policies ...Policy) Option {
	return func(s *Session) {
		s.extraPolicies = append(s.extraPolicies, policies...)
	}
}
