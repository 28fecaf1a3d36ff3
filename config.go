package fmg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/fmg/client"
	"pkt.systems/fmg/tlsutil"
)

const (
	// DefaultADOM is the ADOM used when none is configured.
	DefaultADOM = client.DefaultADOM
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = client.DefaultTimeout
	// DefaultPollInterval is the pause between task polls.
	DefaultPollInterval = client.DefaultPollInterval
	// DefaultTaskTimeout bounds task waits started from the CLI.
	DefaultTaskTimeout = client.DefaultTaskTimeout
	// DefaultConfigFile is the config file name inside DefaultConfigDir.
	DefaultConfigFile = "config.yaml"
)

// Config captures the settings of one FortiManager connection. Zero values
// are filled in by Validate.
type Config struct {
	// BaseURL is the FortiManager address; "/jsonrpc" is appended when
	// missing.
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Username string `yaml:"username" mapstructure:"username"`
	// Password decodes from a plain string but only prints and marshals
	// masked.
	Password client.Secret `yaml:"password" mapstructure:"password"`
	ADOM     string        `yaml:"adom" mapstructure:"adom"`
	// InsecureSkipVerify turns off server certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	// CAFile is a PEM bundle trusted for the FortiManager certificate. It
	// may also carry a client certificate and key.
	CAFile  string        `yaml:"ca_file,omitempty" mapstructure:"ca_file"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// RaiseOnError defaults to true.
	RaiseOnError   *bool `yaml:"raise_on_error,omitempty" mapstructure:"raise_on_error"`
	DiscardOnClose bool  `yaml:"discard_on_close" mapstructure:"discard_on_close"`
	// DiscardOnError defaults to true.
	DiscardOnError *bool         `yaml:"discard_on_error,omitempty" mapstructure:"discard_on_error"`
	PollInterval   time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	TaskTimeout    time.Duration `yaml:"task_timeout" mapstructure:"task_timeout"`
}

// Validate normalises defaults and rejects unusable settings.
func (c *Config) Validate() error {
	endpoint, err := client.NormalizeEndpoint(c.BaseURL)
	if err != nil {
		return fmt.Errorf("fmg: config: %w", err)
	}
	c.BaseURL = endpoint
	c.Username = strings.TrimSpace(c.Username)
	if c.Username == "" {
		return fmt.Errorf("fmg: config: username required")
	}
	c.CAFile = strings.TrimSpace(c.CAFile)
	c.ADOM = strings.TrimSpace(c.ADOM)
	if c.ADOM == "" {
		c.ADOM = DefaultADOM
	}
	if c.Timeout < 0 || c.PollInterval < 0 || c.TaskTimeout < 0 {
		return fmt.Errorf("fmg: config: durations must not be negative")
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.RaiseOnError == nil {
		c.RaiseOnError = boolPtr(true)
	}
	if c.DiscardOnError == nil {
		c.DiscardOnError = boolPtr(true)
	}
	return nil
}

// Options translates the config into session options. Call Validate first.
func (c Config) Options() []client.Option {
	opts := []client.Option{
		client.WithCredentials(c.Username, c.Password),
		client.WithADOM(c.ADOM),
		client.WithInsecureSkipVerify(c.InsecureSkipVerify),
		client.WithTimeout(c.Timeout),
		client.WithDiscardOnClose(c.DiscardOnClose),
		client.WithPollInterval(c.PollInterval),
	}
	if c.RaiseOnError != nil {
		opts = append(opts, client.WithRaiseOnError(*c.RaiseOnError))
	}
	if c.DiscardOnError != nil {
		opts = append(opts, client.WithDiscardOnError(*c.DiscardOnError))
	}
	return opts
}

// New validates cfg and builds an unopened session. Extra options apply
// after the config's own.
func New(cfg Config, opts ...client.Option) (*client.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := cfg.Options()
	if cfg.CAFile != "" {
		bundle, err := tlsutil.LoadBundle(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("fmg: config: ca_file: %w", err)
		}
		base = append(base, client.WithTLSConfig(bundle.ClientConfig()))
	}
	return client.New(cfg.BaseURL, append(base, opts...)...)
}

// Open builds a session from cfg and logs in.
func Open(ctx context.Context, cfg Config, opts ...client.Option) (*client.Session, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DefaultConfigDir returns the default configuration directory ($HOME/.fmg),
// overridable with FMG_CONFIG_DIR.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("FMG_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".fmg"), nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

func boolPtr(v bool) *bool { return &v }
