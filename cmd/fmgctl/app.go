package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/fmg"
	"pkt.systems/fmg/client"
	"pkt.systems/fmg/internal/pathutil"
	"pkt.systems/fmg/internal/svcfields"
	"pkt.systems/pslog"
)

// viper keys match the yaml tags of fmg.Config so a generated config file
// feeds straight into Unmarshal.
const (
	keyConfig         = "config"
	keyBaseURL        = "base_url"
	keyUsername       = "username"
	keyPassword       = "password"
	keyADOM           = "adom"
	keyInsecure       = "insecure_skip_verify"
	keyCAFile         = "ca_file"
	keyTimeout        = "timeout"
	keyRaiseOnError   = "raise_on_error"
	keyDiscardOnClose = "discard_on_close"
	keyDiscardOnError = "discard_on_error"
	keyPollInterval   = "poll_interval"
	keyTaskTimeout    = "task_timeout"
	keyLogLevel       = "log_level"
	keyOutput         = "output"
	keyOTLPEndpoint   = "otlp_endpoint"
	keyMetricsListen  = "metrics_listen"
	keyRuntimeMetrics = "runtime_metrics"

	closeTimeout = 30 * time.Second
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("FMG_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.WarnLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "fmgctl")
	cmd := newApp(baseLogger).rootCommand()
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "fmgctl: %s\n", err)
		}
		return 1
	}
	return 0
}

// app holds the state shared by every fmgctl command.
type app struct {
	logger pslog.Logger
	v      *viper.Viper
	tel    *telemetryBundle
	// transport replaces the HTTP transport of every session when set.
	transport client.Transport
}

func newApp(logger pslog.Logger) *app {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &app{logger: logger, v: viper.New()}
}

func (a *app) rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fmgctl",
		Short:         "fmgctl drives a FortiManager through its JSON-RPC API",
		SilenceErrors: true,
		SilenceUsage:  true,
		Example: `
  # credentials from the environment
  FMG_BASE_URL=https://fmg.example FMG_USERNAME=api FMG_PASSWORD=secret fmgctl status

  # read addresses in an ADOM with a filter
  fmgctl --adom branch get /pm/config/adom/branch/obj/firewall/address --filter 'name like "web%"'

  # add a device and wait for the task
  fmgctl device add fw-01 --ip 192.0.2.10 --device-user admin --wait
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.prepare(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.fmg/"+fmg.DefaultConfigFile+")")
	flags.String("url", "", "FortiManager base URL")
	flags.StringP("user", "u", "", "API user")
	flags.String("password", "", "API password (prefer FMG_PASSWORD)")
	flags.StringP("adom", "a", fmg.DefaultADOM, "default ADOM")
	flags.Bool("insecure", false, "skip server certificate verification")
	flags.String("ca-file", "", "PEM bundle of certificates to trust (optionally with a client certificate and key)")
	flags.Duration("timeout", fmg.DefaultTimeout, "per request timeout")
	flags.Bool("raise-on-error", true, "fail on error results instead of printing them")
	flags.Bool("discard-on-close", false, "skip the workspace commit when the session closes")
	flags.Bool("discard-on-error", true, "skip the workspace commit when a command fails")
	flags.Duration("poll-interval", fmg.DefaultPollInterval, "pause between task polls")
	flags.Duration("task-timeout", fmg.DefaultTaskTimeout, "maximum time to wait for a task")
	flags.String("log-level", "", "log level (trace|debug|info|warn|error); overrides FMG_LOG_LEVEL")
	flags.StringP("output", "o", "json", "output format (json|yaml)")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint for traces (grpc://host:4317, https://host:4318/v1/traces)")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address while the command runs")
	flags.Bool("runtime-metrics", false, "add Go runtime metrics to the Prometheus endpoint")

	a.bind(flags, keyConfig, "config")
	a.bind(flags, keyBaseURL, "url")
	a.bind(flags, keyUsername, "user")
	a.bind(flags, keyPassword, "password")
	a.bind(flags, keyADOM, "adom")
	a.bind(flags, keyInsecure, "insecure")
	a.bind(flags, keyCAFile, "ca-file")
	a.bind(flags, keyTimeout, "timeout")
	a.bind(flags, keyRaiseOnError, "raise-on-error")
	a.bind(flags, keyDiscardOnClose, "discard-on-close")
	a.bind(flags, keyDiscardOnError, "discard-on-error")
	a.bind(flags, keyPollInterval, "poll-interval")
	a.bind(flags, keyTaskTimeout, "task-timeout")
	a.bind(flags, keyLogLevel, "log-level")
	a.bind(flags, keyOutput, "output")
	a.bind(flags, keyOTLPEndpoint, "otlp-endpoint")
	a.bind(flags, keyMetricsListen, "metrics-listen")
	a.bind(flags, keyRuntimeMetrics, "runtime-metrics")

	a.v.SetEnvPrefix("FMG")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd.AddCommand(
		newVersionCommand(),
		newConfigCommand(),
		newFilterCommand(a),
		newStatusCommand(a),
		newADOMsCommand(a),
		newGetCommand(a),
		newMutateCommand(a, "add", "Create objects at a URL"),
		newMutateCommand(a, "set", "Create or replace objects at a URL"),
		newMutateCommand(a, "update", "Change objects at a URL"),
		newDeleteCommand(a),
		newExecCommand(a),
		newCloneCommand(a),
		newLockCommand(a),
		newUnlockCommand(a),
		newCommitCommand(a),
		newTaskCommand(a),
		newAddressCommand(a),
		newDeviceCommand(a),
	)
	return cmd
}

func (a *app) bind(flags *pflag.FlagSet, key, name string) {
	flag := flags.Lookup(name)
	if flag == nil {
		panic(fmt.Sprintf("flag %q not found", name))
	}
	if err := a.v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// prepare loads the config file, applies the log level and starts telemetry.
func (a *app) prepare(cmd *cobra.Command) error {
	configFile, err := a.loadConfigFile()
	if err != nil {
		return err
	}
	if lvl := strings.TrimSpace(a.v.GetString(keyLogLevel)); lvl != "" {
		level, ok := pslog.ParseLevel(lvl)
		if !ok {
			return fmt.Errorf("invalid log level %q", lvl)
		}
		a.logger = a.logger.LogLevel(level)
	}
	cliLogger := svcfields.WithSubsystem(a.logger, svcfields.CLI)
	if configFile != "" {
		cliLogger.Debug("cli.config.loaded", "path", configFile)
	}
	switch a.v.GetString(keyOutput) {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", a.v.GetString(keyOutput))
	}
	tel, err := setupTelemetry(cmd.Context(), telemetryConfig{
		otlpEndpoint:   a.v.GetString(keyOTLPEndpoint),
		metricsListen:  a.v.GetString(keyMetricsListen),
		runtimeMetrics: a.v.GetBool(keyRuntimeMetrics),
	}, svcfields.WithSubsystem(a.logger, "cli.telemetry"))
	if err != nil {
		return err
	}
	a.tel = tel
	return nil
}

func (a *app) shutdown() error {
	if a.tel == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.tel.Shutdown(ctx)
	a.tel = nil
	return err
}

func (a *app) loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(a.v.GetString(keyConfig))
	explicit := cfgPath != ""
	if cfgPath == "" {
		if candidate, err := fmg.DefaultConfigPath(); err == nil {
			cfgPath = candidate
		}
	}
	if cfgPath == "" {
		return "", nil
	}
	expanded, err := pathutil.Expand(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	a.v.SetConfigFile(expanded)
	a.v.SetConfigType("yaml")
	if err := a.v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

// config resolves flags, environment and config file into a validated
// fmg.Config.
func (a *app) config() (fmg.Config, error) {
	var cfg fmg.Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := a.v.Unmarshal(&cfg, hook); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	caFile, err := pathutil.Expand(cfg.CAFile)
	if err != nil {
		return cfg, fmt.Errorf("expand ca_file %q: %w", cfg.CAFile, err)
	}
	cfg.CAFile = caFile
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// withSession opens a session, runs fn and closes the session. A failing fn
// closes with CloseWithError so pending workspace changes follow
// discard_on_error.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *client.Session) error) error {
	return a.runSession(cmd, false, fn)
}

// runSession is withSession with the close-time commit skipped when discard
// is set.
func (a *app) runSession(cmd *cobra.Command, discard bool, fn func(ctx context.Context, s *client.Session) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	opts := []client.Option{client.WithLogger(a.logger)}
	opts = append(opts, a.tel.sessionOptions()...)
	if a.transport != nil {
		opts = append(opts, client.WithTransport(a.transport))
	}
	ctx := cmd.Context()
	s, err := fmg.Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	runErr := fn(ctx, s)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if runErr != nil {
		_ = s.CloseWithError(closeCtx, runErr)
		return runErr
	}
	return s.Close(closeCtx, discard || cfg.DiscardOnClose)
}

// render prints v as JSON or YAML on the command's stdout.
func (a *app) render(cmd *cobra.Command, v any) error {
	return writeOutput(cmd.OutOrStdout(), a.v.GetString(keyOutput), v)
}

func writeOutput(w io.Writer, format string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	if format == "yaml" {
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encode output: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(json.RawMessage(raw))
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
