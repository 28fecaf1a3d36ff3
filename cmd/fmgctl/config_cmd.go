package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/fmg"
	"pkt.systems/fmg/client"
	"pkt.systems/fmg/internal/pathutil"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage fmgctl configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.fmg/" + fmg.DefaultConfigFile
	if path, err := fmg.DefaultConfigPath(); err == nil {
		defaultOutput = path
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default fmgctl configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if outPath == "" {
				path, err := fmg.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = path
			}
			expanded, err := pathutil.Expand(outPath)
			if err != nil {
				return fmt.Errorf("expand %q: %w", outPath, err)
			}
			outPath = expanded
			if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

// configDefaults mirrors the viper keys of the root command.
type configDefaults struct {
	BaseURL            string        `yaml:"base_url"`
	Username           string        `yaml:"username"`
	Password           client.Secret `yaml:"password"`
	ADOM               string        `yaml:"adom"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	CAFile             string        `yaml:"ca_file"`
	Timeout            string        `yaml:"timeout"`
	RaiseOnError       bool          `yaml:"raise_on_error"`
	DiscardOnClose     bool          `yaml:"discard_on_close"`
	DiscardOnError     bool          `yaml:"discard_on_error"`
	PollInterval       string        `yaml:"poll_interval"`
	TaskTimeout        string        `yaml:"task_timeout"`
	LogLevel           string        `yaml:"log_level"`
	Output             string        `yaml:"output"`
	OTLPEndpoint       string        `yaml:"otlp_endpoint"`
	MetricsListen      string        `yaml:"metrics_listen"`
}

func defaultConfigYAML() ([]byte, error) {
	defaults := configDefaults{
		BaseURL:        "https://fortimanager.example.net",
		Username:       "api-user",
		ADOM:           fmg.DefaultADOM,
		Timeout:        fmg.DefaultTimeout.String(),
		RaiseOnError:   true,
		DiscardOnError: true,
		PollInterval:   fmg.DefaultPollInterval.String(),
		TaskTimeout:    fmg.DefaultTaskTimeout.String(),
		LogLevel:       "warn",
		Output:         "json",
	}
	out, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	header := "# fmgctl configuration. Keep the password in FMG_PASSWORD rather than here.\n"
	return append([]byte(header), out...), nil
}
