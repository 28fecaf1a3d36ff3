package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/fmg/internal/version"
)

func newVersionCommand() *cobra.Command {
	var short, full bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the fmgctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Current())
				return err
			}
			if full {
				return writeOutput(cmd.OutOrStdout(), "yaml", version.Describe())
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Module(), version.Current())
			return err
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	cmd.Flags().BoolVar(&full, "full", false, "print build details")
	cmd.MarkFlagsMutuallyExclusive("short", "full")
	return cmd
}
