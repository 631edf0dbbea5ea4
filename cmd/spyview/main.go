// spyview records sampled Python stack traces and serves them to a flame
// graph viewer over HTTP or to MCP clients over stdio.
//
// Usage:
//
//	spyview serve [flags]    HTTP viewer, /metrics and /profile downloads
//	spyview mcp [flags]      MCP tools on stdin/stdout
//	spyview dump [flags]     print a few sampled batches and exit
//	spyview version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"spyview/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg, envErr := config.Load()

	rootCmd := &cobra.Command{
		Use:          "spyview",
		Short:        "Live flame graphs for sampled Python programs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return multierr.Combine(envErr, cfg.Validate())
		},
	}
	cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newServeCommand(&cfg),
		newMCPCommand(&cfg),
		newDumpCommand(&cfg),
		&cobra.Command{
			Use:   "version",
			Short: "Print the spyview version",
			Args:  cobra.NoArgs,
			PersistentPreRunE: func(*cobra.Command, []string) error {
				return nil
			},
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return rootCmd
}
