package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"spyview/internal/config"
	"spyview/internal/stacktrace"
)

func newDumpCommand(cfg *config.Config) *cobra.Command {
	var (
		batches   int
		collapsed bool
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print a few sampled batches from the configured source and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := newSource(cfg)
			if err != nil {
				return err
			}

			var all []stacktrace.StackTrace
			for i := 0; batches <= 0 || i < batches; i++ {
				traces, err := src.Next(cmd.Context())
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				all = append(all, traces...)
			}

			if collapsed {
				return stacktrace.WriteCollapsed(cmd.OutOrStdout(), all)
			}
			printTraces(cmd.OutOrStdout(), all)
			return nil
		},
	}

	cmd.Flags().IntVarP(&batches, "count", "n", 3, "batches to print (0 = until the source is exhausted)")
	cmd.Flags().BoolVar(&collapsed, "collapsed", false, "write collapsed stacks instead of a listing")
	return cmd
}

func printTraces(w io.Writer, traces []stacktrace.StackTrace) {
	for _, trace := range traces {
		status := color.YellowString(trace.Status())
		if trace.Active {
			status = color.GreenString(trace.Status())
		}
		fmt.Fprintf(w, "%s (%s)\n", color.CyanString("Thread 0x%X", trace.ThreadID), status)

		for _, frame := range trace.Frames {
			fmt.Fprintf(w, "\t%s\n", frame)
		}
	}
}
