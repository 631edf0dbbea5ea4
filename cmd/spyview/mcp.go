package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"spyview/internal/config"
	"spyview/internal/mcptools"
)

func newMCPCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Sample the target and expose analysis tools to MCP clients on stdio",
		Long: `Runs an MCP server on stdin/stdout while sampling in the background.
Logs go to stderr only; stdout carries the protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd.Context(), cfg)
		},
	}
}

func runMCP(ctx context.Context, cfg *config.Config) (err error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := startPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, p.stop())
	}()

	s := mcptools.NewServer(p.store, version, p.logger.Named("mcp"))
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(zap.NewStdLog(p.logger.Named("stdio")))

	p.logger.Info("Serving MCP on stdio")
	err = stdio.Listen(ctx, os.Stdin, os.Stdout)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
