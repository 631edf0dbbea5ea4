package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"spyview/internal/config"
	"spyview/internal/server"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Sample the target and serve the flame graph viewer over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) (err error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := startPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, p.stop())
	}()

	srv := server.New(p.store,
		server.WithLogger(p.logger.Named("http")),
		server.WithMetrics(p.metrics, p.registry))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(cfg.Addr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	p.logger.Info("Shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	return multierr.Combine(srv.Shutdown(shutdownCtx), <-serveErr)
}
