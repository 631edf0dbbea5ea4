package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"spyview/internal/config"
	"spyview/internal/ingest"
	"spyview/internal/logging"
	"spyview/internal/metrics"
	"spyview/internal/source"
	"spyview/internal/store"
)

// pipeline is the sampling side shared by serve and mcp: a source feeding
// a viewer that writes to the store
type pipeline struct {
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *store.Store
	viewer   *ingest.Viewer

	cancel context.CancelFunc
	done   chan error
}

func newSource(cfg *config.Config) (source.Source, error) {
	switch cfg.Source {
	case config.SourceReplay:
		return source.OpenReplay(cfg.ReplayPath, cfg.BatchSize, cfg.MaxTraces)
	case config.SourceSynthetic:
		return source.NewSynthetic(cfg.Seed, cfg.Threads, cfg.Batches), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// startPipeline builds the store and starts sampling in the background
func startPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	src, err := newSource(cfg)
	if err != nil {
		return nil, err
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	st := store.New(store.Metadata{
		Command:      cfg.Command,
		Version:      version,
		SamplingRate: cfg.SamplingRate,
	})
	v := ingest.New(st, ingest.WithLogger(logger.Named("ingest")), ingest.WithMetrics(m))
	metrics.RegisterQueueDepth(reg, v.QueueDepth)

	ctx, cancel := context.WithCancel(ctx)
	p := &pipeline{
		logger:   logger,
		registry: reg,
		metrics:  m,
		store:    st,
		viewer:   v,
		cancel:   cancel,
		done:     make(chan error, 1),
	}

	logger.Info("Sampling started",
		zap.String("source", cfg.Source),
		zap.Uint64("rate", cfg.SamplingRate),
		zap.String("command", cfg.Command))

	go func() {
		err := source.Run(ctx, src, v, cfg.Interval(), logger.Named("source"))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Sampling failed", zap.Error(err))
			v.MarkExited()
		}
		p.done <- err
	}()

	return p, nil
}

// stop cancels sampling, drains the viewer and flushes the logger
func (p *pipeline) stop() error {
	p.cancel()
	err := <-p.done
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	err = multierr.Append(err, p.viewer.Close())
	p.logger.Info("Stopped", zap.Int("traces", p.store.TraceCount()))
	_ = p.logger.Sync()
	return err
}
