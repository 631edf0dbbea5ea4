// Package source produces trace batches for the ingest pipeline.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"spyview/internal/stacktrace"
)

// Source yields one batch of traces per call. io.EOF reports that the
// profiled process has exited and no more batches will follow.
type Source interface {
	Next(ctx context.Context) ([]stacktrace.StackTrace, error)
}

// Sink receives batches. *ingest.Viewer satisfies it.
type Sink interface {
	Submit(traces []stacktrace.StackTrace, elapsedMS uint64)
	Elapsed() uint64
	MarkExited()
}

// Run polls src once per interval and submits every batch to sink,
// stamped with the sink's elapsed time. When src reports io.EOF the sink
// is marked exited and Run returns nil. Cancelling ctx returns ctx.Err().
func Run(ctx context.Context, src Source, sink Sink, interval time.Duration, logger *zap.Logger) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sampling interval %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batches := 0
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Sampling stopped", zap.Int("batches", batches))
			return ctx.Err()
		case <-ticker.C:
			traces, err := src.Next(ctx)
			if errors.Is(err, io.EOF) {
				logger.Info("Trace source exhausted", zap.Int("batches", batches))
				sink.MarkExited()
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to sample traces: %w", err)
			}

			sink.Submit(traces, sink.Elapsed())
			batches++
		}
	}
}
