// Package ingest moves trace batches from a producer into the store.
//
// A Viewer owns an unbounded queue and one aggregator goroutine. Producers
// call Submit; the aggregator appends traces to the store and folds them into
// 100ms utilization buckets. Close must be called exactly once before the
// Viewer is discarded: it enqueues a shutdown message behind every batch
// already submitted and waits for the aggregator to drain them and return.
package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"spyview/internal/metrics"
	"spyview/internal/stacktrace"
	"spyview/internal/store"
)

// Viewer is the producer-side handle of the ingest pipeline
type Viewer struct {
	store   *store.Store
	queue   *queue
	logger  *zap.Logger
	metrics *metrics.Metrics
	start   time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Viewer
type Option func(*Viewer)

// WithLogger sets the logger used by the viewer and its worker
func WithLogger(logger *zap.Logger) Option {
	return func(v *Viewer) {
		v.logger = logger
	}
}

// WithMetrics reports ingest counters to m
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Viewer) {
		v.metrics = m
	}
}

// New starts the aggregator worker for s
func New(s *store.Store, opts ...Option) *Viewer {
	v := &Viewer{
		store:  s,
		queue:  newQueue(),
		logger: zap.NewNop(),
		start:  time.Now(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}

	agg := newAggregator(s, v.logger, v.metrics)
	go func() {
		defer close(v.done)
		agg.run(v.queue)
	}()

	return v
}

// Submit enqueues a batch captured at elapsedMS. It never blocks.
// Batches must be submitted in non-decreasing elapsed order.
func (v *Viewer) Submit(traces []stacktrace.StackTrace, elapsedMS uint64) {
	if v.closed.Load() {
		v.logger.Warn("Dropping batch submitted after close",
			zap.Int("traces", len(traces)),
			zap.Uint64("elapsed_ms", elapsedMS))
		if v.metrics != nil {
			v.metrics.DroppedMessages.Inc()
		}
		return
	}
	v.queue.push(batchMessage{traces: traces, elapsedMS: elapsedMS})
}

// Elapsed returns the milliseconds since the viewer was created
func (v *Viewer) Elapsed() uint64 {
	return uint64(time.Since(v.start).Milliseconds())
}

// MarkExited records that the profiled process has exited
func (v *Viewer) MarkExited() {
	v.store.SetRunning(false)
	v.logger.Info("Target process exited")
}

// QueueDepth returns the number of messages waiting for the worker
func (v *Viewer) QueueDepth() int {
	return v.queue.len()
}

// Store returns the store the viewer writes to
func (v *Viewer) Store() *store.Store {
	return v.store
}

// Close stops the worker after it has processed every batch submitted
// before the call. Later calls are no-ops.
func (v *Viewer) Close() error {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		v.queue.push(shutdownMessage{})
		<-v.done
	})
	return nil
}
