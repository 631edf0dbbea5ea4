package ingest

import (
	"go.uber.org/zap"

	"spyview/internal/metrics"
	"spyview/internal/store"
)

// BucketMS is the width of one statistics bucket in elapsed milliseconds
const BucketMS = 100

// aggregator is the sole consumer of the queue and the only writer of the store.
// Per-bucket counters live here, outside the store lock.
type aggregator struct {
	store   *store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	gil       uint64            // traces holding the GIL since the last flush
	batches   uint64            // batches observed since the last flush
	active    map[uint64]uint64 // thread id -> active traces since the last flush
	threshold uint64            // elapsed ms at which the next bucket is flushed
}

func newAggregator(s *store.Store, logger *zap.Logger, m *metrics.Metrics) *aggregator {
	return &aggregator{
		store:   s,
		logger:  logger,
		metrics: m,
		active:  make(map[uint64]uint64),
	}
}

// run consumes messages in order until a shutdown message arrives
func (a *aggregator) run(q *queue) {
	for {
		switch m := q.pop().(type) {
		case shutdownMessage:
			a.logger.Debug("Aggregator worker stopped",
				zap.Uint64("pending_batches", a.batches))
			return
		case batchMessage:
			a.consume(m)
		}
	}
}

func (a *aggregator) consume(m batchMessage) {
	for _, trace := range m.traces {
		if trace.OwnsGIL {
			a.gil++
		}
		if _, ok := a.active[trace.ThreadID]; !ok {
			a.active[trace.ThreadID] = 0
		}
		if trace.Active {
			a.active[trace.ThreadID]++
		}
	}

	registered := a.store.AppendBatch(m.traces, m.elapsedMS)
	a.batches++

	if a.metrics != nil {
		a.metrics.BatchesIngested.Inc()
		a.metrics.TracesIngested.Add(float64(len(m.traces)))
		a.metrics.ThreadsRegistered.Add(float64(registered))
	}
	if registered > 0 {
		a.logger.Debug("Registered new threads",
			zap.Int("count", registered),
			zap.Uint64("elapsed_ms", m.elapsedMS))
	}

	// at most one bucket per batch; the threshold moves by exactly one bucket
	if a.threshold <= m.elapsedMS {
		a.threshold += BucketMS
		a.flush()
	}
}

// flush records the per-bucket means and resets the counters
func (a *aggregator) flush() {
	batches := float32(a.batches)

	a.store.Flush(float32(a.gil)/batches, func(threadID uint64) float32 {
		return float32(a.active[threadID]) / batches
	})

	for id := range a.active {
		a.active[id] = 0
	}
	a.gil = 0
	a.batches = 0

	if a.metrics != nil {
		a.metrics.BucketsFlushed.Inc()
	}
}
