// Package metrics defines the Prometheus instruments exported by spyview.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "spyview"

// Metrics groups every collector the ingest pipeline and query layer report to
type Metrics struct {
	BatchesIngested   prometheus.Counter
	TracesIngested    prometheus.Counter
	ThreadsRegistered prometheus.Counter
	BucketsFlushed    prometheus.Counter
	DroppedMessages   prometheus.Counter

	AggregationSeconds *prometheus.HistogramVec
	Requests           *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BatchesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Trace batches processed by the aggregator worker.",
		}),
		TracesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "traces_total",
			Help:      "Stack traces appended to the store.",
		}),
		ThreadsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "threads_total",
			Help:      "Distinct threads observed.",
		}),
		BucketsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "buckets_flushed_total",
			Help:      "100ms statistics buckets flushed.",
		}),
		DroppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "dropped_batches_total",
			Help:      "Batches submitted after the viewer was closed.",
		}),
		AggregationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "aggregation_seconds",
			Help:      "Time spent aggregating a trace window.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"kind"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		m.BatchesIngested,
		m.TracesIngested,
		m.ThreadsRegistered,
		m.BucketsFlushed,
		m.DroppedMessages,
		m.AggregationSeconds,
		m.Requests,
	)
	return m
}

// NewRegistry returns a registry with the Go runtime and process collectors installed
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// RegisterQueueDepth exports the ingest backlog as a gauge
func RegisterQueueDepth(reg prometheus.Registerer, depth func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "queue_depth",
		Help:      "Messages waiting for the aggregator worker.",
	}, func() float64 {
		return float64(depth())
	}))
}
