// Package store holds the in-memory state shared between the ingest worker
// and the query handlers.
//
// Every exported method takes the store's single mutex, reads or writes the
// fields it needs and releases it before returning. No method blocks on I/O
// while holding the lock.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"spyview/internal/stacktrace"
)

// ErrInvalidRequest marks out-of-range indices and unresolvable time ranges
var ErrInvalidRequest = errors.New("invalid request")

// Metadata describes the profiled process
type Metadata struct {
	Command      string
	Version      string
	SamplingRate uint64
}

// Store is the append-only trace log, its timestamp index and the current statistics
type Store struct {
	mu      sync.Mutex
	traces  []stacktrace.StackTrace
	traceMS []uint64
	stats   Statistics
	threads map[uint64]int // thread id -> index into stats.Threads
}

// New creates an empty store for the given process
func New(meta Metadata) *Store {
	return &Store{
		stats: Statistics{
			GIL:          []float32{},
			Threads:      []ThreadSeries{},
			Command:      meta.Command,
			Version:      meta.Version,
			Running:      true,
			SamplingRate: meta.SamplingRate,
		},
		threads: make(map[uint64]int),
	}
}

// AppendBatch appends every trace with the batch timestamp and registers
// threads seen for the first time with a zero back-filled series.
// It returns the number of newly registered threads.
func (s *Store) AppendBatch(traces []stacktrace.StackTrace, elapsedMS uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	registered := 0
	for _, trace := range traces {
		if _, ok := s.threads[trace.ThreadID]; !ok {
			s.threads[trace.ThreadID] = len(s.stats.Threads)
			s.stats.Threads = append(s.stats.Threads, ThreadSeries{
				ThreadID: trace.ThreadID,
				Activity: make([]float32, len(s.stats.GIL)),
			})
			registered++
		}
		s.traces = append(s.traces, trace)
		s.traceMS = append(s.traceMS, elapsedMS)
	}
	return registered
}

// Flush appends one bucket to the GIL series and to every known thread series.
// activity is called once per registered thread, under the lock.
func (s *Store) Flush(gil float32, activity func(threadID uint64) float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.stats.Threads {
		ts := &s.stats.Threads[i]
		ts.Activity = append(ts.Activity, activity(ts.ThreadID))
	}
	s.stats.GIL = append(s.stats.GIL, gil)
}

// SetRunning records whether the profiled process is still alive
func (s *Store) SetRunning(running bool) {
	s.mu.Lock()
	s.stats.Running = running
	s.mu.Unlock()
}

// Stats returns a deep copy of the current statistics
func (s *Store) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.clone()
}

// TraceCount returns the number of stored traces
func (s *Store) TraceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traces)
}

// Trace returns the trace stored at index
func (s *Store) Trace(index int) (stacktrace.StackTrace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.traces) {
		return stacktrace.StackTrace{}, fmt.Errorf("%w: trace %d out of range (count %d)", ErrInvalidRequest, index, len(s.traces))
	}
	return s.traces[index], nil
}

// ResolveIndex maps an elapsed time to the index of the latest trace
// recorded at or before it. Exact matches return the first trace with
// that timestamp; times before the first trace resolve to 0.
func (s *Store) ResolveIndex(elapsedMS uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return resolve(s.traceMS, elapsedMS)
}

func resolve(traceMS []uint64, target uint64) int {
	i := sort.Search(len(traceMS), func(i int) bool { return traceMS[i] >= target })
	if i < len(traceMS) && traceMS[i] == target {
		return i
	}
	if i > 0 {
		return i - 1
	}
	return 0
}

// RangeIndices resolves a time range to a half-open index window [start, end)
func (s *Store) RangeIndices(startMS, endMS uint64) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rangeIndicesLocked(startMS, endMS)
}

func (s *Store) rangeIndicesLocked(startMS, endMS uint64) (int, int, error) {
	start := resolve(s.traceMS, startMS)
	end := resolve(s.traceMS, endMS)

	if start >= len(s.traces) || end >= len(s.traces) {
		return 0, 0, fmt.Errorf("%w: range %d-%d outside of %d traces", ErrInvalidRequest, startMS, endMS, len(s.traces))
	}
	if end <= start {
		return 0, 0, fmt.Errorf("%w: empty range %d-%d (indices %d-%d)", ErrInvalidRequest, startMS, endMS, start, end)
	}
	return start, end, nil
}

// Range returns the traces recorded in the time window [startMS, endMS).
// The returned slice shares the log's backing array; traces are immutable
// and the capacity is clipped so appends by the caller cannot reach the log.
func (s *Store) Range(startMS, endMS uint64) ([]stacktrace.StackTrace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, end, err := s.rangeIndicesLocked(startMS, endMS)
	if err != nil {
		return nil, err
	}
	return s.traces[start:end:end], nil
}

// SamplingRate returns the configured sampling rate of the profiled process
func (s *Store) SamplingRate() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.SamplingRate
}
