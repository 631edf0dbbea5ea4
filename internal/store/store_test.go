package store

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spyview/internal/stacktrace"
)

func makeTraces(threadIDs ...uint64) []stacktrace.StackTrace {
	traces := make([]stacktrace.StackTrace, 0, len(threadIDs))
	for _, id := range threadIDs {
		traces = append(traces, stacktrace.StackTrace{
			ThreadID: id,
			Frames:   []stacktrace.Frame{{Name: "work", Filename: "app.py", Line: 1}},
			Active:   true,
		})
	}
	return traces
}

func newTestStore() *Store {
	return New(Metadata{Command: "python app.py", Version: "test", SamplingRate: 100})
}

func TestAppendBatchKeepsIndexParallel(t *testing.T) {
	s := newTestStore()

	batches := []struct {
		ms      uint64
		threads []uint64
	}{
		{10, []uint64{1, 2}},
		{20, []uint64{1}},
		{20, []uint64{1, 2, 3}},
		{35, nil},
		{50, []uint64{4}},
	}

	total := 0
	for _, b := range batches {
		s.AppendBatch(makeTraces(b.threads...), b.ms)
		total += len(b.threads)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.traces, total)
	require.Len(t, s.traceMS, total)
	for i := 1; i < len(s.traceMS); i++ {
		assert.LessOrEqual(t, s.traceMS[i-1], s.traceMS[i], "timestamps must be non-decreasing")
	}
}

func TestAppendBatchRegistersThreadsWithBackfill(t *testing.T) {
	s := newTestStore()

	registered := s.AppendBatch(makeTraces(1, 1, 2), 0)
	assert.Equal(t, 2, registered)

	s.Flush(0.5, func(uint64) float32 { return 1 })
	s.Flush(0.25, func(uint64) float32 { return 0.5 })

	registered = s.AppendBatch(makeTraces(3, 1), 200)
	assert.Equal(t, 1, registered)

	stats := s.Stats()
	require.Len(t, stats.Threads, 3)
	late, ok := stats.Thread(3)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 0}, late.Activity)

	for _, ts := range stats.Threads {
		assert.Len(t, ts.Activity, stats.Buckets(), "thread %d", ts.ThreadID)
	}
}

func TestStatsReturnsCopy(t *testing.T) {
	s := newTestStore()
	s.AppendBatch(makeTraces(7), 0)
	s.Flush(1, func(uint64) float32 { return 1 })

	stats := s.Stats()
	stats.GIL[0] = 42
	stats.Threads[0].Activity[0] = 42

	again := s.Stats()
	assert.Equal(t, float32(1), again.GIL[0])
	assert.Equal(t, float32(1), again.Threads[0].Activity[0])
}

func TestSetRunning(t *testing.T) {
	s := newTestStore()
	assert.True(t, s.Stats().Running)
	s.SetRunning(false)
	assert.False(t, s.Stats().Running)
}

func TestTraceByIndex(t *testing.T) {
	s := newTestStore()
	s.AppendBatch(makeTraces(1, 2, 3), 10)

	trace, err := s.Trace(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), trace.ThreadID)

	_, err = s.Trace(s.TraceCount())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = s.Trace(-1)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestResolveIndex(t *testing.T) {
	s := newTestStore()
	s.AppendBatch(makeTraces(1), 100)    // 0
	s.AppendBatch(makeTraces(1), 200)    // 1
	s.AppendBatch(makeTraces(1, 2), 300) // 2, 3
	s.AppendBatch(makeTraces(1), 400)    // 4

	tests := []struct {
		name   string
		target uint64
		want   int
	}{
		{"exact first", 100, 0},
		{"exact middle", 200, 1},
		{"exact duplicate returns first", 300, 2},
		{"between returns earlier", 250, 1},
		{"before first", 5, 0},
		{"zero", 0, 0},
		{"after last", 1000, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.ResolveIndex(tt.target))
		})
	}
}

func TestResolveIndexEmpty(t *testing.T) {
	s := newTestStore()
	assert.Equal(t, 0, s.ResolveIndex(100))

	_, err := s.Range(0, 100)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRange(t *testing.T) {
	s := newTestStore()
	for i := uint64(0); i < 10; i++ {
		s.AppendBatch(makeTraces(i), i*100)
	}

	traces, err := s.Range(200, 500)
	require.NoError(t, err)
	require.Len(t, traces, 3)
	assert.Equal(t, uint64(2), traces[0].ThreadID)
	assert.Equal(t, uint64(4), traces[2].ThreadID)

	// zero-width
	_, err = s.Range(300, 300)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// reversed
	_, err = s.Range(500, 200)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	// the end boundary must resolve inside the log
	start, end, err := s.RangeIndices(0, 5000)
	require.NoError(t, err)
	assert.Equal(t, 0, start)
	assert.Equal(t, 9, end)
}

func TestRangeWindowsPartitionLog(t *testing.T) {
	s := newTestStore()
	for i := uint64(0); i < 8; i++ {
		s.AppendBatch(makeTraces(i, i), i*100)
	}

	bounds := []uint64{0, 200, 500, 700}
	seen := 0
	for i := 1; i < len(bounds); i++ {
		start, end, err := s.RangeIndices(bounds[i-1], bounds[i])
		require.NoError(t, err)
		assert.Equal(t, seen, start, "windows must not overlap or leave gaps")
		seen = end
	}
	assert.Equal(t, 14, seen)
}

func TestRangeCannotAppendIntoLog(t *testing.T) {
	s := newTestStore()
	s.AppendBatch(makeTraces(1, 2, 3, 4), 0)
	s.AppendBatch(makeTraces(5), 100)

	window, err := s.Range(0, 100)
	require.NoError(t, err)
	_ = append(window, stacktrace.StackTrace{ThreadID: 99})

	trace, err := s.Trace(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), trace.ThreadID)
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := newTestStore()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < 500; i++ {
			s.AppendBatch(makeTraces(i%4, (i+1)%4), i)
			if i%10 == 0 {
				s.Flush(0.5, func(uint64) float32 { return 0.5 })
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				stats := s.Stats()
				for _, ts := range stats.Threads {
					if len(ts.Activity) != len(stats.GIL) {
						t.Errorf("series length diverged: %d vs %d", len(ts.Activity), len(stats.GIL))
						return
					}
				}
				_ = s.TraceCount()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, s.TraceCount())
}

func TestStatisticsJSON(t *testing.T) {
	s := newTestStore()
	s.AppendBatch(makeTraces(26), 0)
	s.Flush(0.5, func(uint64) float32 { return 1 })

	data, err := json.Marshal(s.Stats())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"gil": [0.5],
		"threads": [[26, [1]]],
		"python_command": "python app.py",
		"version": "test",
		"running": true,
		"sampling_rate": 100
	}`, string(data))

	var decoded Statistics
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, uint64(26), decoded.Threads[0].ThreadID)
	assert.Equal(t, []float32{1}, decoded.Threads[0].Activity)
}

func TestEmptyStatisticsJSON(t *testing.T) {
	data, err := json.Marshal(newTestStore().Stats())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"gil":[]`)
	assert.Contains(t, string(data), `"threads":[]`)
}
