package store

import (
	"encoding/json"
	"fmt"
)

// Statistics is the process metadata plus the 100ms-bucketed utilization series
type Statistics struct {
	// GIL holds the fraction of observed batches holding the GIL, one entry per bucket
	GIL []float32 `json:"gil"`

	// Threads holds one activity series per thread, in order of first observation
	Threads []ThreadSeries `json:"threads"`

	Command      string `json:"python_command"`
	Version      string `json:"version"`
	Running      bool   `json:"running"`
	SamplingRate uint64 `json:"sampling_rate"`
}

// ThreadSeries is the activity time series of one thread.
// It is encoded as a [thread_id, [values...]] pair.
type ThreadSeries struct {
	ThreadID uint64
	Activity []float32
}

// MarshalJSON encodes the series as a two element array
func (ts ThreadSeries) MarshalJSON() ([]byte, error) {
	activity := ts.Activity
	if activity == nil {
		activity = []float32{}
	}
	return json.Marshal([]interface{}{ts.ThreadID, activity})
}

// UnmarshalJSON decodes the two element array form
func (ts *ThreadSeries) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("thread series: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &ts.ThreadID); err != nil {
		return fmt.Errorf("thread series id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &ts.Activity); err != nil {
		return fmt.Errorf("thread series values: %w", err)
	}
	return nil
}

// Buckets returns the number of flushed buckets
func (st Statistics) Buckets() int {
	return len(st.GIL)
}

// Thread returns the series for a thread id
func (st Statistics) Thread(threadID uint64) (ThreadSeries, bool) {
	for _, ts := range st.Threads {
		if ts.ThreadID == threadID {
			return ts, true
		}
	}
	return ThreadSeries{}, false
}

func (st Statistics) clone() Statistics {
	out := st
	out.GIL = append([]float32(nil), st.GIL...)
	if out.GIL == nil {
		out.GIL = []float32{}
	}
	out.Threads = make([]ThreadSeries, len(st.Threads))
	for i, ts := range st.Threads {
		out.Threads[i] = ThreadSeries{
			ThreadID: ts.ThreadID,
			Activity: append([]float32(nil), ts.Activity...),
		}
	}
	return out
}
