package source

import (
	"context"
	"fmt"
	"io"
	"os"

	"spyview/internal/stacktrace"
)

// Replay plays back recorded traces, batchSize traces per call to Next
type Replay struct {
	traces    []stacktrace.StackTrace
	batchSize int
	pos       int
}

// NewReplay reads collapsed stacks from r. At most maxTraces traces are
// kept (0 = unlimited).
func NewReplay(r io.Reader, batchSize, maxTraces int) (*Replay, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", batchSize)
	}

	traces, err := stacktrace.ParseCollapsed(r, maxTraces)
	if err != nil {
		return nil, fmt.Errorf("failed to parse replay input: %w", err)
	}
	return &Replay{traces: traces, batchSize: batchSize}, nil
}

// OpenReplay reads a collapsed-stack file from disk
func OpenReplay(path string, batchSize, maxTraces int) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	return NewReplay(f, batchSize, maxTraces)
}

// Len returns the total number of traces that will be replayed
func (r *Replay) Len() int {
	return len(r.traces)
}

// Next returns the next batch, or io.EOF once every trace has been returned
func (r *Replay) Next(ctx context.Context) ([]stacktrace.StackTrace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.pos >= len(r.traces) {
		return nil, io.EOF
	}

	end := min(r.pos+r.batchSize, len(r.traces))
	batch := r.traces[r.pos:end:end]
	r.pos = end
	return batch, nil
}
