package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"spyview/internal/stacktrace"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]stacktrace.StackTrace
	elapsed []uint64
	clock   uint64
	exited  bool
}

func (s *recordingSink) Submit(traces []stacktrace.StackTrace, elapsedMS uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, traces)
	s.elapsed = append(s.elapsed, elapsedMS)
}

func (s *recordingSink) Elapsed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock += 10
	return s.clock
}

func (s *recordingSink) MarkExited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exited = true
}

const replayInput = `[thread 0x1];main (app.py:1);work (app.py:10) 3
[thread 0x2];[idle];main (app.py:1);sleep (time.py:5) 2
`

func TestReplayBatches(t *testing.T) {
	r, err := NewReplay(strings.NewReader(replayInput), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Len())

	ctx := context.Background()
	var sizes []int
	for {
		batch, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(batch))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReplayErrors(t *testing.T) {
	_, err := NewReplay(strings.NewReader(replayInput), 0, 0)
	assert.Error(t, err)

	_, err = NewReplay(strings.NewReader("no count here\n"), 1, 0)
	assert.Error(t, err)

	_, err = OpenReplay(filepath.Join(t.TempDir(), "missing.txt"), 1, 0)
	assert.Error(t, err)
}

func TestOpenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stacks.txt")
	require.NoError(t, os.WriteFile(path, []byte(replayInput), 0o644))

	r, err := OpenReplay(path, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())
}

func TestSyntheticDeterministic(t *testing.T) {
	ctx := context.Background()
	a := NewSynthetic(42, 4, 0)
	b := NewSynthetic(42, 4, 0)

	for i := 0; i < 20; i++ {
		ba, err := a.Next(ctx)
		require.NoError(t, err)
		bb, err := b.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, ba, bb)
	}
}

func TestSyntheticThreadStates(t *testing.T) {
	ctx := context.Background()
	s := NewSynthetic(7, 6, 0)

	for i := 0; i < 200; i++ {
		batch, err := s.Next(ctx)
		require.NoError(t, err)
		require.Len(t, batch, 6)

		holders := 0
		for _, trace := range batch {
			assert.NotEmpty(t, trace.Frames)
			if trace.OwnsGIL {
				holders++
				assert.True(t, trace.Active)
			}
		}
		assert.LessOrEqual(t, holders, 1)
	}
}

func TestSyntheticLimit(t *testing.T) {
	ctx := context.Background()
	s := NewSynthetic(1, 2, 3)
	for i := 0; i < 3; i++ {
		_, err := s.Next(ctx)
		require.NoError(t, err)
	}
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRunUntilExhausted(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, err := NewReplay(strings.NewReader(replayInput), 2, 0)
	require.NoError(t, err)

	sink := &recordingSink{}
	err = Run(context.Background(), r, sink, time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, sink.exited)
	assert.Len(t, sink.batches, 3)
	assert.Equal(t, []uint64{10, 20, 30}, sink.elapsed)
}

func TestRunCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{}

	done := make(chan error)
	go func() {
		done <- Run(ctx, NewSynthetic(1, 2, 0), sink, time.Millisecond, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.batches) > 2
	}, time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, sink.exited)
}

type failingSource struct{}

func (failingSource) Next(context.Context) ([]stacktrace.StackTrace, error) {
	return nil, errors.New("target not attached")
}

func TestRunSourceError(t *testing.T) {
	err := Run(context.Background(), failingSource{}, &recordingSink{}, time.Millisecond, zap.NewNop())
	assert.ErrorContains(t, err, "target not attached")

	err = Run(context.Background(), failingSource{}, &recordingSink{}, 0, zap.NewNop())
	assert.Error(t, err)
}
