package source

import (
	"context"
	"io"
	"math/rand"

	"spyview/internal/stacktrace"
)

// program is the call graph the synthetic source samples from. Each entry
// is a stack, innermost frame first.
var program = [][]stacktrace.Frame{
	stack(frame("sha256", "hashlib", 0), frame("checksum", "app.storage", 88), frame("save", "app.storage", 41), frame("handle", "app.server", 120), frame("<module>", "__main__", 12)),
	stack(frame("dumps", "json", 231), frame("render", "app.views", 57), frame("handle", "app.server", 118), frame("<module>", "__main__", 12)),
	stack(frame("fib", "app.compute", 9), frame("fib", "app.compute", 9), frame("fib", "app.compute", 9), frame("compute", "app.compute", 22), frame("worker", "app.pool", 30), frame("run", "threading", 953)),
	stack(frame("sort", "app.compute", 64), frame("compute", "app.compute", 25), frame("worker", "app.pool", 30), frame("run", "threading", 953)),
	stack(frame("execute", "sqlite3", 0), frame("query", "app.db", 15), frame("handle", "app.server", 115), frame("<module>", "__main__", 12)),
}

// waiting stacks for idle threads
var idleProgram = [][]stacktrace.Frame{
	stack(frame("wait", "threading", 320), frame("get", "queue", 171), frame("worker", "app.pool", 27), frame("run", "threading", 953)),
	stack(frame("select", "selectors", 468), frame("serve_forever", "socketserver", 232), frame("<module>", "__main__", 40)),
	stack(frame("sleep", "time", 0), frame("heartbeat", "app.monitor", 14), frame("run", "threading", 953)),
}

func frame(name, module string, line int) stacktrace.Frame {
	short := module + ".py"
	return stacktrace.Frame{
		Name:          name,
		Filename:      "/usr/lib/python3/" + short,
		ShortFilename: stacktrace.StrPtr(short),
		Module:        stacktrace.StrPtr(module),
		Line:          line,
	}
}

func stack(frames ...stacktrace.Frame) []stacktrace.Frame {
	return frames
}

// Synthetic samples a fixed multi-threaded program model. The output is
// fully determined by the seed.
type Synthetic struct {
	rng        *rand.Rand
	threads    []uint64
	activeProb float64
	limit      int
	calls      int
}

// NewSynthetic returns a source with the given number of threads that
// stops after batches calls (0 = never)
func NewSynthetic(seed int64, threads, batches int) *Synthetic {
	ids := make([]uint64, threads)
	for i := range ids {
		ids[i] = 0x7f0000001000 + uint64(i)*0x1000
	}
	return &Synthetic{
		rng:        rand.New(rand.NewSource(seed)),
		threads:    ids,
		activeProb: 0.6,
		limit:      batches,
	}
}

// Next samples every thread once. At most one active thread holds the GIL.
func (s *Synthetic) Next(ctx context.Context) ([]stacktrace.StackTrace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.limit > 0 && s.calls >= s.limit {
		return nil, io.EOF
	}
	s.calls++

	traces := make([]stacktrace.StackTrace, len(s.threads))
	var active []int
	for i, id := range s.threads {
		trace := stacktrace.StackTrace{ThreadID: id}
		if s.rng.Float64() < s.activeProb {
			trace.Active = true
			trace.Frames = program[s.rng.Intn(len(program))]
			active = append(active, i)
		} else {
			trace.Frames = idleProgram[s.rng.Intn(len(idleProgram))]
		}
		traces[i] = trace
	}

	// the GIL is sometimes released by every thread, e.g. during I/O
	if len(active) > 0 && s.rng.Float64() < 0.9 {
		traces[active[s.rng.Intn(len(active))]].OwnsGIL = true
	}

	return traces, nil
}
