package flame

import (
	"strings"

	"github.com/google/pprof/profile"

	"spyview/internal/stacktrace"
)

// ThreadLabelKey is the pprof sample label carrying the thread id
const ThreadLabelKey = "thread"

type funcKey struct {
	name, filename string
}

type locKey struct {
	fn   funcKey
	line int
}

// pprofBuilder interns functions and locations across samples
type pprofBuilder struct {
	prof      *profile.Profile
	functions map[funcKey]*profile.Function
	locations map[locKey]*profile.Location
	samples   map[string]*profile.Sample
	period    int64
}

// Profile converts traces into a pprof profile with a sample count and a
// cpu time estimate derived from the sampling rate. Traces are filtered by
// opts; identical stacks on the same thread share one sample.
func Profile(traces []stacktrace.StackTrace, opts Options, samplingRate uint64) *profile.Profile {
	period := int64(0)
	if samplingRate > 0 {
		period = int64(1e9 / samplingRate)
	}

	b := &pprofBuilder{
		prof: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "samples", Unit: "count"},
				{Type: "cpu", Unit: "nanoseconds"},
			},
			PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
			Period:     period,
		},
		functions: make(map[funcKey]*profile.Function),
		locations: make(map[locKey]*profile.Location),
		samples:   make(map[string]*profile.Sample),
		period:    period,
	}

	for _, trace := range traces {
		if !opts.Keep(trace) {
			continue
		}
		b.add(trace, opts.IncludeLines)
	}

	return b.prof
}

func (b *pprofBuilder) add(trace stacktrace.StackTrace, includeLines bool) {
	var key strings.Builder
	key.WriteString(stacktrace.ThreadLabel(trace.ThreadID))

	// pprof wants the leaf first, which matches the stored frame order
	locs := make([]*profile.Location, 0, len(trace.Frames))
	for _, frame := range trace.Frames {
		key.WriteByte(';')
		key.WriteString(Label(frame, includeLines))
		locs = append(locs, b.location(frame, includeLines))
	}

	if s, ok := b.samples[key.String()]; ok {
		s.Value[0]++
		s.Value[1] += b.period
		return
	}

	s := &profile.Sample{
		Location: locs,
		Value:    []int64{1, b.period},
		Label:    map[string][]string{ThreadLabelKey: {stacktrace.ThreadLabel(trace.ThreadID)}},
	}
	b.samples[key.String()] = s
	b.prof.Sample = append(b.prof.Sample, s)
}

func (b *pprofBuilder) location(frame stacktrace.Frame, includeLines bool) *profile.Location {
	fk := funcKey{name: frame.Name, filename: frame.Filename}
	fn, ok := b.functions[fk]
	if !ok {
		fn = &profile.Function{
			ID:         uint64(len(b.prof.Function) + 1),
			Name:       frame.Name,
			SystemName: frame.Name,
			Filename:   frame.Filename,
		}
		b.functions[fk] = fn
		b.prof.Function = append(b.prof.Function, fn)
	}

	line := 0
	if includeLines {
		line = frame.Line
	}
	lk := locKey{fn: fk, line: line}
	loc, ok := b.locations[lk]
	if !ok {
		loc = &profile.Location{
			ID:   uint64(len(b.prof.Location) + 1),
			Line: []profile.Line{{Function: fn, Line: int64(line)}},
		}
		b.locations[lk] = loc
		b.prof.Location = append(b.prof.Location, loc)
	}
	return loc
}
