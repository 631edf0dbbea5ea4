package stacktrace

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Collapsed-stack format, one line per distinct stack:
//
//	[thread 0x1a];[idle];outer (file.py:10);inner (file.py:20) 42
//
// Frames run outermost first. The thread marker is optional; the status
// markers [idle] and [nogil] are optional and default to an active trace
// holding the GIL.

var (
	collapsedLineRe = regexp.MustCompile(`^(.+)\s+(\d+)$`)
	markerRe        = regexp.MustCompile(`^\[(.+)\]$`)
	frameRe         = regexp.MustCompile(`^(.*) \(([^()]*?)(?::(\d+))?\)$`)
	tidRe           = regexp.MustCompile(`tid=(\d+)`)
)

const (
	markerIdle  = "idle"
	markerNoGIL = "nogil"
)

// ParseCollapsed reads collapsed stacks and expands every line into count traces.
// Expansion stops once maxTraces traces have been produced (0 = unlimited).
func ParseCollapsed(r io.Reader, maxTraces int) ([]StackTrace, error) {
	var traces []StackTrace
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		m := collapsedLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("malformed collapsed line %d: %q", lineNo, line)
		}
		count, err := strconv.Atoi(m[2])
		if err != nil {
			return nil, fmt.Errorf("invalid count on line %d: %w", lineNo, err)
		}
		if count <= 0 {
			continue
		}

		trace, err := parseStack(m[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		for i := 0; i < count; i++ {
			if maxTraces > 0 && len(traces) >= maxTraces {
				return traces, nil
			}
			traces = append(traces, trace)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading collapsed stacks: %w", err)
	}

	return traces, nil
}

func parseStack(stack string) (StackTrace, error) {
	trace := StackTrace{Active: true, OwnsGIL: true}

	parts := strings.Split(stack, ";")
	start := 0
	for start < len(parts) {
		mm := markerRe.FindStringSubmatch(parts[start])
		if mm == nil {
			break
		}
		switch mm[1] {
		case markerIdle:
			trace.Active = false
		case markerNoGIL:
			trace.OwnsGIL = false
		default:
			trace.ThreadID = ParseThreadID(mm[1])
		}
		start++
	}

	if start == len(parts) {
		return StackTrace{}, fmt.Errorf("stack %q has no frames", stack)
	}

	// stored innermost first
	n := len(parts) - start
	trace.Frames = make([]Frame, n)
	for i, part := range parts[start:] {
		trace.Frames[n-1-i] = ParseFrame(part)
	}
	return trace, nil
}

// ParseFrame parses "name (file:line)", "name (file)" or a bare name
func ParseFrame(s string) Frame {
	m := frameRe.FindStringSubmatch(s)
	if m == nil {
		return Frame{Name: s}
	}
	frame := Frame{Name: m[1], Filename: m[2]}
	if m[3] != "" {
		line, err := strconv.Atoi(m[3])
		if err == nil {
			frame.Line = line
		}
	}
	return frame
}

// ParseThreadID turns a thread marker into a numeric id. Hex ("thread 0x1a",
// "0x1a"), decimal and "tid=N" forms are parsed; anything else is hashed.
func ParseThreadID(name string) uint64 {
	s := strings.TrimSpace(strings.TrimPrefix(name, "thread "))
	if strings.HasPrefix(s, "0x") {
		if id, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64); err == nil {
			return id
		}
	}
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		return id
	}
	if m := tidRe.FindStringSubmatch(s); m != nil {
		if id, err := strconv.ParseUint(m[1], 10, 64); err == nil {
			return id
		}
	}
	return xxhash.Sum64String(name)
}

// WriteCollapsed writes traces in collapsed-stack format, merging identical stacks.
// Lines are sorted so output is stable.
func WriteCollapsed(w io.Writer, traces []StackTrace) error {
	counts := make(map[string]int)
	for _, trace := range traces {
		counts[collapseKey(trace)]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "%s %d\n", k, counts[k]); err != nil {
			return err
		}
	}
	return nil
}

func collapseKey(trace StackTrace) string {
	var sb strings.Builder
	sb.WriteString("[" + ThreadLabel(trace.ThreadID) + "]")
	if !trace.Active {
		sb.WriteString(";[" + markerIdle + "]")
	}
	if !trace.OwnsGIL {
		sb.WriteString(";[" + markerNoGIL + "]")
	}
	for i := len(trace.Frames) - 1; i >= 0; i-- {
		sb.WriteByte(';')
		sb.WriteString(trace.Frames[i].String())
	}
	return sb.String()
}
