package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"spyview/internal/stacktrace"
)

const unknownModule = "[unknown]"

// Hotspot represents a function that appears in a significant share of samples
type Hotspot struct {
	Function   string  `json:"function"`
	Module     string  `json:"module"`
	SourceFile string  `json:"source_file"`
	LineNumber int     `json:"line"`
	Samples    int     `json:"samples"`    // traces containing this function
	Percentage float64 `json:"percentage"` // share of all traces in the window
}

// moduleOf returns the frame's module, falling back to its file
func moduleOf(frame stacktrace.Frame) string {
	if m := frame.ModuleName(); m != "" {
		return m
	}
	if f := frame.DisplayFilename(); f != "" {
		return f
	}
	return unknownModule
}

func signature(frame stacktrace.Frame) string {
	return fmt.Sprintf("%s!%s", moduleOf(frame), frame.Name)
}

func newHotspot(frame stacktrace.Frame) *Hotspot {
	return &Hotspot{
		Function:   frame.Name,
		Module:     moduleOf(frame),
		SourceFile: frame.DisplayFilename(),
		LineNumber: frame.Line,
	}
}

// rank converts a signature map into a slice sorted by samples (descending),
// cut to topN when topN > 0
func rank(m map[string]*Hotspot, total, topN int) []Hotspot {
	hotspots := make([]Hotspot, 0, len(m))
	for _, hs := range m {
		if total > 0 {
			hs.Percentage = float64(hs.Samples) / float64(total) * 100.0
		}
		hotspots = append(hotspots, *hs)
	}

	// ties are broken by signature so output is stable
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].Samples != hotspots[j].Samples {
			return hotspots[i].Samples > hotspots[j].Samples
		}
		if hotspots[i].Module != hotspots[j].Module {
			return hotspots[i].Module < hotspots[j].Module
		}
		return hotspots[i].Function < hotspots[j].Function
	})

	if topN > 0 && topN < len(hotspots) {
		return hotspots[:topN]
	}
	return hotspots
}

// FindHotspots counts, for every function, the traces it appears in.
// Recursive functions are counted once per trace.
func FindHotspots(traces []stacktrace.StackTrace, topN int) []Hotspot {
	hotspotMap := make(map[string]*Hotspot)

	for _, trace := range traces {
		seenInThisStack := make(map[string]bool)
		for _, frame := range trace.Frames {
			sig := signature(frame)
			if seenInThisStack[sig] {
				continue
			}
			seenInThisStack[sig] = true

			hs, ok := hotspotMap[sig]
			if !ok {
				hs = newHotspot(frame)
				hotspotMap[sig] = hs
			}
			hs.Samples++
		}
	}

	return rank(hotspotMap, len(traces), topN)
}

// FindBottomFunctions counts the innermost frame of every trace.
// These are the functions actually executing when the sample was taken.
func FindBottomFunctions(traces []stacktrace.StackTrace, topN int) []Hotspot {
	bottomFuncMap := make(map[string]*Hotspot)

	for _, trace := range traces {
		if len(trace.Frames) == 0 {
			continue
		}

		frame := trace.Frames[0]
		sig := signature(frame)
		hs, ok := bottomFuncMap[sig]
		if !ok {
			hs = newHotspot(frame)
			bottomFuncMap[sig] = hs
		}
		hs.Samples++
	}

	return rank(bottomFuncMap, len(traces), topN)
}

// ModuleShare is the share of traces that pass through a module
type ModuleShare struct {
	Module     string  `json:"module"`
	Samples    int     `json:"samples"`
	Percentage float64 `json:"percentage"`
}

// FindModuleHotspots groups samples by module, counting each module once per trace
func FindModuleHotspots(traces []stacktrace.StackTrace) []ModuleShare {
	moduleSamples := make(map[string]int)

	for _, trace := range traces {
		seenModules := make(map[string]bool)
		for _, frame := range trace.Frames {
			module := moduleOf(frame)
			if seenModules[module] {
				continue
			}
			seenModules[module] = true
			moduleSamples[module]++
		}
	}

	shares := make([]ModuleShare, 0, len(moduleSamples))
	for module, n := range moduleSamples {
		share := ModuleShare{Module: module, Samples: n}
		if len(traces) > 0 {
			share.Percentage = float64(n) / float64(len(traces)) * 100.0
		}
		shares = append(shares, share)
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Samples != shares[j].Samples {
			return shares[i].Samples > shares[j].Samples
		}
		return shares[i].Module < shares[j].Module
	})
	return shares
}

// FormatHotspot returns a human-readable string representation of a hotspot
func FormatHotspot(hs Hotspot, rank int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("#%d: %s!%s\n", rank, hs.Module, hs.Function))
	sb.WriteString(fmt.Sprintf("    Samples: %d (%.2f%%)\n", hs.Samples, hs.Percentage))

	if hs.SourceFile != "" {
		if hs.LineNumber > 0 {
			sb.WriteString(fmt.Sprintf("    Source: %s:%d\n", hs.SourceFile, hs.LineNumber))
		} else {
			sb.WriteString(fmt.Sprintf("    Source: %s\n", hs.SourceFile))
		}
	}

	return sb.String()
}
