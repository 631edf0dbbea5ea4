package analyzer

import (
	"fmt"
	"sort"

	"spyview/internal/stacktrace"
)

// WindowStatistics summarizes a window of traces
type WindowStatistics struct {
	TotalTraces       int     `json:"total_traces"`
	ActiveTraces      int     `json:"active_traces"`
	GILTraces         int     `json:"gil_traces"`
	AverageStackDepth float64 `json:"average_stack_depth"`
	MaxStackDepth     int     `json:"max_stack_depth"`
	MinStackDepth     int     `json:"min_stack_depth"`
	UniqueModules     int     `json:"unique_modules"`
	UniqueFunctions   int     `json:"unique_functions"`
	UniqueThreads     int     `json:"unique_threads"`
	ActiveThreads     int     `json:"active_threads"`
}

// ComputeStatistics calculates depth, uniqueness and activity counts for traces
func ComputeStatistics(traces []stacktrace.StackTrace) WindowStatistics {
	stats := WindowStatistics{TotalTraces: len(traces)}
	if len(traces) == 0 {
		return stats
	}

	totalDepth := 0
	stats.MinStackDepth = len(traces[0].Frames)

	moduleSet := make(map[string]bool)
	functionSet := make(map[string]bool)
	threadSet := make(map[uint64]bool)
	activeThreadSet := make(map[uint64]bool)

	for _, trace := range traces {
		depth := len(trace.Frames)
		totalDepth += depth
		stats.MaxStackDepth = max(stats.MaxStackDepth, depth)
		stats.MinStackDepth = min(stats.MinStackDepth, depth)

		threadSet[trace.ThreadID] = true
		if trace.Active {
			stats.ActiveTraces++
			activeThreadSet[trace.ThreadID] = true
		}
		if trace.OwnsGIL {
			stats.GILTraces++
		}

		for _, frame := range trace.Frames {
			if m := frame.ModuleName(); m != "" {
				moduleSet[m] = true
			}
			functionSet[signature(frame)] = true
		}
	}

	stats.AverageStackDepth = float64(totalDepth) / float64(stats.TotalTraces)
	stats.UniqueModules = len(moduleSet)
	stats.UniqueFunctions = len(functionSet)
	stats.UniqueThreads = len(threadSet)
	stats.ActiveThreads = len(activeThreadSet)

	return stats
}

// Severity levels, most severe first
const (
	SeverityCritical = "Critical"
	SeverityHigh     = "High"
	SeverityMedium   = "Medium"
	SeverityLow      = "Low"
)

// PerformanceIssue is a problem found by DetectPerformanceIssues
type PerformanceIssue struct {
	Severity    string  `json:"severity"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Function    string  `json:"function,omitempty"`
	Module      string  `json:"module,omitempty"`
	Impact      float64 `json:"impact"` // % of the window
}

const (
	deepStackFrames = 50
	criticalSelfPct = 20.0
	highSelfPct     = 10.0
	mostlyIdlePct   = 10.0
)

// DetectPerformanceIssues runs heuristics over a window of traces:
// deep stacks, functions with a large self share, GIL contention between
// active threads and windows where almost nothing ran.
func DetectPerformanceIssues(traces []stacktrace.StackTrace) []PerformanceIssue {
	issues := []PerformanceIssue{}
	stats := ComputeStatistics(traces)
	if stats.TotalTraces == 0 {
		return issues
	}

	if stats.MaxStackDepth > deepStackFrames {
		issues = append(issues, PerformanceIssue{
			Severity:    SeverityHigh,
			Category:    "Deep Call Stack",
			Description: fmt.Sprintf("Maximum stack depth of %d frames detected. This may indicate deep recursion or complex call chains.", stats.MaxStackDepth),
		})
	}

	active := make([]stacktrace.StackTrace, 0, stats.ActiveTraces)
	for _, trace := range traces {
		if trace.Active {
			active = append(active, trace)
		}
	}

	for _, hs := range FindBottomFunctions(active, 10) {
		var severity string
		switch {
		case hs.Percentage > criticalSelfPct:
			severity = SeverityCritical
		case hs.Percentage > highSelfPct:
			severity = SeverityHigh
		default:
			continue
		}
		issues = append(issues, PerformanceIssue{
			Severity:    severity,
			Category:    "CPU Hotspot",
			Description: fmt.Sprintf("Function is executing in %.2f%% of active samples", hs.Percentage),
			Function:    hs.Function,
			Module:      hs.Module,
			Impact:      hs.Percentage,
		})
	}

	// threads that were running but not holding the GIL were waiting for it
	if stats.ActiveThreads > 1 && stats.ActiveTraces > 0 {
		waiting := 0
		for _, trace := range active {
			if !trace.OwnsGIL {
				waiting++
			}
		}
		pct := float64(waiting) / float64(stats.ActiveTraces) * 100.0
		if pct >= 50.0 {
			severity := SeverityMedium
			if pct >= 75.0 {
				severity = SeverityHigh
			}
			issues = append(issues, PerformanceIssue{
				Severity:    severity,
				Category:    "GIL Contention",
				Description: fmt.Sprintf("%.2f%% of active samples across %d threads did not hold the GIL", pct, stats.ActiveThreads),
				Impact:      pct,
			})
		}
	}

	activePct := float64(stats.ActiveTraces) / float64(stats.TotalTraces) * 100.0
	if activePct < mostlyIdlePct {
		issues = append(issues, PerformanceIssue{
			Severity:    SeverityLow,
			Category:    "Mostly Idle",
			Description: fmt.Sprintf("Only %.2f%% of samples were active; the program is likely I/O bound or waiting", activePct),
			Impact:      100.0 - activePct,
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Impact > issues[j].Impact
	})

	return issues
}
