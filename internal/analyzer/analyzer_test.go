package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spyview/internal/stacktrace"
)

func pyFrame(name, module string, line int) stacktrace.Frame {
	return stacktrace.Frame{
		Name:     name,
		Filename: "/srv/" + module + ".py",
		Module:   stacktrace.StrPtr(module),
		Line:     line,
	}
}

var (
	fMain  = pyFrame("main", "app", 1)
	fWork  = pyFrame("work", "app", 10)
	fHash  = pyFrame("sha256", "hashlib", 3)
	fSleep = pyFrame("sleep", "time", 7)
)

// innermost first
func tr(thread uint64, active, gil bool, frames ...stacktrace.Frame) stacktrace.StackTrace {
	return stacktrace.StackTrace{ThreadID: thread, Frames: frames, Active: active, OwnsGIL: gil}
}

func sampleWindow() []stacktrace.StackTrace {
	return []stacktrace.StackTrace{
		tr(1, true, true, fHash, fWork, fMain),
		tr(1, true, true, fHash, fWork, fMain),
		tr(1, true, true, fWork, fMain),
		tr(2, false, false, fSleep, fMain),
	}
}

func TestFindHotspots(t *testing.T) {
	hotspots := FindHotspots(sampleWindow(), 0)
	require.Len(t, hotspots, 4)

	assert.Equal(t, "main", hotspots[0].Function)
	assert.Equal(t, 4, hotspots[0].Samples)
	assert.InDelta(t, 100.0, hotspots[0].Percentage, 1e-9)

	assert.Equal(t, "work", hotspots[1].Function)
	assert.Equal(t, 3, hotspots[1].Samples)
	assert.InDelta(t, 75.0, hotspots[1].Percentage, 1e-9)

	top := FindHotspots(sampleWindow(), 2)
	assert.Len(t, top, 2)
}

func TestFindHotspotsRecursionCountedOnce(t *testing.T) {
	traces := []stacktrace.StackTrace{tr(1, true, true, fWork, fWork, fWork, fMain)}
	hotspots := FindHotspots(traces, 0)
	for _, hs := range hotspots {
		assert.Equal(t, 1, hs.Samples, hs.Function)
	}
}

func TestFindBottomFunctions(t *testing.T) {
	bottom := FindBottomFunctions(sampleWindow(), 0)
	require.Len(t, bottom, 3)
	assert.Equal(t, "sha256", bottom[0].Function)
	assert.Equal(t, "hashlib", bottom[0].Module)
	assert.Equal(t, 2, bottom[0].Samples)
	assert.InDelta(t, 50.0, bottom[0].Percentage, 1e-9)

	// ties ordered by module then function
	assert.Equal(t, "work", bottom[1].Function)
	assert.Equal(t, "sleep", bottom[2].Function)
}

func TestFindModuleHotspots(t *testing.T) {
	shares := FindModuleHotspots(sampleWindow())
	require.Len(t, shares, 3)
	assert.Equal(t, ModuleShare{Module: "app", Samples: 4, Percentage: 100}, shares[0])
	assert.Equal(t, "hashlib", shares[1].Module)
	assert.Equal(t, "time", shares[2].Module)
}

func TestModuleFallsBackToFile(t *testing.T) {
	f := stacktrace.Frame{Name: "f", Filename: "x.py"}
	assert.Equal(t, "x.py", moduleOf(f))
	assert.Equal(t, unknownModule, moduleOf(stacktrace.Frame{Name: "f"}))
}

func TestComputeStatistics(t *testing.T) {
	stats := ComputeStatistics(sampleWindow())
	assert.Equal(t, WindowStatistics{
		TotalTraces:       4,
		ActiveTraces:      3,
		GILTraces:         3,
		AverageStackDepth: 2.5,
		MaxStackDepth:     3,
		MinStackDepth:     2,
		UniqueModules:     3,
		UniqueFunctions:   4,
		UniqueThreads:     2,
		ActiveThreads:     1,
	}, stats)

	assert.Equal(t, WindowStatistics{}, ComputeStatistics(nil))
}

func TestDetectPerformanceIssues(t *testing.T) {
	issues := DetectPerformanceIssues(sampleWindow())
	require.NotEmpty(t, issues)

	// sha256 runs in 2 of 3 active samples, work in the remaining one
	assert.Equal(t, SeverityCritical, issues[0].Severity)
	assert.Equal(t, "CPU Hotspot", issues[0].Category)
	assert.Equal(t, "sha256", issues[0].Function)

	for i := 1; i < len(issues); i++ {
		assert.GreaterOrEqual(t, issues[i-1].Impact, issues[i].Impact)
	}
}

func TestDetectGILContention(t *testing.T) {
	var traces []stacktrace.StackTrace
	for i := 0; i < 10; i++ {
		traces = append(traces, tr(uint64(i%4), true, i%4 == 0, fWork, fMain))
	}

	var found *PerformanceIssue
	for _, issue := range DetectPerformanceIssues(traces) {
		if issue.Category == "GIL Contention" {
			issue := issue
			found = &issue
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, SeverityMedium, found.Severity)
	assert.InDelta(t, 70.0, found.Impact, 1e-9)
}

func TestDetectDeepStackAndIdle(t *testing.T) {
	deep := make([]stacktrace.Frame, 60)
	for i := range deep {
		deep[i] = fWork
	}
	traces := []stacktrace.StackTrace{tr(1, false, false, deep...)}

	categories := map[string]string{}
	for _, issue := range DetectPerformanceIssues(traces) {
		categories[issue.Category] = issue.Severity
	}
	assert.Equal(t, SeverityHigh, categories["Deep Call Stack"])
	assert.Equal(t, SeverityLow, categories["Mostly Idle"])

	assert.Empty(t, DetectPerformanceIssues(nil))
}

func TestFormatHotspot(t *testing.T) {
	out := FormatHotspot(Hotspot{
		Function:   "work",
		Module:     "app",
		SourceFile: "/srv/app.py",
		LineNumber: 10,
		Samples:    3,
		Percentage: 75,
	}, 1)

	assert.True(t, strings.HasPrefix(out, "#1: app!work\n"))
	assert.Contains(t, out, "Samples: 3 (75.00%)")
	assert.Contains(t, out, "Source: /srv/app.py:10")
}
