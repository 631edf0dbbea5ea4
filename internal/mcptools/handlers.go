package mcptools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"spyview/internal/analyzer"
	"spyview/internal/flame"
	"spyview/internal/stacktrace"
)

// GetStatistics summarizes the process metadata and utilization series
func (t *Tools) GetStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := t.store.Stats()

	status := "running"
	if !stats.Running {
		status = "exited"
	}

	var sb strings.Builder
	sb.WriteString("📊 PROFILE STATISTICS\n")
	sb.WriteString(rule)

	sb.WriteString(fmt.Sprintf("Command: %s\n", stats.Command))
	sb.WriteString(fmt.Sprintf("Version: %s\n", stats.Version))
	sb.WriteString(fmt.Sprintf("Status: %s\n", status))
	sb.WriteString(fmt.Sprintf("Sampling Rate: %d samples/s\n", stats.SamplingRate))
	sb.WriteString(fmt.Sprintf("Recorded: %d buckets (%.1f seconds)\n", stats.Buckets(), float64(stats.Buckets())/10))
	sb.WriteString(fmt.Sprintf("Traces: %d\n\n", t.store.TraceCount()))

	sb.WriteString(fmt.Sprintf("GIL Utilization: %.2f%% average\n", mean(stats.GIL)*100))
	sb.WriteString(fmt.Sprintf("Threads: %d\n", len(stats.Threads)))
	for _, ts := range stats.Threads {
		sb.WriteString(fmt.Sprintf("  %s: %.2f%% active\n", stacktrace.ThreadLabel(ts.ThreadID), mean(ts.Activity)*100))
	}

	return mcp.NewToolResultText(sb.String()), nil
}

func mean(values []float32) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	return sum / float64(len(values))
}

// TraceCount reports the number of stored traces
func (t *Tools) TraceCount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("count %d", t.store.TraceCount())), nil
}

// ViewTrace prints one trace, innermost frame first
func (t *Tools) ViewTrace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := request.RequireFloat("index")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	trace, err := t.store.Trace(int(idx))
	if err != nil {
		return t.toolError("view_trace", err), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📞 TRACE #%d\n", int(idx)))
	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("Thread: %s (%s)\n", stacktrace.ThreadLabel(trace.ThreadID), trace.Status()))
	sb.WriteString(fmt.Sprintf("Stack Depth: %d frames\n\n", len(trace.Frames)))

	sb.WriteString("Call Stack (innermost first):\n\n")
	for i, frame := range trace.Frames {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i, frame.Name))
		if m := frame.ModuleName(); m != "" {
			sb.WriteString(fmt.Sprintf("   module %s\n", m))
		}
		if frame.Line > 0 {
			sb.WriteString(fmt.Sprintf("   %s:%d\n\n", frame.Filename, frame.Line))
		} else {
			sb.WriteString(fmt.Sprintf("   %s\n\n", frame.Filename))
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// AggregateRange prints the merged call tree of a window
func (t *Tools) AggregateRange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traces, opts, err := t.window(request)
	if err != nil {
		return t.toolError("aggregate_range", err), nil
	}
	opts.IncludeLines = request.GetBool("include_lines", false)
	opts.GroupByThread = request.GetBool("include_threads", false)

	maxDepth := int(request.GetFloat("max_depth", 8))
	minPercent := request.GetFloat("min_percent", 1.0)

	root, took := flame.Aggregate(traces, opts)

	var sb strings.Builder
	sb.WriteString("🌳 CALL TREE\n")
	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("Samples: %d (aggregated in %s)\n\n", root.Count, took))

	if root.Count == 0 {
		sb.WriteString("No samples in this window.\n")
		return mcp.NewToolResultText(sb.String()), nil
	}

	writeTree(&sb, root, root.Count, 0, maxDepth, minPercent)
	return mcp.NewToolResultText(sb.String()), nil
}

func writeTree(sb *strings.Builder, n *flame.Node, total uint64, depth, maxDepth int, minPercent float64) {
	children := make([]*flame.Node, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, c)
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].Count != children[j].Count {
			return children[i].Count > children[j].Count
		}
		return children[i].Frame.Name < children[j].Frame.Name
	})

	for _, c := range children {
		pct := float64(c.Count) / float64(total) * 100.0
		if pct < minPercent {
			continue
		}
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(fmt.Sprintf("%.1f%% %s [%d]\n", pct, c.Frame.String(), c.Count))
		if maxDepth <= 0 || depth+1 < maxDepth {
			writeTree(sb, c, total, depth+1, maxDepth, minPercent)
		}
	}
}

// FindHotspots lists functions by inclusive sample share
func (t *Tools) FindHotspots(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traces, _, err := t.window(request)
	if err != nil {
		return t.toolError("find_hotspots", err), nil
	}

	hotspots := analyzer.FindHotspots(traces, topN(request))

	var sb strings.Builder
	sb.WriteString("🔥 TOP HOTSPOTS (Functions Present in Most Samples)\n")
	sb.WriteString(rule)

	if len(hotspots) == 0 {
		sb.WriteString("No hotspots found.\n")
	} else {
		for i, hs := range hotspots {
			sb.WriteString(analyzer.FormatHotspot(hs, i+1))
			sb.WriteString("\n")
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// FindBottomFunctions lists innermost frames by sample share
func (t *Tools) FindBottomFunctions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traces, _, err := t.window(request)
	if err != nil {
		return t.toolError("find_bottom_functions", err), nil
	}

	bottomFuncs := analyzer.FindBottomFunctions(traces, topN(request))

	var sb strings.Builder
	sb.WriteString("🎯 LEAF FUNCTIONS (Where the Interpreter Was Executing)\n")
	sb.WriteString(rule)
	sb.WriteString("These are the innermost frames of each sample.\n")
	sb.WriteString("Optimizing these will have direct performance impact.\n\n")

	if len(bottomFuncs) == 0 {
		sb.WriteString("No leaf functions found.\n")
	} else {
		for i, hs := range bottomFuncs {
			sb.WriteString(analyzer.FormatHotspot(hs, i+1))
			sb.WriteString("\n")
		}
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// AnalyzeModules prints the sample share of each module
func (t *Tools) AnalyzeModules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	traces, _, err := t.window(request)
	if err != nil {
		return t.toolError("analyze_modules", err), nil
	}

	var sb strings.Builder
	sb.WriteString("📦 MODULE ANALYSIS\n")
	sb.WriteString(rule)

	for i, m := range analyzer.FindModuleHotspots(traces) {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, m.Module))
		sb.WriteString(fmt.Sprintf("   Samples: %d (%.2f%%)\n", m.Samples, m.Percentage))

		barLength := min(int(m.Percentage/2), 50)
		sb.WriteString("   ")
		sb.WriteString(strings.Repeat("█", barLength))
		sb.WriteString("\n\n")
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// DetectPerformanceIssues runs the analyzer heuristics over a window
func (t *Tools) DetectPerformanceIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// the heuristics need idle samples to tell a waiting program from a busy one
	traces, err := t.span(request)
	if err != nil {
		return t.toolError("detect_performance_issues", err), nil
	}

	issues := analyzer.DetectPerformanceIssues(traces)

	var sb strings.Builder
	sb.WriteString("⚠️  AUTOMATED PERFORMANCE ISSUE DETECTION\n")
	sb.WriteString(rule)

	if len(issues) == 0 {
		sb.WriteString("✅ No significant performance issues detected!\n")
		return mcp.NewToolResultText(sb.String()), nil
	}

	bySeverity := make(map[string][]analyzer.PerformanceIssue)
	for _, issue := range issues {
		bySeverity[issue.Severity] = append(bySeverity[issue.Severity], issue)
	}

	sections := []struct {
		severity string
		header   string
	}{
		{analyzer.SeverityCritical, "🔴 CRITICAL ISSUES:\n\n"},
		{analyzer.SeverityHigh, "🟠 HIGH PRIORITY ISSUES:\n\n"},
		{analyzer.SeverityMedium, "🟡 MEDIUM PRIORITY ISSUES:\n\n"},
		{analyzer.SeverityLow, "⚪ LOW PRIORITY ISSUES:\n\n"},
	}
	for _, sec := range sections {
		list := bySeverity[sec.severity]
		if len(list) == 0 {
			continue
		}
		sb.WriteString(sec.header)
		for i, issue := range list {
			sb.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, issue.Category, issue.Description))
			if issue.Function != "" {
				sb.WriteString(fmt.Sprintf("   Function: %s!%s\n", issue.Module, issue.Function))
			}
			if issue.Impact > 0 {
				sb.WriteString(fmt.Sprintf("   Impact: %.2f%% of samples\n", issue.Impact))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n📊 SUMMARY:\n")
	for _, sec := range sections {
		sb.WriteString(fmt.Sprintf("   %s: %d\n", sec.severity, len(bySeverity[sec.severity])))
	}

	return mcp.NewToolResultText(sb.String()), nil
}
