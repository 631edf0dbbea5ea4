// Package mcptools exposes the live store to MCP clients as a set of tools.
package mcptools

import (
	"errors"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"spyview/internal/flame"
	"spyview/internal/stacktrace"
	"spyview/internal/store"
)

const rule = "═══════════════════════════════════════════════════\n\n"

// Tools holds the tool handlers. Every handler reads the store through its
// locking methods and reports bad input as a tool error result.
type Tools struct {
	store  *store.Store
	logger *zap.Logger
}

// New returns the tool handlers for st
func New(st *store.Store, logger *zap.Logger) *Tools {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tools{store: st, logger: logger}
}

// NewServer builds an MCP server with every tool registered
func NewServer(st *store.Store, version string, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"spyview",
		version,
		server.WithLogging(),
	)
	New(st, logger).Register(s)
	return s
}

func spanOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithNumber("start_time",
			mcp.Description("Window start in elapsed milliseconds (default: 0)"),
		),
		mcp.WithNumber("end_time",
			mcp.Description("Window end in elapsed milliseconds (default: end of recording)"),
		),
	}
}

func rangeOptions() []mcp.ToolOption {
	return append(spanOptions(),
		mcp.WithBoolean("include_idle",
			mcp.Description("Include samples of threads that were not running"),
		),
		mcp.WithBoolean("gil_only",
			mcp.Description("Only include samples of threads holding the GIL"),
		),
	)
}

func topNOption() mcp.ToolOption {
	return mcp.WithNumber("top_n",
		mcp.Description("Number of entries to return (default: 10)"),
	)
}

func tool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)...)
}

// Register adds every tool to s
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(tool("get_statistics",
		"Get the profiled command, whether it is still running, the sampling rate and a summary of the GIL and per-thread utilization series."),
		t.GetStatistics)

	s.AddTool(tool("trace_count",
		"Get the number of stack traces recorded so far."),
		t.TraceCount)

	s.AddTool(tool("view_trace",
		"View a single recorded stack trace with its thread, status and frames.",
		mcp.WithNumber("index",
			mcp.Required(),
			mcp.Description("Index of the trace (0-based, see trace_count)"),
		)),
		t.ViewTrace)

	s.AddTool(tool("aggregate_range",
		"Merge the traces of a time window into a call tree, the same data the flame graph shows.",
		append(rangeOptions(),
			mcp.WithBoolean("include_lines", mcp.Description("Distinguish frames by line number")),
			mcp.WithBoolean("include_threads", mcp.Description("Group the tree by thread")),
			mcp.WithNumber("max_depth", mcp.Description("Maximum tree depth to print (default: 8)")),
			mcp.WithNumber("min_percent", mcp.Description("Hide nodes below this share of the window (default: 1.0)")),
		)...),
		t.AggregateRange)

	s.AddTool(tool("find_hotspots",
		"Find the functions present in the most samples of a time window (inclusive time). This is the most important tool for identifying performance bottlenecks.",
		append(rangeOptions(), topNOption())...),
		t.FindHotspots)

	s.AddTool(tool("find_bottom_functions",
		"Find leaf functions (innermost frames - where the interpreter was actually executing). These are often the real performance bottlenecks to optimize.",
		append(rangeOptions(), topNOption())...),
		t.FindBottomFunctions)

	s.AddTool(tool("analyze_modules",
		"Analyze the share of samples passing through each module. Useful for identifying which components or libraries are consuming resources.",
		rangeOptions()...),
		t.AnalyzeModules)

	s.AddTool(tool("detect_performance_issues",
		"Automatically detect potential performance issues using heuristics, including GIL contention between threads. This is a great starting point for performance analysis.",
		spanOptions()...),
		t.DetectPerformanceIssues)
}

// span returns every trace between the optional start_time and end_time
func (t *Tools) span(request mcp.CallToolRequest) ([]stacktrace.StackTrace, error) {
	start := request.GetFloat("start_time", 0)
	end := request.GetFloat("end_time", math.MaxUint64)
	if start < 0 || end < 0 {
		return nil, fmt.Errorf("%w: negative time", store.ErrInvalidRequest)
	}
	return t.store.Range(toMS(start), toMS(end))
}

// window is span with the include_idle and gil_only filters applied
func (t *Tools) window(request mcp.CallToolRequest) ([]stacktrace.StackTrace, flame.Options, error) {
	opts := flame.Options{
		IncludeIdle: request.GetBool("include_idle", false),
		GILOnly:     request.GetBool("gil_only", false),
	}

	traces, err := t.span(request)
	if err != nil {
		return nil, opts, err
	}

	kept := make([]stacktrace.StackTrace, 0, len(traces))
	for _, trace := range traces {
		if opts.Keep(trace) {
			kept = append(kept, trace)
		}
	}
	return kept, opts, nil
}

func toMS(v float64) uint64 {
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(v)
}

func topN(request mcp.CallToolRequest) int {
	n := int(request.GetFloat("top_n", 10))
	if n <= 0 {
		return 10
	}
	return n
}

// toolError turns invalid requests into tool results and logs anything else
func (t *Tools) toolError(name string, err error) *mcp.CallToolResult {
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.logger.Error("Tool failed", zap.String("tool", name), zap.Error(err))
	}
	return mcp.NewToolResultError(err.Error())
}
