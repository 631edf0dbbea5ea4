package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"spyview/internal/analyzer"
	"spyview/internal/flame"
	"spyview/internal/stacktrace"
	"spyview/internal/store"
)

const defaultTopN = 20

// flag reports whether a query parameter is present, with or without a value
func flag(r *http.Request, name string) bool {
	_, ok := r.URL.Query()[name]
	return ok
}

func aggregateOptions(r *http.Request) flame.Options {
	return flame.Options{
		IncludeLines:  flag(r, "include_lines"),
		GroupByThread: flag(r, "include_threads"),
		IncludeIdle:   flag(r, "include_idle"),
		GILOnly:       flag(r, "gil_only"),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers 400 for invalid requests and 500 otherwise
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Error("Request failed", zap.Error(err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func parseUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", store.ErrInvalidRequest, name, r.PathValue(name))
	}
	return v, nil
}

// window returns the traces between the start_time and end_time path values
func (s *Server) window(r *http.Request) ([]stacktrace.StackTrace, error) {
	start, err := parseUint(r, "start_time")
	if err != nil {
		return nil, err
	}
	end, err := parseUint(r, "end_time")
	if err != nil {
		return nil, err
	}
	return s.store.Range(start, end)
}

func (s *Server) observe(kind string, took time.Duration, traces int) {
	if s.metrics != nil {
		s.metrics.AggregationSeconds.WithLabelValues(kind).Observe(took.Seconds())
	}
	s.logger.Debug("Aggregated traces",
		zap.String("kind", kind),
		zap.Int("traces", traces),
		zap.Duration("took", took))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.store.Stats())
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	traces, err := s.window(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	opts := aggregateOptions(r)
	root, took := flame.Aggregate(traces, opts)
	s.observe("flame", took, len(traces))

	writeJSON(w, flame.NewView(root, opts.IncludeLines))
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: trace id %q is not a number", store.ErrInvalidRequest, r.PathValue("id")))
		return
	}

	trace, err := s.store.Trace(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, trace)
}

func (s *Server) handleTraceCount(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "count %d", s.store.TraceCount())
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	traces, err := s.window(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	start := time.Now()
	p := flame.Profile(traces, aggregateOptions(r), s.store.SamplingRate())
	s.observe("pprof", time.Since(start), len(traces))

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="profile.pb.gz"`)
	if err := p.Write(w); err != nil {
		s.logger.Warn("Failed to write profile", zap.Error(err))
	}
}

// HotspotReport is the response of the hotspots endpoint
type HotspotReport struct {
	Statistics analyzer.WindowStatistics   `json:"statistics"`
	Hotspots   []analyzer.Hotspot          `json:"hotspots"`
	Bottom     []analyzer.Hotspot          `json:"bottom"`
	Modules    []analyzer.ModuleShare      `json:"modules"`
	Issues     []analyzer.PerformanceIssue `json:"issues"`
}

func (s *Server) handleHotspots(w http.ResponseWriter, r *http.Request) {
	traces, err := s.window(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	topN := defaultTopN
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, fmt.Errorf("%w: top %q is not a count", store.ErrInvalidRequest, v))
			return
		}
		topN = n
	}

	start := time.Now()
	report := HotspotReport{
		Statistics: analyzer.ComputeStatistics(traces),
		Hotspots:   analyzer.FindHotspots(traces, topN),
		Bottom:     analyzer.FindBottomFunctions(traces, topN),
		Modules:    analyzer.FindModuleHotspots(traces),
		Issues:     analyzer.DetectPerformanceIssues(traces),
	}
	s.observe("hotspots", time.Since(start), len(traces))

	writeJSON(w, report)
}
