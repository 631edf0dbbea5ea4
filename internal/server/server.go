// Package server exposes the store over HTTP for the flame graph UI.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"spyview/internal/metrics"
	"spyview/internal/store"
)

// Server routes HTTP requests to the store
type Server struct {
	store    *store.Store
	logger   *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	handler  http.Handler
	http     *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the access and error logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics counts requests in m and serves g on /metrics
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// New builds the route table for st
func New(st *store.Store, opts ...Option) *Server {
	s := &Server{
		store:  st,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	s.handle(mux, "GET /stats/{$}", s.handleStats)
	s.handle(mux, "GET /aggregates/{start_time}/{end_time}", s.handleAggregates)
	s.handle(mux, "GET /trace/{id}", s.handleTrace)
	s.handle(mux, "GET /tracecount", s.handleTraceCount)
	s.handle(mux, "GET /assets/{filename}", s.handleAsset)
	s.handle(mux, "GET /{$}", s.handleIndex)
	s.handle(mux, "GET /profile/{start_time}/{end_time}", s.handleProfile)
	s.handle(mux, "GET /hotspots/{start_time}/{end_time}", s.handleHotspots)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.handleNotFound)

	s.handler = s.accessLog(s.recoverPanic(mux))
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	return s
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, h))
}

// Handler returns the root handler with logging and panic recovery applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until Shutdown is called
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Serving profile viewer", zap.String("addr", ln.Addr().String()))
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on addr and serves until Shutdown is called
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
