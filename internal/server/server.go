// Package server exposes scans, history, diffs and reports over a JSON API
// and streams live scanner output over WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamesruggles/surfacewatch/internal/changes"
	"github.com/jamesruggles/surfacewatch/internal/config"
	"github.com/jamesruggles/surfacewatch/internal/database"
	"github.com/jamesruggles/surfacewatch/internal/pipeline"
	"github.com/jamesruggles/surfacewatch/internal/telemetry"
)

type Options struct {
	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type Server struct {
	cfg      *config.Config
	db       *database.DB
	hub      *Hub
	pipeline *pipeline.Pipeline
	detector *changes.Detector
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	mux      *http.ServeMux

	// scans started over the API outlive their request
	scanCtx    context.Context
	stopScans  context.CancelFunc
	background sync.WaitGroup
}

func New(cfg *config.Config, db *database.DB, p *pipeline.Pipeline, hub *Hub, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.New(nil)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:       cfg,
		db:        db,
		hub:       hub,
		pipeline:  p,
		detector:  changes.NewDetector(db),
		metrics:   opts.Metrics,
		gatherer:  opts.Gatherer,
		logger:    opts.Logger,
		mux:       http.NewServeMux(),
		scanCtx:   ctx,
		stopScans: cancel,
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(securityHeaders(s.loggingMiddleware(s.mux)))
}

// ListenAndServe serves until ctx is done, then shuts down and waits for
// scans started over the API to stop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close cancels scans started over the API and waits for them.
func (s *Server) Close() {
	s.stopScans()
	s.background.Wait()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// API
	s.mux.HandleFunc("/api/profiles", s.handleAPIProfiles)
	s.mux.HandleFunc("/api/tools/status", s.handleAPIToolStatus)
	s.mux.HandleFunc("/api/scans", s.handleAPIScans)
	s.mux.HandleFunc("/api/scans/", s.handleAPIScan)
	s.mux.HandleFunc("/api/diff", s.handleAPIDiff)
	s.mux.HandleFunc("/api/history", s.handleAPIHistory)
	s.mux.HandleFunc("/api/reports", s.handleAPIReports)
	s.mux.HandleFunc("/api/reports/", s.handleAPIReport)

	// WebSocket
	s.mux.HandleFunc("/ws", s.handleWebSocket)
}
