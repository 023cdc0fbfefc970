package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Options configures the HTTP server.
type Options struct {
	Port           int
	Handlers       *Handlers
	Metrics        http.Handler // promhttp handler, optional
	RatePerMin     int
	RateBurst      int
	Log            *slog.Logger
	RequestTimeout time.Duration
}

// Server is the HTTP boundary of the orchestrator.
type Server struct {
	http *http.Server
	log  *slog.Logger
}

// New assembles routes and middleware into a ready-to-start server.
func New(opts Options) *Server {
	mux := http.NewServeMux()
	h := opts.Handlers

	mux.HandleFunc("POST /api/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /api/jobs/{id}/retry", h.RetryJob)
	mux.HandleFunc("GET /api/jobs/{id}/logs", h.GetLogs)
	mux.HandleFunc("GET /api/jobs/{id}/artifacts", h.ListArtifacts)
	mux.HandleFunc("GET /api/jobs/{id}/artifacts/{name...}", h.DownloadArtifact)
	mux.HandleFunc("GET /api/health", h.Health)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	var handler http.Handler = mux
	handler = RateLimit(opts.RatePerMin, opts.RateBurst)(handler)
	handler = RequestLog(opts.Log)(handler)
	handler = RequestID(handler)

	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: opts.Log,
	}
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.log.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
