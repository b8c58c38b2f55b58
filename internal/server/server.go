// Package server exposes health, version and check results over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/runwatch/internal/errors"
	"github.com/3leaps/runwatch/internal/server/handlers"
	"github.com/3leaps/runwatch/internal/server/middleware"
)

// Timeouts tune the underlying http.Server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts returns the timeouts used when none are set.
func DefaultTimeouts() Timeouts {
	return Timeouts{Read: 30 * time.Second, Write: 30 * time.Second, Idle: 120 * time.Second, Shutdown: 10 * time.Second}
}

// Server is the serve-mode HTTP server.
type Server struct {
	host     string
	port     int
	router   chi.Router
	timeouts Timeouts
	logger   *zap.Logger

	version handlers.VersionInfo
	reports handlers.ReportSource
	history handlers.HistorySource
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the body of /version.
func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

// WithReports enables /v1/runs and /v1/durations.
func WithReports(src handlers.ReportSource) Option {
	return func(s *Server) { s.reports = src }
}

// WithHistory enables /v1/checks.
func WithHistory(src handlers.HistorySource) Option {
	return func(s *Server) { s.history = src }
}

// WithTimeouts overrides the default timeouts. Zero fields keep defaults.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) {
		d := DefaultTimeouts()
		if t.Read <= 0 {
			t.Read = d.Read
		}
		if t.Write <= 0 {
			t.Write = d.Write
		}
		if t.Idle <= 0 {
			t.Idle = d.Idle
		}
		if t.Shutdown <= 0 {
			t.Shutdown = d.Shutdown
		}
		s.timeouts = t
	}
}

// WithLogger sets the request and lifecycle logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server listening on host:port once started.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:     host,
		port:     port,
		timeouts: DefaultTimeouts(),
		logger:   zap.NewNop(),
		version:  handlers.NewVersionInfo("dev", "", ""),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(middleware.ErrorHandler)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFound("route "+req.URL.Path+" not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowed("method "+req.Method+" not allowed on "+req.URL.Path))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs", handlers.RunsHandler(s.reports))
		r.Get("/durations", handlers.DurationsHandler(s.reports))
		if s.history != nil {
			r.Get("/checks", handlers.ChecksHandler(s.history))
			r.Get("/checks/{id}", handlers.CheckHandler(s.history))
		}
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeouts.Shutdown)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
