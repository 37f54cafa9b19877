package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"

	"github.com/mattjoyce/tapemaint/internal/events"
	"github.com/mattjoyce/tapemaint/internal/maintenance"
	"github.com/mattjoyce/tapemaint/internal/schedstore"
)

// RunnerView exposes the runner state the API reports.
type RunnerView interface {
	Snapshot() maintenance.Snapshot
}

// QueueSummarizer reports scheduler queue sizes.
type QueueSummarizer interface {
	QueueSummary(ctx context.Context) ([]schedstore.QueueCount, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey protects /v1 and /events. Empty leaves them open.
	APIKey string
}

// Server is the read-only status API of the maintenance daemon.
type Server struct {
	config    Config
	runner    RunnerView
	queues    QueueSummarizer
	events    *events.Hub
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	ready     atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

func New(config Config, runner RunnerView, queues QueueSummarizer, hub *events.Hub, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		config:    config,
		runner:    runner,
		queues:    queues,
		events:    hub,
		gatherer:  prometheus.DefaultGatherer,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.APIKey != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.ready.Store(true)

	select {
	case <-ctx.Done():
		s.ready.Store(false)
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		s.ready.Store(false)
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler, usable without Start.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/v1/routines", s.handleRoutines)
		r.Get("/v1/queues", s.handleQueues)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
