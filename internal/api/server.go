package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/zonectl/internal/dispatch"
	"github.com/mattjoyce/zonectl/internal/events"
	"github.com/mattjoyce/zonectl/internal/journal"
	"github.com/mattjoyce/zonectl/internal/zone"
)

// Dispatcher defines the dispatcher operations the API exposes.
type Dispatcher interface {
	DispatchCommand(cmd zone.Command, zoneName string) error
	Status(zoneName string) (dispatch.ZoneStatus, bool)
	Statuses() []dispatch.ZoneStatus
	Summary() dispatch.Report
	RequestStopAll()
}

// History reads journaled command outcomes.
type History interface {
	Recent(ctx context.Context, zone string, limit int) ([]journal.Entry, error)
}

// EventSource streams zone lifecycle events.
type EventSource interface {
	Subscribe(prefix string) (<-chan events.Event, func())
	SnapshotSince(lastID int64, prefix string) []events.Event
}

// Config holds API server configuration
type Config struct {
	Listen string
	// Token is the bearer token required on protected routes. Empty disables auth.
	Token string
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	dispatcher Dispatcher
	history    History
	events     EventSource
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
	stopped    atomic.Bool
}

// New creates a new API server instance. history and events may be nil, in
// which case their routes answer 404.
func New(config Config, dispatcher Dispatcher, history History, events EventSource, logger *slog.Logger) *Server {
	return &Server{
		config:     config,
		dispatcher: dispatcher,
		history:    history,
		events:     events,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen, "auth", s.config.Token != "")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/openapi.json", s.handleOpenAPI)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/zones", s.handleListZones)
		r.Get("/zones/{zone}", s.handleGetZone)
		r.Post("/zones/{zone}/commands", s.handleDispatch)
		r.Get("/zones/{zone}/history", s.handleHistory)
		r.Get("/summary", s.handleSummary)
		r.Post("/stop", s.handleStop)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
