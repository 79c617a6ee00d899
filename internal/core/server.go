// Package core provides the HTTP chassis for the admin API of the listing
// alerts service. It builds a chi router with the cross-cutting concerns
// (recovery, request IDs, logging, metrics, authentication, rate limiting and
// compression) applied before requests reach the domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"adalerts/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	// RecordRequest records the latency and outcome of one request. endpoint
	// is the matched route pattern, not the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// ShutdownHook releases a resource owned by the server's dependencies.
type ShutdownHook func(ctx context.Context) error

// Server encapsulates all dependencies for the admin API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config         *config.Config
	Logger         *slog.Logger
	Validator      *Validator
	Metrics        MetricsCollector
	MetricsHandler http.Handler // Served at GET /metrics when set.
	Authenticator  Authenticator
	RateLimitStore RateLimitStore
	HealthChecks   []HealthCheck

	// V1RouteRegistrars mount domain handlers under /v1. They are populated
	// by the entry point to keep handler packages out of the chassis.
	V1RouteRegistrars []func(chi.Router)

	shutdownHooks []ShutdownHook
	router        *chi.Mux
}

// NewServer validates the critical dependencies and prepares an empty
// router. The caller mounts routes with MountRoutes after wiring the optional
// collaborators.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a hook run by Shutdown in reverse registration order.
func (s *Server) OnShutdown(hook ShutdownHook) {
	s.shutdownHooks = append(s.shutdownHooks, hook)
}

// Shutdown runs every registered hook, continuing past failures, and
// returns the joined errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for i := len(s.shutdownHooks) - 1; i >= 0; i-- {
		if err := s.shutdownHooks[i](ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return errors.Join(errs...)
}
