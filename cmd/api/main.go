// Package main is the entry point for the adalerts admin API server.
//
// It loads configuration, builds the shared runtime (Postgres pool, optional
// Redis publish guard, notification engine), mounts the admin and
// subscription handlers on the core chassis and serves HTTP until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adalerts/internal/api/handlers"
	"adalerts/internal/bootstrap"
	"adalerts/internal/config"
	"adalerts/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := bootstrap.NewLogger(cfg.LogLevel)
	logger.Info("adalerts API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx := context.Background()
	rt, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Registerer: reg})
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}

	srv, err := buildServer(cfg, logger, rt, reg)
	if err != nil {
		rt.Close()
		return err
	}
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires the chassis dependencies and route registrars.
func buildServer(cfg *config.Config, logger *slog.Logger, rt *bootstrap.Runtime, reg *prometheus.Registry) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	authenticator, err := core.NewAdminKeyAuthenticator(cfg.Security.AdminAPIKeyHash)
	if err != nil {
		return nil, fmt.Errorf("creating admin authenticator: %w", err)
	}
	srv.Authenticator = authenticator
	srv.RateLimitStore = core.NewMemoryRateLimitStore(rt.Clock)

	httpMetrics, err := core.NewPrometheusHTTPMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering http metrics: %w", err)
	}
	srv.Metrics = httpMetrics
	srv.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	srv.HealthChecks = append(srv.HealthChecks, core.NewPingCheck("database", rt.Pool.Ping))
	if rt.Guard != nil {
		srv.HealthChecks = append(srv.HealthChecks, core.NewOptionalCheck("redis", rt.Guard.Ping))
	}

	deps := handlers.AdminDeps{
		Trigger: rt.Engine,
		Sweeper: rt.Engine,
		Policy:  rt.Policy,
		Queue:   rt.Queue,
		Clock:   rt.Clock,
	}
	if rt.Events != nil {
		deps.Events = rt.Events
	}
	adminHandler := handlers.NewAdminHandler(deps, srv.Validator, logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(rt.Subscriptions, srv.Validator, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		adminHandler.RegisterRoutes,
		subscriptionHandler.RegisterRoutes,
	)

	srv.OnShutdown(func(context.Context) error {
		rt.Close()
		return nil
	})
	return srv, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Releases the pool and Redis client.
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
