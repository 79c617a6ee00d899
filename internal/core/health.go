package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the whole /health request; checks still running
// at the deadline are reported as failing.
const healthCheckTimeout = 2 * time.Second

// Overall health states.
const (
	healthOK       = "ok"
	healthDegraded = "degraded"
	healthDown     = "down"
)

// Component states.
const (
	componentOK      = "ok"
	componentFailing = "failing"
)

// HealthCheck checks one dependency. A failing critical check takes the
// service down (503); a failing optional check only degrades it (200).
type HealthCheck interface {
	Name() string
	Critical() bool
	Check(ctx context.Context) error
}

// PingCheck adapts a Ping-style function to HealthCheck.
type PingCheck struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
}

// NewPingCheck returns a critical check. The database is critical: without
// it nothing can be enqueued or claimed.
func NewPingCheck(name string, ping func(ctx context.Context) error) PingCheck {
	return PingCheck{name: name, critical: true, ping: ping}
}

// NewOptionalCheck returns a check whose failure only degrades the service,
// e.g. the Redis publish guard, which fails open.
func NewOptionalCheck(name string, ping func(ctx context.Context) error) PingCheck {
	return PingCheck{name: name, ping: ping}
}

func (p PingCheck) Name() string                    { return p.name }
func (p PingCheck) Critical() bool                  { return p.critical }
func (p PingCheck) Check(ctx context.Context) error { return p.ping(ctx) }

type componentReport struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type healthReport struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentReport `json:"components,omitempty"`
}

// HandleHealth runs every check in parallel under one deadline and answers
// 200 for ok or degraded and 503 for down. Served unauthenticated at
// GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	report := healthReport{Status: healthOK, Version: s.Config.Build.Version}
	if len(s.HealthChecks) > 0 {
		report.Components = make(map[string]componentReport, len(s.HealthChecks))
	}

	// Each check owns one slot; the buffered channel lets late checks finish
	// without blocking after the handler has returned.
	type outcome struct {
		idx     int
		err     error
		latency time.Duration
	}
	results := make(chan outcome, len(s.HealthChecks))
	for i, check := range s.HealthChecks {
		go func() {
			start := time.Now()
			err := runCheck(ctx, check)
			results <- outcome{idx: i, err: err, latency: time.Since(start)}
		}()
	}

	finished := make([]*outcome, len(s.HealthChecks))
collect:
	for range s.HealthChecks {
		select {
		case o := <-results:
			finished[o.idx] = &o
		case <-ctx.Done():
			break collect
		}
	}

	for i, check := range s.HealthChecks {
		c := componentReport{Status: componentOK, Critical: check.Critical()}
		switch o := finished[i]; {
		case o == nil:
			c.Status = componentFailing
			c.Error = "health check timed out"
			c.LatencyMS = healthCheckTimeout.Milliseconds()
		case o.err != nil:
			c.Status = componentFailing
			c.Error = o.err.Error()
			c.LatencyMS = o.latency.Milliseconds()
		default:
			c.LatencyMS = o.latency.Milliseconds()
		}
		report.Components[check.Name()] = c

		if c.Status == componentFailing {
			if c.Critical {
				report.Status = healthDown
			} else if report.Status == healthOK {
				report.Status = healthDegraded
			}
		}
	}

	status := http.StatusOK
	if report.Status == healthDown {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, report)
}

// runCheck converts a panicking check into a failure.
func runCheck(ctx context.Context, p HealthCheck) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("check panicked: %v", rec)
		}
	}()
	return p.Check(ctx)
}
