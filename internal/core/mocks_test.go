package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"adalerts/internal/config"
	"adalerts/internal/types"
)

// MockAuthenticator returns Actor or Err for every token and records calls.
type MockAuthenticator struct {
	Actor *types.Actor
	Err   error

	mu    sync.Mutex
	Calls []string
}

func (m *MockAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// MockRateLimitStore returns Result or Err and records the keys it saw.
type MockRateLimitStore struct {
	Result RateLimitResult
	Err    error

	mu   sync.Mutex
	Keys []string
}

func (m *MockRateLimitStore) IncrementAndCheck(_ context.Context, key string, _ int, _ time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Keys = append(m.Keys, key)
	m.mu.Unlock()
	return m.Result, m.Err
}

type recordedRequest struct {
	method, endpoint, status string
}

// MockMetrics records every RecordRequest call.
type MockMetrics struct {
	mu       sync.Mutex
	Requests []recordedRequest
}

func (m *MockMetrics) RecordRequest(method, endpoint, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, recordedRequest{method, endpoint, status})
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Environment: "local",
		Security: config.SecurityConfig{
			CorsAllowedOrigins: []string{"*"},
			RateLimitPerMinute: 100,
		},
	}
	srv, err := NewServer(cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}
