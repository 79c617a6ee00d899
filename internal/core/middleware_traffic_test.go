package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"adalerts/internal/types"
)

func TestRateLimit_AllowedSetsHeaders(t *testing.T) {
	srv := newTestServer(t)
	reset := time.Now().Add(time.Minute)
	store := &MockRateLimitStore{Result: RateLimitResult{Allowed: true, Remaining: 42, ResetAt: reset}}
	srv.RateLimitStore = store

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/queue/stats", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	rec := httptest.NewRecorder()
	srv.RateLimit(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "42" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if len(store.Keys) != 1 || store.Keys[0] != "ip:10.0.0.7" {
		t.Errorf("keys = %v", store.Keys)
	}
}

func TestRateLimit_KeysByActor(t *testing.T) {
	srv := newTestServer(t)
	store := &MockRateLimitStore{Result: RateLimitResult{Allowed: true}}
	srv.RateLimitStore = store

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/queue/stats", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req = req.WithContext(types.WithActor(req.Context(), types.Actor{ID: "admin-key", Type: types.ActorTypeAdmin}))
	srv.RateLimit(okHandler()).ServeHTTP(httptest.NewRecorder(), req)

	if len(store.Keys) != 1 || store.Keys[0] != "actor:admin-key:203.0.113.9" {
		t.Errorf("keys = %v", store.Keys)
	}
}

func TestRateLimit_DeniedReturns429(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitStore = &MockRateLimitStore{Result: RateLimitResult{Allowed: false, ResetAt: time.Now().Add(30 * time.Second)}}

	rec := httptest.NewRecorder()
	srv.RateLimit(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/admin/sweeps", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if got := decodeErrorCode(t, rec); got != string(types.ErrCodeRateLimitExceeded) {
		t.Errorf("code = %q", got)
	}
}

func TestRateLimit_StoreErrorFailsOpen(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitStore = &MockRateLimitStore{Err: errors.New("store down")}

	rec := httptest.NewRecorder()
	srv.RateLimit(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/admin/queue/stats", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected fail-open 200, got %d", rec.Code)
	}
}

func TestRateLimit_PassThrough(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		srv := newTestServer(t)
		rec := httptest.NewRecorder()
		srv.RateLimit(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/x", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("zero limit", func(t *testing.T) {
		srv := newTestServer(t)
		srv.Config.Security.RateLimitPerMinute = 0
		store := &MockRateLimitStore{}
		srv.RateLimitStore = store
		srv.RateLimit(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/x", nil))
		if len(store.Keys) != 0 {
			t.Errorf("store consulted with zero limit")
		}
	})

	t.Run("health is never limited", func(t *testing.T) {
		srv := newTestServer(t)
		store := &MockRateLimitStore{}
		srv.RateLimitStore = store
		rec := httptest.NewRecorder()
		srv.RateLimit(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK || len(store.Keys) != 0 {
			t.Errorf("health was rate limited: status=%d keys=%v", rec.Code, store.Keys)
		}
	})
}

func TestMemoryRateLimitStore_FixedWindow(t *testing.T) {
	clock := &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryRateLimitStore(clock)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		res, err := store.IncrementAndCheck(ctx, "k", 2, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if res.Remaining != 2-i {
			t.Errorf("request %d remaining = %d", i, res.Remaining)
		}
	}

	res, _ := store.IncrementAndCheck(ctx, "k", 2, time.Minute)
	if res.Allowed || res.Remaining != 0 {
		t.Errorf("third request = %+v, want denied", res)
	}
	if !res.ResetAt.Equal(clock.t.Add(time.Minute)) {
		t.Errorf("ResetAt = %v", res.ResetAt)
	}

	other, _ := store.IncrementAndCheck(ctx, "other", 2, time.Minute)
	if !other.Allowed {
		t.Error("keys must be counted independently")
	}

	clock.t = clock.t.Add(time.Minute)
	res, _ = store.IncrementAndCheck(ctx, "k", 2, time.Minute)
	if !res.Allowed || res.Remaining != 1 {
		t.Errorf("after reset = %+v, want fresh window", res)
	}
}
