package core

import (
	"context"
	"time"

	"adalerts/internal/types"
)

// Authenticator decouples the HTTP layer from the credential check, allowing
// for easy mocking in tests.
type Authenticator interface {
	// ResolveToken returns the Actor for a bearer token, or an AppError with
	// ErrCodeAuthTokenInvalid when the token is not accepted.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore abstracts the backing store for rate limiting.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the counter for key and checks
	// it against limit within the current window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
