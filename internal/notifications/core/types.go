// Package core implements the new-listing notification engine: the policy
// resolver, the filter matcher, the queue manager with its claim protocol,
// the bounded dispatch loop and the publish/sweep triggers that compose them.
//
// Matching is pure and runs against an immutable PolicySnapshot. The only
// point of mutual exclusion is the compare-and-swap claim on a queue item.
package core

import (
	"context"
	"time"

	"adalerts/internal/types"
)

// PolicyDecision represents the outcome of a policy evaluation.
type PolicyDecision string

const (
	PolicyNotify   PolicyDecision = "notify"
	PolicySuppress PolicyDecision = "suppress"
)

// PolicyResult contains the outcome and the rule that produced it.
type PolicyResult struct {
	Decision PolicyDecision
	Reason   string
}

// PolicySnapshot is the immutable view of the layered policy state used for
// one match run. It is loaded once per run and shared read-only across all
// resolver calls, so a concurrent admin toggle never changes a decision
// mid-run.
type PolicySnapshot struct {
	GlobalEnabled bool
	Overrides     map[int64]types.Override
	TakenAt       time.Time
}

// NewPolicySnapshot copies overrides into a fresh map keyed by user.
func NewPolicySnapshot(globalEnabled bool, overrides []types.Override, takenAt time.Time) PolicySnapshot {
	m := make(map[int64]types.Override, len(overrides))
	for _, o := range overrides {
		m[o.UserID] = o
	}
	return PolicySnapshot{
		GlobalEnabled: globalEnabled,
		Overrides:     m,
		TakenAt:       takenAt,
	}
}

// PolicyResolver decides whether a subscribed user should be notified.
type PolicyResolver interface {
	Resolve(snapshot PolicySnapshot, sub types.UserSubscription) PolicyResult
}

// Matcher decides whether a listing satisfies a saved search.
type Matcher interface {
	Matches(filter types.SearchFilter, listing types.Listing) (bool, error)
}

// QueueManager owns queue item state transitions.
type QueueManager interface {
	// Enqueue creates a PENDING item per user unless one already exists for
	// the (user, ad) pair. Only newly created items are returned.
	Enqueue(ctx context.Context, adID int64, userIDs []int64) ([]types.QueueItem, error)

	// Claim moves item from expected to SENDING. Returns false when another
	// worker won the race or the item moved on.
	Claim(ctx context.Context, item types.QueueItem, expected types.QueueStatus) (bool, error)

	// MarkSent records a successful send.
	MarkSent(ctx context.Context, item types.QueueItem) error

	// MarkFailed records a failed send and returns the resulting status
	// (FAILED, or DEAD_LETTER once the retry cap is hit or the error is permanent).
	MarkFailed(ctx context.Context, item types.QueueItem, sendErr error) (types.QueueStatus, error)

	// ReclaimStale returns SENDING items untouched for longer than olderThan
	// to FAILED so a sweep can retry them.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)

	// ListRetryable returns FAILED items below the retry cap whose backoff
	// has elapsed.
	ListRetryable(ctx context.Context, limit int) ([]types.QueueItem, error)

	// ListOrphaned returns PENDING items created more than olderThan ago
	// that no publish run ever claimed.
	ListOrphaned(ctx context.Context, olderThan time.Duration, limit int) ([]types.QueueItem, error)

	// Stats counts items per status.
	Stats(ctx context.Context) (types.QueueStats, error)
}

// Sender is the opaque notification transport. The engine never builds
// message content; it only invokes delivery and records the outcome.
type Sender interface {
	Send(ctx context.Context, userID, adID int64) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, userID, adID int64) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, userID, adID int64) error {
	return f(ctx, userID, adID)
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSent       MetricResult = "sent"
	MetricFailed     MetricResult = "failed"
	MetricDeadLetter MetricResult = "dead_letter"
)

// TriggerKind labels which entry point produced a dispatch batch.
type TriggerKind string

const (
	TriggerPublish TriggerKind = "publish"
	TriggerSweep   TriggerKind = "sweep"
)

// DispatchMetrics abstracts telemetry for the engine.
type DispatchMetrics interface {
	RecordOutcome(ctx context.Context, trigger TriggerKind, result MetricResult)
	RecordSendLatency(ctx context.Context, duration time.Duration)
	RecordMatched(ctx context.Context, matched int)
	RecordReclaimed(ctx context.Context, reclaimed int)
	RecordPublishLag(ctx context.Context, lag time.Duration)
}

// RetryPolicy defines the retry cap and the exponential backoff between sweeps.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy caps an item at five failed sends, waiting at least one
// minute after the first failure and at most six hours between attempts.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:   5,
	BaseDelay:     1 * time.Minute,
	MaxDelay:      6 * time.Hour,
	BackoffFactor: 4.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
		if delay > float64(policy.MaxDelay) {
			break
		}
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay || d < 0 {
		d = policy.MaxDelay
	}
	return d
}
