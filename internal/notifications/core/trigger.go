package core

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"adalerts/internal/types"
)

const (
	defaultMatchConcurrency  = 16
	defaultSweepBatchSize    = 500
	defaultStaleSendingAfter = 15 * time.Minute
)

// ListingReader is the read-only listing lookup.
type ListingReader interface {
	GetListing(ctx context.Context, adID int64) (*types.Listing, error)
}

// SubscriptionReader lists subscriptions that have notifications enabled.
type SubscriptionReader interface {
	ListEnabled(ctx context.Context) ([]types.UserSubscription, error)
}

// PolicyReader loads the state the PolicySnapshot is built from.
type PolicyReader interface {
	GetGlobalSetting(ctx context.Context) (*types.GlobalSetting, error)
	ListActiveOverrides(ctx context.Context, at time.Time) ([]types.Override, error)
}

// PublishGuard suppresses duplicate publish events for the same ad.
// Correctness never depends on it; enqueue is idempotent on its own.
type PublishGuard interface {
	// Acquire returns false when adID was already processed recently.
	Acquire(ctx context.Context, adID int64) (bool, error)
	// Release forgets adID so a redelivered event is processed again.
	Release(ctx context.Context, adID int64) error
}

// EngineConfig tunes the triggers.
type EngineConfig struct {
	MatchConcurrency  int
	SweepBatchSize    int
	StaleSendingAfter time.Duration
}

// EngineDeps groups the collaborators of an Engine.
type EngineDeps struct {
	Listings      ListingReader
	Subscriptions SubscriptionReader
	Policy        PolicyReader
	Queue         QueueManager
	Dispatcher    *Dispatcher
	Resolver      PolicyResolver
	Matcher       Matcher
	Guard         PublishGuard // optional
	Metrics       DispatchMetrics
	Clock         types.Clock
	Logger        types.Logger
}

// Engine exposes the two entry points of the notification engine: the
// on-publish trigger and the retry sweep. Both are safe to run concurrently
// with each other and with themselves.
type Engine struct {
	deps EngineDeps
	cfg  EngineConfig
}

// NewEngine creates an Engine. Zero config values fall back to defaults.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if cfg.MatchConcurrency <= 0 {
		cfg.MatchConcurrency = defaultMatchConcurrency
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaultSweepBatchSize
	}
	if cfg.StaleSendingAfter <= 0 {
		cfg.StaleSendingAfter = defaultStaleSendingAfter
	}
	if deps.Resolver == nil {
		deps.Resolver = NewPolicyEngine()
	}
	if deps.Matcher == nil {
		deps.Matcher = NewFilterMatcher()
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopDispatchMetrics{}
	}
	return &Engine{deps: deps, cfg: cfg}
}

// LoadSnapshot reads the global setting and active overrides once.
func (e *Engine) LoadSnapshot(ctx context.Context) (PolicySnapshot, error) {
	now := e.deps.Clock.Now()

	setting, err := e.deps.Policy.GetGlobalSetting(ctx)
	if err != nil {
		return PolicySnapshot{}, fmt.Errorf("LoadSnapshot: global setting: %w", err)
	}

	overrides, err := e.deps.Policy.ListActiveOverrides(ctx, now)
	if err != nil {
		return PolicySnapshot{}, fmt.Errorf("LoadSnapshot: overrides: %w", err)
	}

	return NewPolicySnapshot(setting.Enabled, overrides, now), nil
}

// OnPublish runs one match run for adID: resolve and match every enabled
// subscriber, enqueue the matched set and dispatch the newly created items.
//
// Re-invoking OnPublish for the same ad is safe. Users that already have an
// item are not enqueued again and receive nothing.
func (e *Engine) OnPublish(ctx context.Context, adID int64) (result types.PublishResult, err error) {
	result.AdID = adID
	log := e.deps.Logger.With("ad_id", adID)

	if e.deps.Guard != nil {
		acquired, gErr := e.deps.Guard.Acquire(ctx, adID)
		switch {
		case gErr != nil:
			log.Warn("publish guard unavailable, continuing", "error", gErr.Error())
		case !acquired:
			log.Info("duplicate publish event skipped")
			result.Replayed = true
			return result, nil
		default:
			defer func() {
				if err == nil {
					return
				}
				if rErr := e.deps.Guard.Release(context.WithoutCancel(ctx), adID); rErr != nil {
					log.Warn("failed to release publish guard", "error", rErr.Error())
				}
			}()
		}
	}

	listing, err := e.deps.Listings.GetListing(ctx, adID)
	if err != nil {
		return result, fmt.Errorf("OnPublish: %w", err)
	}

	snapshot, err := e.LoadSnapshot(ctx)
	if err != nil {
		return result, fmt.Errorf("OnPublish: %w", err)
	}

	subs, err := e.deps.Subscriptions.ListEnabled(ctx)
	if err != nil {
		return result, fmt.Errorf("OnPublish: %w", err)
	}
	result.Subscribers = len(subs)

	matched, err := e.match(ctx, snapshot, *listing, subs)
	if err != nil {
		return result, fmt.Errorf("OnPublish: %w", err)
	}
	result.Matched = len(matched)
	e.deps.Metrics.RecordMatched(ctx, len(matched))

	created, err := e.deps.Queue.Enqueue(ctx, adID, matched)
	if err != nil {
		return result, fmt.Errorf("OnPublish: %w", err)
	}
	result.Enqueued = len(created)

	claimed, err := e.claimAll(ctx, created, types.QueuePending)
	if len(claimed) > 0 {
		result.DispatchResult = e.deps.Dispatcher.Dispatch(ctx, TriggerPublish, claimed)
	}
	if err != nil {
		return result, fmt.Errorf("OnPublish: %w", err)
	}

	log.Info("publish run complete",
		"subscribers", result.Subscribers,
		"matched", result.Matched,
		"enqueued", result.Enqueued,
		"success", result.SuccessCount,
		"failed", result.FailedCount,
	)

	return result, nil
}

// match evaluates policy and filter for every subscriber in parallel against
// the same snapshot. A malformed filter is logged and counts as no match.
func (e *Engine) match(ctx context.Context, snapshot PolicySnapshot, listing types.Listing, subs []types.UserSubscription) ([]int64, error) {
	hits := make([]bool, len(subs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MatchConcurrency)

	for i, sub := range subs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			decision := e.deps.Resolver.Resolve(snapshot, sub)
			if decision.Decision != PolicyNotify {
				return nil
			}

			ok, err := e.deps.Matcher.Matches(sub.Filter, listing)
			if err != nil {
				e.deps.Logger.Warn("malformed filter treated as no match",
					"user_id", sub.UserID,
					"ad_id", listing.AdID,
					"error", err.Error(),
				)
				return nil
			}
			hits[i] = ok
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var userIDs []int64
	for i, hit := range hits {
		if hit {
			userIDs = append(userIDs, subs[i].UserID)
		}
	}
	return userIDs, nil
}

// SweepOptions narrows a retry sweep.
type SweepOptions struct {
	// Limit caps the FAILED items claimed in one sweep. Zero uses the
	// configured batch size.
	Limit int
}

// RetrySweep reclaims stale SENDING items, then claims FAILED items whose
// backoff has elapsed and dispatches them. PENDING items abandoned before
// their first claim are adopted in the same pass. Count is the number of
// items this sweep moved out of FAILED.
func (e *Engine) RetrySweep(ctx context.Context, opts SweepOptions) (types.SweepResult, error) {
	var result types.SweepResult

	reclaimed, err := e.ReclaimStale(ctx)
	if err != nil {
		return result, fmt.Errorf("RetrySweep: %w", err)
	}
	result.Reclaimed = reclaimed

	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.SweepBatchSize
	}

	items, err := e.deps.Queue.ListRetryable(ctx, limit)
	if err != nil {
		return result, fmt.Errorf("RetrySweep: %w", err)
	}

	orphans, err := e.deps.Queue.ListOrphaned(ctx, e.cfg.StaleSendingAfter, limit)
	if err != nil {
		return result, fmt.Errorf("RetrySweep: %w", err)
	}

	claimed, err := e.claimAll(ctx, items, types.QueueFailed)
	result.Count = len(claimed)
	if err == nil {
		var adopted []types.QueueItem
		adopted, err = e.claimAll(ctx, orphans, types.QueuePending)
		result.Orphaned = len(adopted)
		claimed = append(claimed, adopted...)
	}
	if len(claimed) > 0 {
		result.DispatchResult = e.deps.Dispatcher.Dispatch(ctx, TriggerSweep, claimed)
	}
	if err != nil {
		return result, fmt.Errorf("RetrySweep: %w", err)
	}

	e.deps.Logger.Info("retry sweep complete",
		"reclaimed", result.Reclaimed,
		"candidates", len(items),
		"claimed", result.Count,
		"orphaned", result.Orphaned,
		"success", result.SuccessCount,
		"failed", result.FailedCount,
	)

	return result, nil
}

// ReclaimStale returns abandoned SENDING items to FAILED.
func (e *Engine) ReclaimStale(ctx context.Context) (int, error) {
	n, err := e.deps.Queue.ReclaimStale(ctx, e.cfg.StaleSendingAfter)
	if err != nil {
		return 0, err
	}
	e.deps.Metrics.RecordReclaimed(ctx, n)
	return n, nil
}

// claimAll claims items from expected one by one. Lost claims are skipped.
// On a storage error it stops and returns what it has claimed so far so the
// caller can still dispatch those items.
func (e *Engine) claimAll(ctx context.Context, items []types.QueueItem, expected types.QueueStatus) ([]types.QueueItem, error) {
	claimed := make([]types.QueueItem, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return claimed, err
		}

		ok, err := e.deps.Queue.Claim(ctx, item, expected)
		if err != nil {
			return claimed, err
		}
		if !ok {
			continue
		}

		item.Status = types.QueueSending
		claimed = append(claimed, item)
	}
	return claimed, nil
}
