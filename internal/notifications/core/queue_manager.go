package core

import (
	"context"
	"fmt"
	"slices"
	"time"

	"adalerts/internal/types"
)

// Compile-time assertion that QueueManagerImpl implements QueueManager.
var _ QueueManager = (*QueueManagerImpl)(nil)

// staleSendingMessage is stored on items reclaimed from an abandoned SENDING state.
const staleSendingMessage = "stale sending reclaimed"

// maxErrorMessageLen bounds the error text persisted on a queue item.
const maxErrorMessageLen = 1000

// QueueRepository defines the minimal persistence interface required by
// QueueManagerImpl. Every state-changing call is a single conditional
// statement at the storage layer.
type QueueRepository interface {
	// InsertIfNotExists inserts one PENDING row per user using
	// INSERT ... ON CONFLICT (user_id, ad_id) DO NOTHING and returns only the
	// rows it created.
	InsertIfNotExists(ctx context.Context, adID int64, userIDs []int64) ([]types.QueueItem, error)

	// CompareAndSetStatus moves an item from expected to next. Returns false
	// when the stored status no longer equals expected.
	CompareAndSetStatus(ctx context.Context, id int64, expected, next types.QueueStatus) (bool, error)

	// MarkSent moves a SENDING item to SENT and stamps sent_at.
	MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error)

	// MarkFailed moves a SENDING item to status (FAILED or DEAD_LETTER),
	// increments retry_count, stores errMsg and the next due time (nil for
	// DEAD_LETTER).
	MarkFailed(ctx context.Context, id int64, status types.QueueStatus, errMsg string, nextAttemptAt *time.Time) (bool, error)

	// ReclaimStale moves SENDING items last updated before cutoff to FAILED
	// due at nextAttemptAt, or to DEAD_LETTER when the abandoned attempt
	// reaches maxAttempts.
	ReclaimStale(ctx context.Context, cutoff time.Time, errMsg string, maxAttempts int, nextAttemptAt time.Time) (int, error)

	// ListFailed returns FAILED items with retry_count below maxRetryCount
	// whose next attempt is due at now, earliest due first.
	ListFailed(ctx context.Context, maxRetryCount int, now time.Time, limit int) ([]types.QueueItem, error)

	// ListPendingBefore returns PENDING items last updated before cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.QueueItem, error)

	// CountByStatus returns the number of items per status.
	CountByStatus(ctx context.Context) (map[types.QueueStatus]int, error)
}

// QueueManagerImpl is the production implementation of QueueManager.
// It orchestrates queue item transitions and enforces the retry policy.
type QueueManagerImpl struct {
	repo        QueueRepository
	retryPolicy RetryPolicy
	clock       types.Clock
	logger      types.Logger
}

// NewQueueManager creates a new QueueManagerImpl.
func NewQueueManager(repo QueueRepository, retryPolicy RetryPolicy, clock types.Clock, logger types.Logger) *QueueManagerImpl {
	return &QueueManagerImpl{
		repo:        repo,
		retryPolicy: retryPolicy,
		clock:       clock,
		logger:      logger,
	}
}

// Enqueue performs an idempotent fan-out for adID. Users that already have
// an item for this ad, in any status, are left untouched.
func (m *QueueManagerImpl) Enqueue(ctx context.Context, adID int64, userIDs []int64) ([]types.QueueItem, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	created, err := m.repo.InsertIfNotExists(ctx, adID, ids)
	if err != nil {
		return nil, fmt.Errorf("Enqueue: %w", err)
	}

	m.logger.Info("queue items enqueued",
		"ad_id", adID,
		"requested", len(ids),
		"created", len(created),
	)

	return created, nil
}

// Claim atomically moves item from expected to SENDING. Only PENDING and
// FAILED items can be claimed.
func (m *QueueManagerImpl) Claim(ctx context.Context, item types.QueueItem, expected types.QueueStatus) (bool, error) {
	if !expected.Claimable() {
		return false, types.NewAppError(types.ErrCodeValidationInvalidStatus,
			fmt.Sprintf("cannot claim from status %s", expected), nil)
	}

	ok, err := m.repo.CompareAndSetStatus(ctx, item.ID, expected, types.QueueSending)
	if err != nil {
		return false, fmt.Errorf("Claim: %w", err)
	}

	if !ok {
		m.logger.Info("queue item claim lost",
			"item_id", item.ID,
			"expected_status", string(expected),
		)
	}

	return ok, nil
}

// MarkSent records a successful delivery.
func (m *QueueManagerImpl) MarkSent(ctx context.Context, item types.QueueItem) error {
	ok, err := m.repo.MarkSent(ctx, item.ID, m.clock.Now())
	if err != nil {
		return fmt.Errorf("MarkSent: %w", err)
	}
	if !ok {
		return types.NewAppError(types.ErrCodeConflictStateChanged,
			fmt.Sprintf("queue item %d is no longer SENDING", item.ID), nil)
	}
	return nil
}

// MarkFailed records a failed delivery. The item lands in DEAD_LETTER when
// sendErr is permanent or this failure exhausts the retry policy, and in
// FAILED otherwise.
func (m *QueueManagerImpl) MarkFailed(ctx context.Context, item types.QueueItem, sendErr error) (types.QueueStatus, error) {
	status := types.QueueFailed
	attempts := item.RetryCount + 1
	if types.IsPermanentSendError(sendErr) || attempts >= m.retryPolicy.MaxAttempts {
		status = types.QueueDeadLetter
	}

	msg := "unknown error"
	if sendErr != nil {
		msg = sendErr.Error()
	}
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}

	var nextAttemptAt *time.Time
	if status == types.QueueFailed {
		next := m.clock.Now().Add(CalculateNextRetry(m.retryPolicy, attempts-1))
		nextAttemptAt = &next
	}

	ok, err := m.repo.MarkFailed(ctx, item.ID, status, msg, nextAttemptAt)
	if err != nil {
		return "", fmt.Errorf("MarkFailed: %w", err)
	}
	if !ok {
		return "", types.NewAppError(types.ErrCodeConflictStateChanged,
			fmt.Sprintf("queue item %d is no longer SENDING", item.ID), nil)
	}

	if status == types.QueueDeadLetter {
		m.logger.Error("queue item dead-lettered",
			"item_id", item.ID,
			"user_id", item.UserID,
			"ad_id", item.AdID,
			"attempts", attempts,
			"reason", msg,
		)
	} else {
		m.logger.Warn("queue item failed, will retry",
			"item_id", item.ID,
			"attempts", attempts,
			"max_attempts", m.retryPolicy.MaxAttempts,
			"reason", msg,
		)
	}

	return status, nil
}

// ReclaimStale returns items stuck in SENDING for longer than olderThan to
// FAILED, due after the base delay. The abandoned attempt counts towards the
// retry cap; an item that reaches it is dead-lettered instead.
func (m *QueueManagerImpl) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := m.clock.Now()
	cutoff := now.Add(-olderThan)
	next := now.Add(CalculateNextRetry(m.retryPolicy, 0))

	n, err := m.repo.ReclaimStale(ctx, cutoff, staleSendingMessage, m.retryPolicy.MaxAttempts, next)
	if err != nil {
		return 0, fmt.Errorf("ReclaimStale: %w", err)
	}

	if n > 0 {
		m.logger.Warn("reclaimed stale sending items",
			"count", n,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}

	return n, nil
}

// ListRetryable returns up to limit FAILED items whose backoff has elapsed,
// earliest due first. Items at or above the retry cap are never returned.
func (m *QueueManagerImpl) ListRetryable(ctx context.Context, limit int) ([]types.QueueItem, error) {
	items, err := m.repo.ListFailed(ctx, m.retryPolicy.MaxAttempts, m.clock.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("ListRetryable: %w", err)
	}
	return items, nil
}

// ListOrphaned returns PENDING items older than olderThan. A publish run
// claims its items right after enqueue, so these were left behind by a run
// that stopped in between.
func (m *QueueManagerImpl) ListOrphaned(ctx context.Context, olderThan time.Duration, limit int) ([]types.QueueItem, error) {
	items, err := m.repo.ListPendingBefore(ctx, m.clock.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("ListOrphaned: %w", err)
	}
	return items, nil
}

// Stats counts queue items per status. Statuses with no items report zero.
func (m *QueueManagerImpl) Stats(ctx context.Context) (types.QueueStats, error) {
	counts, err := m.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}

	stats := make(types.QueueStats, len(types.AllQueueStatuses))
	for _, s := range types.AllQueueStatuses {
		stats[s] = counts[s]
	}
	return stats, nil
}
