package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"adalerts/internal/types"
)

// queueColumns is the projection shared by every query returning queue items.
const queueColumns = `id, user_id, ad_id, status, retry_count, COALESCE(error_message, ''), sent_at, created_at, updated_at`

// QueueRepository provides data access for the notification_queue table.
// Every state change is a single conditional statement; the unique index on
// (user_id, ad_id) is what makes fan-out idempotent.
type QueueRepository struct {
	db DBTX
}

// NewQueueRepository creates a new QueueRepository backed by the given
// database connection (pool or transaction).
func NewQueueRepository(db DBTX) *QueueRepository {
	return &QueueRepository{db: db}
}

// InsertIfNotExists inserts one PENDING row per user for adID. Pairs that
// already exist, in any status, are skipped by the unique index and are not
// returned.
//
// SQL pattern:
//
//	INSERT INTO notification_queue (user_id, ad_id, status, ...)
//	SELECT u, $1, 'PENDING', ... FROM unnest($2::bigint[]) AS u
//	ON CONFLICT (user_id, ad_id) DO NOTHING
//	RETURNING ...
func (r *QueueRepository) InsertIfNotExists(ctx context.Context, adID int64, userIDs []int64) ([]types.QueueItem, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx,
		`INSERT INTO notification_queue (user_id, ad_id, status, retry_count, created_at, updated_at)
		 SELECT u, $1, 'PENDING', 0, NOW(), NOW()
		 FROM unnest($2::bigint[]) AS u
		 ON CONFLICT (user_id, ad_id) DO NOTHING
		 RETURNING `+queueColumns,
		adID,
		userIDs,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue notifications", err)
	}

	return collectQueueItems(rows, "failed to scan enqueued item")
}

// CompareAndSetStatus moves an item from expected to next in one conditional
// UPDATE. Returns false when the row is missing or its status changed.
//
// SQL: UPDATE notification_queue SET status = $3 WHERE id = $1 AND status = $2
func (r *QueueRepository) CompareAndSetStatus(ctx context.Context, id int64, expected, next types.QueueStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id,
		string(expected),
		string(next),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim queue item", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSent moves a SENDING item to SENT and clears any previous error.
func (r *QueueRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = 'SENT', sent_at = $2, error_message = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'SENDING'`,
		id,
		sentAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark queue item sent", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed moves a SENDING item to status, increments retry_count and
// records errMsg. nextAttemptAt is when a FAILED item becomes due again; it
// is nil for DEAD_LETTER.
func (r *QueueRepository) MarkFailed(ctx context.Context, id int64, status types.QueueStatus, errMsg string, nextAttemptAt *time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = $2, retry_count = retry_count + 1, error_message = $3,
		     next_attempt_at = $4, updated_at = NOW()
		 WHERE id = $1 AND status = 'SENDING'`,
		id,
		string(status),
		errMsg,
		nextAttemptAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark queue item failed", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReclaimStale moves SENDING items not touched since cutoff back into the
// retry cycle, counting the abandoned attempt. Items whose attempt count
// reaches maxAttempts go to DEAD_LETTER; the rest become FAILED and due at
// nextAttemptAt.
func (r *QueueRepository) ReclaimStale(ctx context.Context, cutoff time.Time, errMsg string, maxAttempts int, nextAttemptAt time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = CASE WHEN retry_count + 1 >= $3 THEN 'DEAD_LETTER' ELSE 'FAILED' END,
		     next_attempt_at = CASE WHEN retry_count + 1 >= $3 THEN NULL ELSE $4::timestamptz END,
		     retry_count = retry_count + 1, error_message = $2, updated_at = NOW()
		 WHERE status = 'SENDING' AND updated_at < $1`,
		cutoff,
		errMsg,
		maxAttempts,
		nextAttemptAt,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to reclaim stale queue items", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListFailed returns FAILED items below maxRetryCount that are due at now,
// earliest due first.
func (r *QueueRepository) ListFailed(ctx context.Context, maxRetryCount int, now time.Time, limit int) ([]types.QueueItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+queueColumns+`
		 FROM notification_queue
		 WHERE status = 'FAILED' AND retry_count < $1 AND next_attempt_at <= $2
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT $3`,
		maxRetryCount,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list failed queue items", err)
	}

	return collectQueueItems(rows, "failed to scan failed queue item")
}

// ListPendingBefore returns PENDING items last updated before cutoff.
func (r *QueueRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.QueueItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+queueColumns+`
		 FROM notification_queue
		 WHERE status = 'PENDING' AND updated_at < $1
		 ORDER BY id ASC
		 LIMIT $2`,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending queue items", err)
	}

	return collectQueueItems(rows, "failed to scan pending queue item")
}

// CountByStatus returns the number of queue items per status. Statuses
// with no rows are absent from the map.
func (r *QueueRepository) CountByStatus(ctx context.Context) (map[types.QueueStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM notification_queue GROUP BY status`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count queue items", err)
	}
	defer rows.Close()

	counts := make(map[types.QueueStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan queue count", err)
		}
		counts[types.QueueStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating queue counts", err)
	}

	return counts, nil
}

func collectQueueItems(rows pgx.Rows, scanMsg string) ([]types.QueueItem, error) {
	defer rows.Close()

	var items []types.QueueItem
	for rows.Next() {
		var (
			item   types.QueueItem
			status string
		)
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.AdID,
			&status,
			&item.RetryCount,
			&item.ErrorMessage,
			&item.SentAt,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, scanMsg, err)
		}
		item.Status = types.QueueStatus(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating queue items", err)
	}

	return items, nil
}
