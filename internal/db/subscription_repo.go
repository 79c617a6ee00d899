package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"adalerts/internal/types"
)

// SubscriptionRepository provides data access for the user_subscriptions
// table. The saved search is stored as JSONB in its typed, normalized form.
type SubscriptionRepository struct {
	db     DBTX
	logger types.Logger
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db DBTX, logger types.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, logger: logger}
}

// Get returns the subscription for userID.
func (r *SubscriptionRepository) Get(ctx context.Context, userID int64) (*types.UserSubscription, error) {
	var (
		sub        types.UserSubscription
		filterJSON []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT user_id, notify_enabled, filter, updated_at
		 FROM user_subscriptions
		 WHERE user_id = $1`,
		userID,
	).Scan(&sub.UserID, &sub.NotifyEnabled, &filterJSON, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}

	if err := decodeFilter(filterJSON, &sub.Filter); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert creates or replaces the subscription for sub.UserID. The caller is
// responsible for normalizing and validating the filter.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *types.UserSubscription) error {
	filterJSON, err := json.Marshal(sub.Filter)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode filter", err)
	}

	err = r.db.QueryRow(ctx,
		`INSERT INTO user_subscriptions (user_id, notify_enabled, filter, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   notify_enabled = EXCLUDED.notify_enabled,
		   filter = EXCLUDED.filter,
		   updated_at = EXCLUDED.updated_at
		 RETURNING updated_at`,
		sub.UserID,
		sub.NotifyEnabled,
		filterJSON,
	).Scan(&sub.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save subscription", err)
	}
	return nil
}

// ListEnabled returns every subscription with notifications enabled.
// Rows whose stored filter cannot be decoded are logged and skipped, which
// the engine treats as no match for that user.
func (r *SubscriptionRepository) ListEnabled(ctx context.Context) ([]types.UserSubscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, notify_enabled, filter, updated_at
		 FROM user_subscriptions
		 WHERE notify_enabled = TRUE
		 ORDER BY user_id`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list subscriptions", err)
	}
	defer rows.Close()

	var subs []types.UserSubscription
	for rows.Next() {
		var (
			sub        types.UserSubscription
			filterJSON []byte
		)
		if err := rows.Scan(&sub.UserID, &sub.NotifyEnabled, &filterJSON, &sub.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription", err)
		}
		if err := decodeFilter(filterJSON, &sub.Filter); err != nil {
			r.logger.Warn("skipping subscription with undecodable filter",
				"user_id", sub.UserID,
				"error", err.Error(),
			)
			continue
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating subscriptions", err)
	}

	return subs, nil
}

// decodeFilter parses a stored JSONB filter. NULL or empty is a wildcard.
func decodeFilter(raw []byte, dst *types.SearchFilter) error {
	if len(raw) == 0 || string(raw) == "null" {
		*dst = types.SearchFilter{}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidFilter, "stored filter is not valid JSON", err)
	}
	return nil
}
