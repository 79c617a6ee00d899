package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"adalerts/internal/types"
)

// PolicyRepository provides data access for the singleton
// notification_settings row and the notification_overrides table.
type PolicyRepository struct {
	db DBTX
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(db DBTX) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetGlobalSetting returns the global notification switch.
func (r *PolicyRepository) GetGlobalSetting(ctx context.Context) (*types.GlobalSetting, error) {
	var s types.GlobalSetting
	err := r.db.QueryRow(ctx,
		`SELECT enabled, updated_at FROM notification_settings WHERE id = 1`,
	).Scan(&s.Enabled, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSetting, "global notification setting is not initialised", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read global setting", err)
	}
	return &s, nil
}

// SetGlobalSetting updates the switch in place, creating the row if the
// seed is missing.
func (r *PolicyRepository) SetGlobalSetting(ctx context.Context, enabled bool) (*types.GlobalSetting, error) {
	s := types.GlobalSetting{Enabled: enabled}
	err := r.db.QueryRow(ctx,
		`INSERT INTO notification_settings (id, enabled, updated_at)
		 VALUES (1, $1, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   enabled = EXCLUDED.enabled,
		   updated_at = EXCLUDED.updated_at
		 RETURNING updated_at`,
		enabled,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update global setting", err)
	}
	return &s, nil
}

// UpsertOverride creates or replaces the override for o.UserID.
func (r *PolicyRepository) UpsertOverride(ctx context.Context, o *types.Override) error {
	var reason *string
	if o.Reason != "" {
		reason = &o.Reason
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO notification_overrides (user_id, mode, expires_at, reason, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   mode = EXCLUDED.mode,
		   expires_at = EXCLUDED.expires_at,
		   reason = EXCLUDED.reason,
		   updated_at = EXCLUDED.updated_at
		 RETURNING updated_at`,
		o.UserID,
		string(o.Mode),
		o.ExpiresAt,
		reason,
	).Scan(&o.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save override", err)
	}
	return nil
}

// DeleteOverride removes the override for userID.
func (r *PolicyRepository) DeleteOverride(ctx context.Context, userID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notification_overrides WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete override", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOverride, "override not found", nil)
	}
	return nil
}

// ListActiveOverrides returns overrides still in force at the given instant
// (expires_at > at). Expired rows are kept in the table but never loaded.
func (r *PolicyRepository) ListActiveOverrides(ctx context.Context, at time.Time) ([]types.Override, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, mode, expires_at, COALESCE(reason, ''), updated_at
		 FROM notification_overrides
		 WHERE expires_at > $1`,
		at,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list overrides", err)
	}
	defer rows.Close()

	var overrides []types.Override
	for rows.Next() {
		var (
			o    types.Override
			mode string
		)
		if err := rows.Scan(&o.UserID, &mode, &o.ExpiresAt, &o.Reason, &o.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan override", err)
		}
		o.Mode = types.OverrideMode(mode)
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating overrides", err)
	}

	return overrides, nil
}
