package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"adalerts/internal/types"
)

// RecipientRepository resolves delivery addresses for the SMTP sender.
type RecipientRepository struct {
	db DBTX
}

// NewRecipientRepository creates a new RecipientRepository.
func NewRecipientRepository(db DBTX) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// GetEmail returns the address of userID. A missing user or an empty
// address is reported as ErrCodeNotFoundRecipient, which senders treat as a
// permanent failure.
func (r *RecipientRepository) GetEmail(ctx context.Context, userID int64) (string, error) {
	var email *string
	err := r.db.QueryRow(ctx,
		`SELECT email FROM users WHERE id = $1`,
		userID,
	).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundRecipient, "recipient not found", nil)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to look up recipient", err)
	}
	if email == nil || *email == "" {
		return "", types.NewAppError(types.ErrCodeNotFoundRecipient, "recipient has no email address", nil)
	}
	return *email, nil
}
