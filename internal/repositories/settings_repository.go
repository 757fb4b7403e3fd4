package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// SettingsRepository exposes the per-user preferences the real-time layer
// consults.
type SettingsRepository interface {
	ReadReceiptsEnabled(ctx context.Context, userID string) (bool, error)
}

// SettingsRepo is a sqlx implementation of SettingsRepository.
type SettingsRepo struct {
	db *sqlx.DB
}

// NewSettingsRepo constructs a SettingsRepo.
func NewSettingsRepo(db *sqlx.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// ReadReceiptsEnabled reports the user's read-receipt preference. Users
// without a settings row default to enabled.
func (r *SettingsRepo) ReadReceiptsEnabled(ctx context.Context, userID string) (bool, error) {
	var enabled bool
	err := r.db.GetContext(ctx, &enabled, `SELECT read_receipts FROM user_settings WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	return enabled, err
}
