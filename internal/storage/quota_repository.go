package storage

import (
	"context"
	"database/sql"

	"medianest/internal/models"
)

// QuotaRepository is the data access layer for quota records.
type QuotaRepository struct {
	db *DB
}

// NewQuotaRepository creates a new QuotaRepository.
func NewQuotaRepository(db *DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Get fetches the user's quota record. Returns nil when none exists yet.
func (r *QuotaRepository) Get(ctx context.Context, userID string) (*models.QuotaRecord, error) {
	var rec models.QuotaRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, used, quota_limit, window_reset_at FROM quota_records WHERE user_id = ?`,
		userID).Scan(&rec.UserID, &rec.Used, &rec.Limit, &rec.WindowResetAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert writes the quota record, creating it if needed.
func (r *QuotaRepository) Upsert(ctx context.Context, rec *models.QuotaRecord) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO quota_records (user_id, used, quota_limit, window_reset_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET used = excluded.used,
			quota_limit = excluded.quota_limit, window_reset_at = excluded.window_reset_at`,
		rec.UserID, rec.Used, rec.Limit, rec.WindowResetAt)
	return err
}
