package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const nextUpdateKey = "next_update"

// NextUpdate returns the persisted next leaderboard run, or nil if no run has
// completed yet.
func (r *AccountRepository) NextUpdate(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx, `SELECT value FROM job_state WHERE key = ?`, nextUpdateKey).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read next update: %w", err)
	}
	return &t, nil
}

func (r *AccountRepository) SetNextUpdate(ctx context.Context, next time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO job_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		nextUpdateKey, next.UTC(), r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write next update: %w", err)
	}

	r.logger.Debug().Time("next_update", next).Msg("next update persisted")
	return nil
}
