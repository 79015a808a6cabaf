package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"valorant-rank-proxy/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrStaleAccount means the record changed between read and conditional write.
	ErrStaleAccount = errors.New("account was modified concurrently")
)

const accountColumns = `puuid, region, name, tag, tier, rank, ranking_in_tier, leaderboard, update_count, last_updated, created_at`

type AccountRepository struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewAccountRepository(sqlDB *sql.DB, logger zerolog.Logger) *AccountRepository {
	return &AccountRepository{
		db:     sqlDB,
		logger: logger.With().Str("component", "account_repository").Logger(),
		now:    time.Now,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a           domain.Account
		lastUpdated sql.NullTime
	)
	err := row.Scan(&a.Puuid, &a.Region, &a.Name, &a.Tag, &a.Tier, &a.Rank, &a.RankingInTier,
		&a.Leaderboard, &a.UpdateCount, &lastUpdated, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastUpdated.Valid {
		t := lastUpdated.Time
		a.LastUpdated = &t
	}
	return &a, nil
}

// ListLeaderboard returns the leaderboard set ordered by tier and RR, best first.
func (r *AccountRepository) ListLeaderboard(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts
		WHERE leaderboard = 1
		ORDER BY tier DESC, ranking_in_tier DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboard: %w", err)
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepository) Get(ctx context.Context, puuid string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE puuid = ?`, puuid)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", puuid, err)
	}
	return a, nil
}

// GetWithHistory loads the account and its change log, oldest entry first.
func (r *AccountRepository) GetWithHistory(ctx context.Context, puuid string) (*domain.Account, error) {
	a, err := r.Get(ctx, puuid)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, changed_at, old_rank, new_rank, old_rr, new_rr, old_name, new_name, old_tag, new_tag
		FROM account_changes WHERE puuid = ? ORDER BY changed_at ASC, rowid ASC`, puuid)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", puuid, err)
	}
	defer rows.Close()

	a.History = []domain.ChangeLogEntry{}
	for rows.Next() {
		var e domain.ChangeLogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.OldRank, &e.NewRank, &e.OldRR, &e.NewRR,
			&e.OldName, &e.NewName, &e.OldTag, &e.NewTag); err != nil {
			return nil, fmt.Errorf("failed to scan change log entry: %w", err)
		}
		a.History = append(a.History, e)
	}
	return a, rows.Err()
}

// ApplyChange writes the new record fields, bumps the update counter and
// appends the change log entry in one transaction. The write only lands if the
// stored counter still equals change.PrevCount.
func (r *AccountRepository) ApplyChange(ctx context.Context, change domain.AccountChange) error {
	entry := change.Entry
	if entry.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		entry.ID = id
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	acc := change.Account

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO accounts
		(puuid, region, name, tag, tier, rank, ranking_in_tier, leaderboard, update_count, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (puuid) DO UPDATE SET
			region = excluded.region,
			name = excluded.name,
			tag = excluded.tag,
			tier = excluded.tier,
			rank = excluded.rank,
			ranking_in_tier = excluded.ranking_in_tier,
			update_count = accounts.update_count + 1,
			last_updated = excluded.last_updated
		WHERE accounts.update_count = ?`,
		acc.Puuid, acc.Region, acc.Name, acc.Tag, acc.Tier, acc.Rank, acc.RankingInTier, acc.Leaderboard,
		entry.Timestamp, entry.Timestamp, change.PrevCount)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", acc.Puuid, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("account %s: %w", acc.Puuid, ErrStaleAccount)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO account_changes
		(id, puuid, changed_at, old_rank, new_rank, old_rr, new_rr, old_name, new_name, old_tag, new_tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, acc.Puuid, entry.Timestamp, entry.OldRank, entry.NewRank, entry.OldRR, entry.NewRR,
		entry.OldName, entry.NewName, entry.OldTag, entry.NewTag)
	if err != nil {
		return fmt.Errorf("failed to append change log for %s: %w", acc.Puuid, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account change: %w", err)
	}

	r.logger.Debug().
		Str("puuid", acc.Puuid).
		Str("change_id", entry.ID).
		Int("update_count", change.PrevCount+1).
		Msg("account change applied")
	return nil
}

// Enroll adds the account to the leaderboard set. Existing records keep their
// rank data and counter; only the leaderboard flag (and a missing name or tag)
// is set. Returns true when a new record was created.
func (r *AccountRepository) Enroll(ctx context.Context, acc domain.Account) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE accounts SET
			leaderboard = 1,
			name = CASE WHEN name = '' THEN ? ELSE name END,
			tag = CASE WHEN tag = '' THEN ? ELSE tag END
		WHERE puuid = ?`, acc.Name, acc.Tag, acc.Puuid)
	if err != nil {
		return false, fmt.Errorf("failed to enroll account %s: %w", acc.Puuid, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	created := affected == 0
	if created {
		_, err = tx.ExecContext(ctx, `INSERT INTO accounts (puuid, region, name, tag, leaderboard, update_count, created_at)
			VALUES (?, ?, ?, ?, 1, 0, ?)`, acc.Puuid, acc.Region, acc.Name, acc.Tag, r.now())
		if err != nil {
			return false, fmt.Errorf("failed to insert account %s: %w", acc.Puuid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit enrollment: %w", err)
	}

	r.logger.Info().Str("puuid", acc.Puuid).Bool("created", created).Msg("account enrolled in leaderboard")
	return created, nil
}
