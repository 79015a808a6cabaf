package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"valorant-rank-proxy/internal/constants"
	"valorant-rank-proxy/internal/domain"
	"valorant-rank-proxy/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var ErrRefreshInProgress = errors.New("account refresh already in progress")

const (
	TriggerManual      = "manual"
	TriggerLeaderboard = "leaderboard"
)

type RatingFetcher interface {
	FetchRatingInfo(ctx context.Context, region, puuid string) (*domain.Rating, error)
}

type AccountStore interface {
	ListLeaderboard(ctx context.Context) ([]domain.Account, error)
	Get(ctx context.Context, puuid string) (*domain.Account, error)
	ApplyChange(ctx context.Context, change domain.AccountChange) error
	SetNextUpdate(ctx context.Context, next time.Time) error
}

// Refresher pulls fresh rank data for tracked accounts in rate-limited batches
// and records every meaningful change.
type Refresher struct {
	fetcher RatingFetcher
	store   AccountStore
	logger  zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	running atomic.Bool
	stateMu sync.RWMutex
	state   domain.JobState
}

func NewRefresher(fetcher RatingFetcher, store AccountStore, logger zerolog.Logger) *Refresher {
	return &Refresher{
		fetcher: fetcher,
		store:   store,
		logger:  logger.With().Str("component", "refresher").Logger(),
		now:     time.Now,
		sleep:   sleepContext,
		state:   domain.JobState{Pending: []string{}},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RefreshLeaderboard runs the scheduled job over the stored leaderboard set and
// persists the next run time once every batch has finished.
func (r *Refresher) RefreshLeaderboard(ctx context.Context) (*domain.RunSummary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer r.running.Store(false)

	accounts, err := r.store.ListLeaderboard(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to load leaderboard accounts")
		return nil, fmt.Errorf("failed to load leaderboard accounts: %w", err)
	}

	summary, err := r.run(ctx, TriggerLeaderboard, accounts, constants.LeaderboardBatchSize)
	if err != nil || summary.Total == 0 {
		return summary, err
	}

	next := r.now().Add(constants.RefreshInterval)
	if err := r.store.SetNextUpdate(ctx, next); err != nil {
		r.logger.Error().Err(err).Msg("failed to persist next update time")
	} else {
		r.stateMu.Lock()
		r.state.NextUpdate = &next
		r.stateMu.Unlock()
	}
	return summary, nil
}

// RefreshAccounts runs an on-demand refresh of an explicit account list.
// Accounts that are not stored yet are compared against an empty record.
func (r *Refresher) RefreshAccounts(ctx context.Context, refs []domain.AccountRef) (*domain.RunSummary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer r.running.Store(false)

	seen := make(map[string]struct{}, len(refs))
	accounts := make([]domain.Account, 0, len(refs))
	for _, ref := range refs {
		if _, dup := seen[ref.Puuid]; dup {
			continue
		}
		seen[ref.Puuid] = struct{}{}

		acc, err := r.store.Get(ctx, ref.Puuid)
		switch {
		case errors.Is(err, repository.ErrAccountNotFound):
			acc = &domain.Account{Puuid: ref.Puuid}
		case err != nil:
			r.logger.Error().Err(err).Str("puuid", ref.Puuid).Msg("failed to load account")
			return nil, fmt.Errorf("failed to load account %s: %w", ref.Puuid, err)
		}
		acc.Region = ref.Region
		accounts = append(accounts, *acc)
	}

	return r.run(ctx, TriggerManual, accounts, constants.ManualBatchSize)
}

func (r *Refresher) run(ctx context.Context, trigger string, accounts []domain.Account, batchSize int) (*domain.RunSummary, error) {
	summary := &domain.RunSummary{Trigger: trigger, Total: len(accounts), StartedAt: r.now()}
	logger := r.logger.With().Str("trigger", trigger).Logger()

	if len(accounts) == 0 {
		logger.Info().Msg("no accounts to update")
		return summary, nil
	}

	batches := partition(accounts, batchSize)
	summary.Batches = len(batches)
	r.beginRun(trigger, accounts, len(batches))
	defer func() {
		summary.Duration = r.now().Sub(summary.StartedAt)
		r.endRun(summary)
	}()

	logger.Info().
		Int("accounts", len(accounts)).
		Int("batches", len(batches)).
		Int("batch_size", batchSize).
		Msg("starting account refresh")

	for i, batch := range batches {
		if i > 0 {
			logger.Debug().Dur("delay", constants.BatchDelay).Int("next_batch", i+1).Msg("waiting before next batch")
			if err := r.sleep(ctx, constants.BatchDelay); err != nil {
				logger.Warn().Err(err).Int("batch", i+1).Msg("refresh interrupted")
				return summary, fmt.Errorf("refresh interrupted before batch %d: %w", i+1, err)
			}
		}

		r.setBatch(i, batches[i:])
		outcomes := r.processBatch(ctx, batch)
		for _, o := range outcomes {
			switch o {
			case outcomeUpdated:
				summary.Updated++
			case outcomeUnchanged:
				summary.Unchanged++
			default:
				summary.Failed++
			}
		}

		logger.Info().
			Int("batch", i+1).
			Int("of", len(batches)).
			Int("accounts", len(batch)).
			Msg("batch processed")
	}

	logger.Info().
		Int("updated", summary.Updated).
		Int("unchanged", summary.Unchanged).
		Int("failed", summary.Failed).
		Msg("account refresh completed")
	return summary, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeUpdated
	outcomeUnchanged
)

// processBatch fetches every account of the batch concurrently. Errors stay
// with their account and never cancel siblings.
func (r *Refresher) processBatch(ctx context.Context, batch []domain.Account) []outcome {
	outcomes := make([]outcome, len(batch))

	g := new(errgroup.Group)
	g.SetLimit(len(batch))
	for i := range batch {
		acc := batch[i]
		g.Go(func() error {
			outcomes[i] = r.refreshAccount(ctx, acc)
			return nil
		})
	}
	g.Wait()

	return outcomes
}

func (r *Refresher) refreshAccount(ctx context.Context, acc domain.Account) outcome {
	logger := r.logger.With().Str("puuid", acc.Puuid).Str("region", acc.Region).Logger()

	apiCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	rating, err := r.fetcher.FetchRatingInfo(apiCtx, acc.Region, acc.Puuid)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch rating, skipping account")
		return outcomeFailed
	}

	change, changed := diffAccount(acc, *rating, r.now())
	if !changed {
		logger.Debug().Msg("account unchanged")
		return outcomeUnchanged
	}

	dbCtx, dbCancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer dbCancel()

	if err := r.store.ApplyChange(dbCtx, change); err != nil {
		logger.Error().Err(err).Msg("failed to store account change, skipping account")
		return outcomeFailed
	}

	logger.Info().
		Str("old_rank", change.Entry.OldRank).
		Str("new_rank", change.Entry.NewRank).
		Int("old_rr", change.Entry.OldRR).
		Int("new_rr", change.Entry.NewRR).
		Msg("account updated")
	return outcomeUpdated
}

// diffAccount compares the stored record with fresh rating data. An empty name
// or tag from upstream keeps the stored value.
func diffAccount(stored domain.Account, rating domain.Rating, now time.Time) (domain.AccountChange, bool) {
	next := stored
	next.Tier = rating.Tier
	next.Rank = rating.Rank
	next.RankingInTier = rating.RankingInTier
	if rating.Name != "" {
		next.Name = rating.Name
	}
	if rating.Tag != "" {
		next.Tag = rating.Tag
	}

	if next.Rank == stored.Rank &&
		next.RankingInTier == stored.RankingInTier &&
		next.Name == stored.Name &&
		next.Tag == stored.Tag {
		return domain.AccountChange{}, false
	}

	next.UpdateCount = stored.UpdateCount + 1
	next.LastUpdated = &now
	next.History = nil

	return domain.AccountChange{
		Account:   next,
		PrevCount: stored.UpdateCount,
		Entry: domain.ChangeLogEntry{
			Timestamp: now,
			OldRank:   stored.Rank,
			NewRank:   next.Rank,
			OldRR:     stored.RankingInTier,
			NewRR:     next.RankingInTier,
			OldName:   stored.Name,
			NewName:   next.Name,
			OldTag:    stored.Tag,
			NewTag:    next.Tag,
		},
	}, true
}

func partition(accounts []domain.Account, size int) [][]domain.Account {
	if size <= 0 {
		size = 1
	}
	batches := make([][]domain.Account, 0, (len(accounts)+size-1)/size)
	for i := 0; i < len(accounts); i += size {
		end := i + size
		if end > len(accounts) {
			end = len(accounts)
		}
		batches = append(batches, accounts[i:end])
	}
	return batches
}

func (r *Refresher) Running() bool {
	return r.running.Load()
}

// State returns a snapshot of the current or last run.
func (r *Refresher) State() domain.JobState {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()

	s := r.state
	s.Running = r.running.Load()
	s.Pending = append([]string{}, r.state.Pending...)
	return s
}

func (r *Refresher) beginRun(trigger string, accounts []domain.Account, total int) {
	pending := make([]string, len(accounts))
	for i, a := range accounts {
		pending[i] = a.Puuid
	}

	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state.Trigger = trigger
	r.state.Pending = pending
	r.state.BatchIndex = 0
	r.state.TotalBatches = total
}

func (r *Refresher) setBatch(index int, remaining [][]domain.Account) {
	var pending []string
	for _, b := range remaining {
		for _, a := range b {
			pending = append(pending, a.Puuid)
		}
	}

	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.state.BatchIndex = index
	r.state.Pending = pending
}

func (r *Refresher) endRun(summary *domain.RunSummary) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	last := *summary
	r.state.LastRun = &last
	r.state.Pending = []string{}
}
