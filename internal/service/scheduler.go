package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"valorant-rank-proxy/internal/config"
	"valorant-rank-proxy/internal/domain"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type LeaderboardRefresher interface {
	RefreshLeaderboard(ctx context.Context) (*domain.RunSummary, error)
}

// Scheduler fires the leaderboard refresh on a cron schedule.
type Scheduler struct {
	refresher LeaderboardRefresher
	schedule  string
	logger    zerolog.Logger
	cron      *cron.Cron

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	entryID cron.EntryID
	started bool
}

func NewScheduler(cfg *config.Config, refresher LeaderboardRefresher, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		refresher: refresher,
		schedule:  cfg.RefreshSchedule,
		logger:    logger,
		cron:      cron.New(cron.WithLogger(cron.PrintfLogger(&logger))),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler is already running")
	}

	id, err := s.cron.AddFunc(s.schedule, s.runLeaderboardJob)
	if err != nil {
		return fmt.Errorf("failed to schedule leaderboard refresh: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.started = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.cron.Entry(id).Next).
		Msg("leaderboard refresh scheduled")
	return nil
}

// Stop cancels an in-flight run and waits for it to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.cancel()
	done := s.cron.Stop()
	s.started = false

	select {
	case <-done.Done():
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// NextRun reports the next time the cron entry fires; zero when not started.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) runLeaderboardJob() {
	start := time.Now()
	s.logger.Info().Msg("scheduled leaderboard refresh starting")

	summary, err := s.refresher.RefreshLeaderboard(s.ctx)
	switch {
	case errors.Is(err, ErrRefreshInProgress):
		s.logger.Warn().Msg("previous refresh still running, skipping scheduled run")
	case err != nil:
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("scheduled leaderboard refresh failed")
	default:
		s.logger.Info().
			Int("total", summary.Total).
			Int("updated", summary.Updated).
			Int("failed", summary.Failed).
			Dur("duration", time.Since(start)).
			Msg("scheduled leaderboard refresh finished")
	}
}
