package domain

import (
	"time"
)

type Account struct {
	Puuid         string           `json:"puuid"`
	Region        string           `json:"region"`
	Name          string           `json:"name"`
	Tag           string           `json:"tag"`
	Tier          int              `json:"tier"`
	Rank          string           `json:"rank"`
	RankingInTier int              `json:"rankingInTier"` // RR (0-100)
	Leaderboard   bool             `json:"leaderboard"`
	UpdateCount   int              `json:"updateCount"`
	LastUpdated   *time.Time       `json:"lastUpdated"`
	CreatedAt     time.Time        `json:"createdAt"`
	History       []ChangeLogEntry `json:"history,omitempty"`
}

type ChangeLogEntry struct {
	ID        string    `json:"id"` // nanoid
	Timestamp time.Time `json:"timestamp"`
	OldRank   string    `json:"oldRank"`
	NewRank   string    `json:"newRank"`
	OldRR     int       `json:"oldRR"`
	NewRR     int       `json:"newRR"`
	OldName   string    `json:"oldName"`
	NewName   string    `json:"newName"`
	OldTag    string    `json:"oldTag"`
	NewTag    string    `json:"newTag"`
}

// AccountRef identifies an account on the upstream API.
type AccountRef struct {
	Region string `json:"region"`
	Puuid  string `json:"puuid"`
}

// Rating is the subset of the upstream rating payload the refresher compares.
type Rating struct {
	Name          string
	Tag           string
	Tier          int
	Rank          string
	RankingInTier int
}

// AccountChange is a single conditional write: the new record fields, the
// counter value observed when the change was computed, and the log entry.
type AccountChange struct {
	Account   Account
	PrevCount int
	Entry     ChangeLogEntry
}

type RunSummary struct {
	Trigger   string        `json:"trigger"`
	Total     int           `json:"total"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
	Batches   int           `json:"batches"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

type JobState struct {
	Running      bool        `json:"running"`
	Trigger      string      `json:"trigger,omitempty"`
	Pending      []string    `json:"pending"`
	BatchIndex   int         `json:"batchIndex"`
	TotalBatches int         `json:"totalBatches"`
	LastRun      *RunSummary `json:"lastRun,omitempty"`
	NextUpdate   *time.Time  `json:"nextUpdate"`
}
