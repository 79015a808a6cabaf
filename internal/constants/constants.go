package constants

import "time"

const (
	ResponseCacheTTL      = 600 * time.Second
	ResponseCacheCapacity = 10000
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

// batch refresh pacing; the upstream allows ~90 requests per minute
const (
	ManualBatchSize      = 5
	LeaderboardBatchSize = 15
	BatchDelay           = 60 * time.Second
	RefreshInterval      = 1 * time.Hour
	LeaderboardSchedule  = "0 * * * *"
)

const (
	DefaultHistoryPage = 1
	DefaultHistorySize = 5
	MaxHistorySize     = 20
	MatchHistoryMode   = "competitive"
)
