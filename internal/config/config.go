package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"valorant-rank-proxy/internal/constants"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	HDevAPIKey      string
	HDevBaseURL     string
	DBPath          string
	ServerPort      string
	LogLevel        string
	AllowedOrigins  []string
	CacheTTL        time.Duration
	CacheCapacity   int
	RefreshSchedule string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		HDevAPIKey:      getEnv("HDEV_API_KEY", ""),
		HDevBaseURL:     strings.TrimRight(getEnv("HDEV_BASE_URL", "https://api.henrikdev.xyz"), "/"),
		DBPath:          getEnv("DB_PATH", "valorant.db"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "*")),
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", constants.LeaderboardSchedule),
	}

	var err error
	if cfg.CacheTTL, err = time.ParseDuration(getEnv("CACHE_TTL", constants.ResponseCacheTTL.String())); err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("CACHE_TTL must be positive")
	}
	if cfg.CacheCapacity, err = strconv.Atoi(getEnv("CACHE_CAPACITY", strconv.Itoa(constants.ResponseCacheCapacity))); err != nil {
		return nil, fmt.Errorf("invalid CACHE_CAPACITY: %w", err)
	}

	if cfg.HDevAPIKey == "" {
		return nil, fmt.Errorf("HDEV_API_KEY is required")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	if _, err := cron.ParseStandard(cfg.RefreshSchedule); err != nil {
		return nil, fmt.Errorf("invalid REFRESH_SCHEDULE %q: %w", cfg.RefreshSchedule, err)
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Str("hdev_base_url", cfg.HDevBaseURL).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("cache_ttl", cfg.CacheTTL).
		Int("cache_capacity", cfg.CacheCapacity).
		Str("refresh_schedule", cfg.RefreshSchedule).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var Module = fx.Provide(Load)
