package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
	"valorant-rank-proxy/internal/api"
	"valorant-rank-proxy/internal/config"
	"valorant-rank-proxy/internal/domain"

	"github.com/rs/zerolog"
)

type Upstream interface {
	FetchAccount(ctx context.Context, name, tag string) (json.RawMessage, error)
	FetchRating(ctx context.Context, region, puuid string) (json.RawMessage, error)
	FetchRatingHistory(ctx context.Context, region, puuid string, page, size int) (json.RawMessage, error)
	FetchMatchHistory(ctx context.Context, region, puuid, mode string, page, size int) (json.RawMessage, error)
	GetRateLimitInfo() api.RateLimitInfo
}

type ResponseCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
}

type AccountRefresher interface {
	RefreshAccounts(ctx context.Context, refs []domain.AccountRef) (*domain.RunSummary, error)
	State() domain.JobState
}

type AccountReader interface {
	ListLeaderboard(ctx context.Context) ([]domain.Account, error)
	GetWithHistory(ctx context.Context, puuid string) (*domain.Account, error)
	Enroll(ctx context.Context, acc domain.Account) (bool, error)
	NextUpdate(ctx context.Context) (*time.Time, error)
}

type Server struct {
	upstream  Upstream
	cache     ResponseCache
	refresher AccountRefresher
	accounts  AccountReader
	cacheTTL  time.Duration
	logger    zerolog.Logger
}

func NewServer(cfg *config.Config, upstream Upstream, cache ResponseCache, refresher AccountRefresher, accounts AccountReader, logger zerolog.Logger) *Server {
	return &Server{
		upstream:  upstream,
		cache:     cache,
		refresher: refresher,
		accounts:  accounts,
		cacheTTL:  cfg.CacheTTL,
		logger:    logger,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("GET /api/fetch-data/{name}/{tagline}", s.proxy(accountRoute(s.upstream)))
	mux.HandleFunc("GET /api/mmr/{region}/{puuid}", s.proxy(ratingRoute(s.upstream)))
	mux.HandleFunc("GET /api/rr-gains-losses/{region}/{puuid}", s.proxy(ratingHistoryRoute(s.upstream)))
	mux.HandleFunc("GET /api/match-history/{region}/{puuid}", s.proxy(matchHistoryRoute(s.upstream)))

	mux.HandleFunc("POST /api/update-accounts", s.handleUpdateAccounts)
	mux.HandleFunc("GET /api/update-status", s.handleUpdateStatus)
	mux.HandleFunc("GET /api/next-update", s.handleNextUpdate)
	mux.HandleFunc("GET /api/leaderboard", s.handleListLeaderboard)
	mux.HandleFunc("POST /api/leaderboard", s.handleEnroll)
	mux.HandleFunc("GET /api/accounts/{puuid}", s.handleGetAccount)
	mux.HandleFunc("GET /api/rate-limit", s.handleRateLimit)

	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Hello, World!"))
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.upstream.GetRateLimitInfo())
}

// log prefers the request-scoped logger set by the request id middleware.
func (s *Server) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
