package fx

import (
	"valorant-rank-proxy/internal/api"
	"valorant-rank-proxy/internal/cache"
	"valorant-rank-proxy/internal/config"
	"valorant-rank-proxy/internal/database"
	"valorant-rank-proxy/internal/logger"
	"valorant-rank-proxy/internal/repository"
	"valorant-rank-proxy/internal/server"
	"valorant-rank-proxy/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideRefresher(hdev *api.HDevClient, repo *repository.AccountRepository, logger zerolog.Logger) *service.Refresher {
	return service.NewRefresher(hdev, repo, logger)
}

func ProvideScheduler(cfg *config.Config, refresher *service.Refresher, logger zerolog.Logger) *service.Scheduler {
	return service.NewScheduler(cfg, refresher, logger)
}

func ProvideServer(
	cfg *config.Config,
	hdev *api.HDevClient,
	responseCache *cache.ResponseCache,
	refresher *service.Refresher,
	repo *repository.AccountRepository,
	logger zerolog.Logger,
) *server.Server {
	return server.NewServer(cfg, hdev, responseCache, refresher, repo, logger)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewAccountRepository),
	// api client + cache
	fx.Provide(api.NewHDevClient),
	fx.Provide(cache.NewFromConfig),
	// svc
	fx.Provide(ProvideRefresher),
	fx.Provide(ProvideScheduler),
	// server
	fx.Provide(ProvideServer),
)
