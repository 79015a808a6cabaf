package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"valorant-rank-proxy/internal/config"
	"valorant-rank-proxy/internal/constants"
	fxmodules "valorant-rank-proxy/internal/fx"
	"valorant-rank-proxy/internal/logger"
	"valorant-rank-proxy/internal/middleware"
	"valorant-rank-proxy/internal/server"
	"valorant-rank-proxy/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	srv *server.Server,
	scheduler *service.Scheduler,
	cfg *config.Config,
	db *sql.DB,
	log zerolog.Logger,
) error {
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to set log level: %w", err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})

	handler := middleware.RequestID(log)(middleware.Recover(c.Handler(srv.Routes())))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           handler,
		ReadHeaderTimeout: constants.RequestTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := scheduler.Start(); err != nil {
				return err
			}
			go func() {
				log.Info().Str("addr", httpServer.Addr).Msg("server starting")
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := scheduler.Stop(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("scheduler did not stop cleanly")
			}

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("server shutdown failed")
				return err
			}

			if err := db.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing database connection")
			}

			log.Info().Msg("server stopped gracefully")
			return nil
		},
	})
	return nil
}
