// main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tourtrack/api/attribution"
	"tourtrack/api/config"
	"tourtrack/api/database"
	"tourtrack/api/engagement"
	"tourtrack/api/handlers"
	"tourtrack/api/service"
	"tourtrack/api/store"
	"tourtrack/api/utils"
)

func main() {
	cfg, foundDotEnv, err := config.Load()
	if err != nil {
		utils.InitLogger("release")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	utils.InitLogger(cfg.Server.GinMode)
	if !foundDotEnv {
		log.Debug().Msg("no .env file found, using process environment")
	}

	if cfg.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// --- PostgreSQL: tour sessions and dashboard users ---
	dbClient, err := database.NewPostgresDB(cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize PostgreSQL database")
	}
	defer dbClient.Close()
	if err := dbClient.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate PostgreSQL database")
	}

	sessionStore := store.NewSessionStore(dbClient.DB)
	userStore := store.NewUserStore(dbClient.DB)

	// --- ClickHouse: action log archive and milestone cache (optional) ---
	var archive service.ActionArchive
	var statsHandlers *handlers.StatsHandlers
	if cfg.ClickHouse.Enabled() {
		chClient, err := database.NewClickHouseDB(cfg.ClickHouse)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize ClickHouse database")
		}
		defer chClient.Close()
		if err := chClient.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate ClickHouse database")
		}
		analyticsStore := store.NewAnalyticsStore(chClient)
		archive = analyticsStore
		statsHandlers = handlers.NewStatsHandlers(analyticsStore)
	} else {
		log.Warn().Msg("ClickHouse not configured, action log archive and stats endpoints disabled")
	}

	// --- Attribution ---
	var sender engagement.EventSender = attribution.LogSender{}
	if cfg.Attribution.Enabled() {
		sender = attribution.NewClient(attribution.ClientOptions{
			Endpoint:      cfg.Attribution.Endpoint,
			PixelID:       cfg.Attribution.PixelID,
			AccessToken:   cfg.Attribution.AccessToken,
			TestEventCode: cfg.Attribution.TestEventCode,
			Attempts:      cfg.Attribution.Attempts,
		})
	} else {
		log.Warn().Msg("attribution not configured, conversion events will only be logged")
	}
	dispatcher := engagement.NewDispatcher(sender, sessionStore, cfg.Engine.CollaboratorTimeout)

	tourService := service.NewTourService(sessionStore, archive, dispatcher, service.Options{
		RecentSessionLimit: cfg.Engine.RecentSessionLimit,
		DiscardTeardownLog: !cfg.Engine.FlushOnTeardown,
	})

	tokens := utils.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	r := handlers.NewRouter(handlers.RouterConfig{
		Tours:    handlers.NewTourHandlers(tourService, cfg.Engine.CollaboratorTimeout),
		Stats:    statsHandlers,
		Auth:     handlers.NewAuthHandlers(userStore, tokens),
		Tokens:   tokens,
		APIKey:   cfg.Auth.DefaultAPIKey,
		FEOrigin: cfg.Server.FEOrigin,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("tour tracking API starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exiting")
}
