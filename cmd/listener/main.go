// Package main provides the live feed listener entry point.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cast-indexer/internal/config"
	"github.com/cast-indexer/internal/hub"
	"github.com/cast-indexer/internal/ingest"
	"github.com/cast-indexer/internal/logging"
	"github.com/cast-indexer/internal/profile"
	"github.com/cast-indexer/internal/storage"
)

func main() {
	log.Println("Cast feed listener starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, running without cache")
		redis = nil
	} else {
		defer redis.Close()
	}

	var audit ingest.Auditor
	if cfg.Database.ClickHouse.Enabled() {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Warn("ClickHouse unavailable, running without audit log")
		} else {
			defer clickhouse.Close()
			audit = storage.NewIngestEventRepository(clickhouse)
		}
	}

	userRepo := storage.NewUserRepository(postgres)
	castRepo := storage.NewCastRepository(postgres)

	hubClient := hub.NewClient(cfg.Hub.BaseURL, cfg.Hub.RequestTimeout)

	var profiles ingest.ProfileLookup
	if cfg.Profile.APIKey != "" {
		profiles = profile.NewClient(cfg.Profile.APIKey, cfg.Profile.BaseURL, cfg.Profile.RequestsPerSecond)
	} else {
		logger.Warn("No profile API key configured, unknown authors get placeholder rows")
	}

	var hashCache ingest.HashCache
	var usernameCache ingest.UsernameCache
	if redis != nil {
		hashCache = redis
		usernameCache = redis
	}

	sink := ingest.NewSink(castRepo, hashCache)
	resolver := ingest.NewMentionResolver(userRepo, usernameCache, hubClient)
	listener := ingest.NewListener(
		hubClient, profiles, userRepo, resolver, sink, audit, cfg.Listener,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	listener.Start(ctx)
	<-ctx.Done()

	logger.Info("Shutting down feed listener...")
	listener.Stop()

	stats := listener.Stats()
	logger.WithFields(map[string]interface{}{
		"eventsSeen":  stats.EventsSeen,
		"castsStored": stats.CastsStored,
		"staleCasts":  stats.StaleCasts,
		"failures":    stats.Failures,
		"restarts":    stats.Restarts,
	}).Info("Feed listener stopped")
	os.Exit(0)
}
