// Package main provides the user population sync entry point.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cast-indexer/internal/config"
	"github.com/cast-indexer/internal/hub"
	"github.com/cast-indexer/internal/logging"
	"github.com/cast-indexer/internal/profile"
	"github.com/cast-indexer/internal/storage"
	"github.com/cast-indexer/internal/usersync"
)

func main() {
	shard := flag.Int("shard", 0, "Hub shard to sync fids from")
	flag.Parse()

	log.Println("User sync job starting...")

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

	if cfg.Profile.APIKey == "" {
		log.Fatal("NEYNAR_API_KEY is required for user sync")
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer postgres.Close()

	userRepo := storage.NewUserRepository(postgres)
	hubClient := hub.NewClient(cfg.Hub.BaseURL, cfg.Hub.RequestTimeout)
	profileClient := profile.NewClient(cfg.Profile.APIKey, cfg.Profile.BaseURL, cfg.Profile.RequestsPerSecond)

	syncer := usersync.NewSyncer(hubClient, profileClient, userRepo, cfg.UserSync)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	result, err := syncer.Run(ctx, *shard)
	if err != nil {
		logger.WithError(err).Error("User sync failed")
		os.Exit(1)
	}

	logger.WithFields(map[string]interface{}{
		"fidsSeen":     result.FidsSeen,
		"usersSynced":  result.UsersSynced,
		"placeholders": result.Placeholders,
		"errors":       result.Errors,
	}).Info("User sync finished")
}
