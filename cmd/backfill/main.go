// Package main provides the batch backfill job entry point.
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
	"github.com/cast-indexer/internal/notify"
	"github.com/cast-indexer/internal/storage"
)

func main() {
	log.Println("Cast backfill job starting...")

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
	checkpointRepo := storage.NewCheckpointRepository(postgres)

	hubClient := hub.NewClient(cfg.Hub.BaseURL, cfg.Hub.RequestTimeout)
	notifier := notify.NewNotifier(cfg.Notify.BotToken, cfg.Notify.ChatID)

	var hashCache ingest.HashCache
	if redis != nil {
		hashCache = redis
	}

	sink := ingest.NewSink(castRepo, hashCache)
	reporter := ingest.NewReporter(notifier)
	backfiller := ingest.NewBackfiller(
		userRepo, checkpointRepo, hubClient, sink, reporter, audit, cfg.Backfill,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	result, err := backfiller.Run(ctx)
	if err != nil {
		logger.WithError(err).Error("Backfill run failed")
		os.Exit(1)
	}

	logger.WithFields(map[string]interface{}{
		"runId":          result.RunID,
		"processedUsers": result.ProcessedUsers,
		"casts":          result.CastsBackfilled,
		"errors":         result.TotalErrors,
		"failedFids":     len(result.FailedFids),
	}).Info("Backfill run finished")
}
