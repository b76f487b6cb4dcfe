package main

import (
	"context"
	"errors"
	"os"
	"time"

	"organizer/internal/backend"
	"organizer/internal/cli"
	"organizer/internal/log"
	"organizer/internal/worker"
)

func main() {
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), false)
	cli.LoadEnvFile(logger)

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	logger = cli.SetupLogger(cfg.LogLevel, false)
	logger.Info("Starting organizer-worker")

	if cfg.SQLiteDBPath == "" {
		logger.Error("SQLITE_DB_PATH is required for the snapshot worker")
		os.Exit(1)
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := cli.GracefulShutdown(logger)
	defer cancel()

	result, err := backend.NewFactory(logger).Create(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := result.Cleanup(shutdownCtx); err != nil {
			logger.Error("Cleanup failed", log.FieldError, err)
		}
		logger.Info("Worker shutdown complete")
	}()

	w := worker.NewSnapshotWorker(result.Gateway, result.Snapshots, logger)

	// On startup, catch up on anything missed while the worker was down.
	logger.Info("Performing startup sync...")
	if err := w.SyncAll(ctx); err != nil {
		logger.Error("Startup sync incomplete", log.FieldError, err)
	}

	var src worker.ChangeSource
	if result.AMQP != nil {
		src = result.AMQP
	} else {
		logger.Info("No AMQP client available, relying on periodic sync only", "interval", cfg.SyncInterval)
	}

	if err := w.Run(ctx, src, cfg.SyncInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", log.FieldError, err)
	}
}
