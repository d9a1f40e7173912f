package main

import (
	"time"

	"pasanaco/internal/amqp"
	"pasanaco/internal/cli"
	"pasanaco/internal/config"
	"pasanaco/internal/log"
	"pasanaco/internal/storage"
	"pasanaco/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentWorker)
	logger.Info("Starting pasanaco-worker")

	cli.ExitOnError(logger, "Configuration validation failed", cfg.ValidateWorker())

	// The relay reads the outbox the API server writes to.
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	cli.ExitOnError(logger, "Failed to initialize SQLite repository", err, "path", cfg.SQLiteDBPath)
	defer repo.Close()

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, nil)

	amqpClient, err := amqp.NewClient(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
	cli.ExitOnError(logger, "Failed to initialize AMQP client", err)
	defer amqpClient.Close()

	relay := worker.NewOutboxRelay(repo, amqpClient, cfg.OutboxBatchSize)

	// On startup, deliver anything committed while no publisher was running
	logger.Info("Performing startup relay check...")
	if err := relay.StartupCheck(ctx); err != nil {
		logger.Error("Failed startup relay check", "error", err)
		// Don't exit - the periodic relay retries
	}

	go relay.Run(ctx, cfg.OutboxInterval)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
