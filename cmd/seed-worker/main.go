package main

import (
	"context"
	"os"
	"time"

	"budgetly/internal/backend"
	"budgetly/internal/cli"
	"budgetly/internal/log"
	"budgetly/internal/services"
	"budgetly/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting seed-worker", log.FieldOperation, log.OpStartup)

	cfg := cli.LoadAndValidateConfig(logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	// The worker exists to drain the queue, so the broker is mandatory.
	backendCfg.RequireAMQP = true
	backendCfg.WithExporter = true

	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err)
		os.Exit(1)
	}

	w := worker.New(services.NewSeeder(res.Store, logger), res.Store, res.Store, res.Exporter, worker.Options{
		CatchUpInterval: cfg.CatchUpInterval,
		Logger:          logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	// Process whatever was missed while the worker was down.
	logger.Info("Performing startup catch-up...")
	if err := w.CatchUp(ctx); err != nil {
		logger.Error("Startup catch-up failed", log.FieldError, err)
	}

	if err := w.Run(ctx, res.AMQP); err != nil {
		logger.Error("Worker stopped", log.FieldError, err)
		_ = res.Cleanup()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
