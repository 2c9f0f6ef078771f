package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/taskcore/internal/bootstrap"
	"github.com/cuongbtq/taskcore/internal/config"
	"github.com/cuongbtq/taskcore/internal/jobstore"
	"github.com/cuongbtq/taskcore/internal/statusbus"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := config.LoadEnv(); err != nil {
		return err
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	logger := appLogger.Logger

	logger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := bootstrap.ConnectPostgres(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()
	logger.Info("Database connection established")

	rabbitClient, err := bootstrap.ConnectRabbitMQ(&cfg.RabbitMQ, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()
	logger.Info("RabbitMQ connection established")

	// Workers never enqueue, so the store needs no signaler
	store := jobstore.NewStore(&jobstore.Config{
		Repository: jobstore.NewPostgresRepository(dbClient.GetDB(), logger),
		Publisher:  statusbus.NewAMQPPublisher(rabbitClient),
		Logger:     logger,
	})

	pool, err := bootstrap.NewPool(&cfg.Worker, store, rabbitClient, logger)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- pool.Start(context.Background())
	}()

	logger.Info("Worker service started successfully",
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.String("handler", cfg.Worker.Handler.Kind),
	)

	select {
	case <-ctx.Done():
		logger.Info("Received signal, shutting down gracefully")
	case err := <-errChan:
		if err != nil {
			logger.Error("Worker error", slog.Any("error", err))
			return err
		}
	}

	bootstrap.StopPool(pool, cfg.Worker.ShutdownTimeout, logger)

	logger.Info("Worker service shutdown complete")
	return nil
}
