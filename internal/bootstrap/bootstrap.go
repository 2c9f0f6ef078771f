// Package bootstrap builds the shared pieces both services start from.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/taskcore/internal/config"
	"github.com/cuongbtq/taskcore/internal/jobstore"
	"github.com/cuongbtq/taskcore/internal/runner"
	"github.com/cuongbtq/taskcore/internal/worker"
	"github.com/cuongbtq/taskcore/shared/logger"
	"github.com/cuongbtq/taskcore/shared/postgresql"
	"github.com/cuongbtq/taskcore/shared/rabbitmq"
)

// NewLogger initializes and configures the application logger
func NewLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   timeFormat,
		NoColor:      cfg.NoColor,
	})
}

// ConnectPostgres opens the PostgreSQL pool and applies migrations when asked to
func ConnectPostgres(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	client, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		RetryAttempts:   cfg.RetryAttempts,
		RetryInterval:   cfg.RetryInterval,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := jobstore.Migrate(ctx, client.GetDB().DB, logger); err != nil {
			client.Close()
			return nil, err
		}
		logger.Info("Database migrations applied")
	}

	return client, nil
}

// ConnectRabbitMQ initializes the RabbitMQ client
func ConnectRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQSettings(cfg), logger)
}

// RabbitMQSettings maps the broker section of the config onto the client settings
func RabbitMQSettings(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		EventsExchangeName: cfg.EventsExchange,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// NewHandler builds the configured job handler
func NewHandler(cfg *config.HandlerConfig) (runner.Handler, error) {
	switch cfg.Kind {
	case config.HandlerSimulated, "":
		return runner.NewSimulated(runner.SimulatedConfig{
			SuccessRate:  cfg.SuccessRate,
			StepDuration: cfg.StepDuration,
			Seed:         cfg.Seed,
		}), nil
	case config.HandlerWebhook:
		return runner.NewWebhook(runner.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Token:   cfg.Webhook.Token,
			Timeout: cfg.Webhook.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown handler kind %q", cfg.Kind)
	}
}

// NewPool creates a worker pool from the worker section of the config.
// dispatch may be nil, in which case slots rely on polling and direct signals.
func NewPool(cfg *config.WorkerConfig, store worker.Store, dispatch worker.DispatchSource, logger *slog.Logger) (*worker.Pool, error) {
	handler, err := NewHandler(&cfg.Handler)
	if err != nil {
		return nil, err
	}

	return worker.NewPool(&worker.Config{
		Logger:            logger,
		Store:             store,
		Handler:           handler,
		Dispatch:          dispatch,
		WorkerID:          cfg.ID,
		Concurrency:       cfg.Concurrency,
		PollInterval:      cfg.PollInterval,
		MaxBackoff:        cfg.MaxBackoff,
		HeartbeatInterval: cfg.HeartbeatInterval,
		JobTimeout:        cfg.JobTimeout,
		CancelPolicy:      worker.CancelPolicy(cfg.CancelPolicy),
	})
}

// StopPool stops the pool, giving in-flight handlers up to timeout to finish
func StopPool(pool *worker.Pool, timeout time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker pool stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Worker pool shutdown timeout exceeded, abandoning in-flight jobs")
	}
}
