package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/taskcore/internal/config"
	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/internal/jobstore"
	"github.com/cuongbtq/taskcore/internal/runner"
)

func TestNewHandler(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.HandlerConfig
		want    any
		wantErr string
	}{
		{name: "simulated", cfg: config.HandlerConfig{Kind: config.HandlerSimulated, SuccessRate: 1}, want: &runner.Simulated{}},
		{name: "default kind", cfg: config.HandlerConfig{}, want: &runner.Simulated{}},
		{name: "webhook", cfg: config.HandlerConfig{Kind: config.HandlerWebhook, Webhook: config.WebhookConfig{URL: "http://automation/run"}}, want: &runner.Webhook{}},
		{name: "webhook without url", cfg: config.HandlerConfig{Kind: config.HandlerWebhook}, wantErr: "webhook url is required"},
		{name: "unknown", cfg: config.HandlerConfig{Kind: "selenium"}, wantErr: "unknown handler kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHandler(&tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, h)
		})
	}
}

func TestNewPool_RunsConfiguredHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := jobstore.NewStore(&jobstore.Config{
		Repository: jobstore.NewMemoryRepository(),
		Logger:     logger,
	})

	cfg := config.WorkerConfig{
		ID:                "bootstrap-test",
		Concurrency:       2,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		CancelPolicy:      "abort",
		Handler: config.HandlerConfig{
			Kind:         config.HandlerSimulated,
			SuccessRate:  1,
			StepDuration: time.Millisecond,
			Seed:         7,
		},
	}

	pool, err := NewPool(&cfg, store, nil, logger)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Stats().Slots)
	assert.Equal(t, "bootstrap-test", pool.Stats().WorkerID)

	go func() { _ = pool.Start(context.Background()) }()
	require.Eventually(t, pool.Initialized, time.Second, time.Millisecond)

	job, err := store.Enqueue(context.Background(), domain.Payload{ProductID: "X"}, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := store.Get(context.Background(), job.ID)
		return err == nil && got.State == domain.StateCompleted
	}, 3*time.Second, 2*time.Millisecond)

	StopPool(pool, time.Second, logger)
	assert.False(t, pool.Initialized())
}

func TestNewPool_RejectsBadPolicy(t *testing.T) {
	store := jobstore.NewStore(&jobstore.Config{Repository: jobstore.NewMemoryRepository()})
	cfg := config.WorkerConfig{Concurrency: 1, CancelPolicy: "kill"}

	_, err := NewPool(&cfg, store, nil, nil)
	assert.Error(t, err)
}

func TestRabbitMQSettings(t *testing.T) {
	cfg := &config.Config{
		RabbitMQ: config.RabbitMQConfig{
			Host:     "broker",
			Port:     5672,
			Exchange: config.ExchangeConfig{Name: "jobs_exchange"},
			Queue:    config.QueueConfig{Name: "jobs_queue", Durable: true},
		},
	}
	cfg.ApplyDefaults()

	settings := RabbitMQSettings(&cfg.RabbitMQ)
	assert.Equal(t, "broker", settings.Host)
	assert.Equal(t, "jobs_exchange", settings.ExchangeName)
	assert.Equal(t, "task_events", settings.EventsExchangeName)
	assert.Equal(t, 1, settings.PrefetchCount)
	assert.True(t, settings.QueueDurable)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
	assert.NoError(t, l.Close())
}
