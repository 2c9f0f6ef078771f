package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "jobs_db", cfg.Database.Database)
				assert.True(t, cfg.Database.AutoMigrate)
				assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "jobs_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "jobs_events", cfg.RabbitMQ.EventsExchange)
				assert.Equal(t, "task-api-service", cfg.App.Name)
				assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORS.AllowedOrigins)
				assert.Equal(t, 4, cfg.Worker.Concurrency)
				assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval)
				assert.Equal(t, "abort", cfg.Worker.CancelPolicy)
				assert.Equal(t, HandlerSimulated, cfg.Worker.Handler.Kind)
				assert.InDelta(t, 0.8, cfg.Worker.Handler.SuccessRate, 1e-9)
				assert.Equal(t, 5*time.Second, cfg.Health.RefreshInterval)
			}
		})
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TASKCORE_TEST_PORT", "9090")
	t.Setenv("TASKCORE_TEST_DB_PASSWORD", "s3cret")

	cfg, err := Load("testdata/env_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("TASKCORE_TEST_PORT", "8080")

	cfg, err := Load("testdata/env_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "direct", cfg.RabbitMQ.Exchange.Type)
	assert.Equal(t, "task_events", cfg.RabbitMQ.EventsExchange)
	assert.Equal(t, 1, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "advisory", cfg.Worker.CancelPolicy)
	assert.Equal(t, HandlerSimulated, cfg.Worker.Handler.Kind)
	assert.Equal(t, time.Duration(0), cfg.Worker.JobTimeout)
	assert.Equal(t, 10*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Health.WorkerWindow)
	assert.Equal(t, 15*time.Second, cfg.Server.SSEKeepAlive)
}

func TestLoadEnv(t *testing.T) {
	require.NoError(t, os.Unsetenv("TASKCORE_TEST_FROM_DOTENV"))
	t.Cleanup(func() { _ = os.Unsetenv("TASKCORE_TEST_FROM_DOTENV") })

	require.NoError(t, LoadEnv("testdata/missing.env", "testdata/test.env"))
	assert.Equal(t, "loaded", os.Getenv("TASKCORE_TEST_FROM_DOTENV"))
}

// baseConfig returns a config that passes both validations
func baseConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "jobs_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "jobs_exchange",
			},
			Queue: QueueConfig{
				Name: "jobs_queue",
			},
		},
		Worker: WorkerConfig{
			Concurrency: 2,
			Handler:     HandlerConfig{SuccessRate: 0.5},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "unknown database driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			wantErr:   true,
			errString: "unknown database driver",
		},
		{
			name: "memory driver without embedded worker",
			mutate: func(c *Config) {
				c.Database.Driver = DriverMemory
			},
			wantErr:   true,
			errString: "requires worker.enabled",
		},
		{
			name: "memory driver with embedded worker",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: DriverMemory}
				c.Worker.Enabled = true
			},
			wantErr: false,
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
		{
			name:      "events exchange reuses dispatch exchange",
			mutate:    func(c *Config) { c.RabbitMQ.EventsExchange = "jobs_exchange" },
			wantErr:   true,
			errString: "events exchange must differ",
		},
		{
			name: "embedded worker is validated",
			mutate: func(c *Config) {
				c.Worker.Enabled = true
				c.Worker.Concurrency = 0
			},
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "server port is not required",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: false,
		},
		{
			name:      "memory driver",
			mutate:    func(c *Config) { c.Database.Driver = DriverMemory },
			wantErr:   true,
			errString: "cannot share",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			wantErr:   true,
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "negative job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = -time.Second },
			wantErr:   true,
			errString: "job_timeout must not be negative",
		},
		{
			name:      "unknown cancel policy",
			mutate:    func(c *Config) { c.Worker.CancelPolicy = "kill" },
			wantErr:   true,
			errString: "unknown worker cancel_policy",
		},
		{
			name:      "success rate out of range",
			mutate:    func(c *Config) { c.Worker.Handler.SuccessRate = 1.5 },
			wantErr:   true,
			errString: "success_rate must be between 0 and 1",
		},
		{
			name:      "webhook without url",
			mutate:    func(c *Config) { c.Worker.Handler.Kind = HandlerWebhook },
			wantErr:   true,
			errString: "webhook url is required",
		},
		{
			name: "webhook with url",
			mutate: func(c *Config) {
				c.Worker.Handler.Kind = HandlerWebhook
				c.Worker.Handler.Webhook.URL = "http://automation:9000/run"
			},
			wantErr: false,
		},
		{
			name:      "unknown handler kind",
			mutate:    func(c *Config) { c.Worker.Handler.Kind = "selenium" },
			wantErr:   true,
			errString: "unknown worker handler kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
