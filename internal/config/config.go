package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Job handler kinds
const (
	HandlerSimulated = "simulated"
	HandlerWebhook   = "webhook"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Health   HealthConfig   `yaml:"health"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SSEKeepAlive    time.Duration `yaml:"sse_keepalive"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig holds the allowed cross-origin callers
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// DatabaseConfig holds job store configuration
type DatabaseConfig struct {
	// Driver is postgres or memory; memory keeps jobs in process and needs an embedded worker
	Driver          string        `yaml:"driver"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host           string           `yaml:"host"`
	Port           int              `yaml:"port"`
	User           string           `yaml:"user"`
	Password       string           `yaml:"password"`
	VHost          string           `yaml:"vhost"`
	Exchange       ExchangeConfig   `yaml:"exchange"`
	Queue          QueueConfig      `yaml:"queue"`
	RoutingKey     string           `yaml:"routing_key"`
	EventsExchange string           `yaml:"events_exchange"`
	Connection     ConnectionConfig `yaml:"connection"`
	Publish        PublishConfig    `yaml:"publish"`
	Consumer       ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format"`
	NoColor      bool   `yaml:"no_color"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker pool configuration. The api-service only runs a
// pool when Enabled is set.
type WorkerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ID                string        `yaml:"id"`
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	CancelPolicy      string        `yaml:"cancel_policy"`
	Handler           HandlerConfig `yaml:"handler"`
}

// HandlerConfig selects and configures the job handler
type HandlerConfig struct {
	Kind         string        `yaml:"kind"`
	SuccessRate  float64       `yaml:"success_rate"`
	StepDuration time.Duration `yaml:"step_duration"`
	Seed         int64         `yaml:"seed"`
	Webhook      WebhookConfig `yaml:"webhook"`
}

// WebhookConfig holds the external automation service endpoint
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig holds health aggregation settings
type HealthConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// WorkerWindow is how recent a worker beat must be to count the pool as up
	WorkerWindow time.Duration `yaml:"worker_window"`
}

// LoadEnv loads .env files into the environment. Missing files are not an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing and defaults are applied.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset fields with working values
func (c *Config) ApplyDefaults() {
	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.IdleTimeout, 60*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)
	setDuration(&c.Server.SSEKeepAlive, 15*time.Second)

	setString(&c.Database.Driver, DriverPostgres)
	setString(&c.Database.SSLMode, "disable")
	setInt(&c.Database.RetryAttempts, 1)
	setDuration(&c.Database.RetryInterval, 2*time.Second)

	setString(&c.RabbitMQ.Exchange.Type, "direct")
	setString(&c.RabbitMQ.VHost, "/")
	setString(&c.RabbitMQ.EventsExchange, "task_events")
	setInt(&c.RabbitMQ.Connection.RetryAttempts, 1)
	setDuration(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setInt(&c.RabbitMQ.Consumer.PrefetchCount, 1)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "console")
	setString(&c.Logging.Output, "stdout")

	setDuration(&c.Worker.PollInterval, time.Second)
	setDuration(&c.Worker.MaxBackoff, 30*time.Second)
	setDuration(&c.Worker.HeartbeatInterval, 10*time.Second)
	setDuration(&c.Worker.ShutdownTimeout, 60*time.Second)
	setString(&c.Worker.CancelPolicy, "advisory")
	setString(&c.Worker.Handler.Kind, HandlerSimulated)

	setDuration(&c.Health.RefreshInterval, 10*time.Second)
	if c.Health.WorkerWindow <= 0 {
		c.Health.WorkerWindow = 3 * c.Worker.HeartbeatInterval
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

// ValidateAPIConfig checks the settings the api-service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if c.Database.Driver == DriverMemory && !c.Worker.Enabled {
		return fmt.Errorf("database driver %q requires worker.enabled", DriverMemory)
	}

	if c.Worker.Enabled {
		if err := c.validateWorker(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker-service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Database.Driver == DriverMemory {
		return fmt.Errorf("worker service cannot share a %q database", DriverMemory)
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	return c.validateWorker()
}

func (c *Config) validateStore() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.RabbitMQ.EventsExchange == c.RabbitMQ.Exchange.Name {
		return fmt.Errorf("rabbitmq events exchange must differ from the dispatch exchange")
	}

	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout < 0 {
		return fmt.Errorf("worker job_timeout must not be negative")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	switch c.Worker.CancelPolicy {
	case "advisory", "abort":
	default:
		return fmt.Errorf("unknown worker cancel_policy %q", c.Worker.CancelPolicy)
	}

	switch c.Worker.Handler.Kind {
	case HandlerSimulated:
		if c.Worker.Handler.SuccessRate < 0 || c.Worker.Handler.SuccessRate > 1 {
			return fmt.Errorf("worker handler success_rate must be between 0 and 1")
		}
	case HandlerWebhook:
		if c.Worker.Handler.Webhook.URL == "" {
			return fmt.Errorf("worker handler webhook url is required")
		}
	default:
		return fmt.Errorf("unknown worker handler kind %q", c.Worker.Handler.Kind)
	}

	return nil
}
