// Package health aggregates dependency health and runtime metrics for the
// system endpoints.
package health

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/shared/postgresql"
	"github.com/cuongbtq/taskcore/shared/rabbitmq"
)

// Service names reported by HealthCheck
const (
	ServiceDatabase   = "database"
	ServiceBroker     = "broker"
	ServiceWorkerPool = "worker_pool"
)

const (
	probeTimeout           = 2 * time.Second
	defaultRefreshInterval = 10 * time.Second
)

// DatabaseStats exposes connection pool statistics
type DatabaseStats interface {
	Stats() postgresql.PoolStats
}

// BrokerStats exposes dispatch queue statistics
type BrokerStats interface {
	QueueStats(ctx context.Context) (*rabbitmq.QueueStats, error)
	Reconnects() int64
	IsConnected() bool
}

// QueueSource reports job counts per state
type QueueSource interface {
	DepthByState(ctx context.Context) (map[domain.State]int, error)
}

// Config holds aggregator dependencies. Database and broker statistics are optional.
type Config struct {
	Logger          *slog.Logger
	Database        Checker
	DatabaseStats   DatabaseStats
	Broker          Checker
	BrokerStats     BrokerStats
	Pool            PoolProbe
	Queue           QueueSource
	RefreshInterval time.Duration
	Now             func() time.Time
}

// Report is the result of a full health check
type Report struct {
	Healthy   bool            `json:"healthy"`
	Services  map[string]bool `json:"services"`
	Timestamp time.Time       `json:"timestamp"`
}

// Status is the last known health, served without I/O
type Status struct {
	IsRunning bool            `json:"is_running"`
	Services  map[string]bool `json:"services"`
	CheckedAt *time.Time      `json:"checked_at,omitempty"`
}

// ProcessMetrics describes the serving process
type ProcessMetrics struct {
	PID            int     `json:"pid"`
	GoVersion      string  `json:"go_version"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	Goroutines     int     `json:"goroutines"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	SysBytes       uint64  `json:"sys_bytes"`
	NumGC          uint32  `json:"num_gc"`
}

// BrokerMetrics describes the broker connection and the dispatch queue. Queue
// fields stay empty while the queue cannot be inspected.
type BrokerMetrics struct {
	Connected  bool   `json:"connected"`
	Queue      string `json:"queue"`
	Messages   int    `json:"messages"`
	Consumers  int    `json:"consumers"`
	Reconnects int64  `json:"reconnects"`
}

// PoolMetrics describes worker slot usage
type PoolMetrics struct {
	Initialized bool `json:"initialized"`
	Busy        int  `json:"busy"`
	Slots       int  `json:"slots"`
}

// Metrics is a point-in-time snapshot. Sections whose source is not configured
// or unreachable are nil.
type Metrics struct {
	Process   ProcessMetrics        `json:"process"`
	Broker    *BrokerMetrics        `json:"broker"`
	Pool      *PoolMetrics          `json:"pool"`
	Database  *postgresql.PoolStats `json:"database"`
	Queue     map[string]int        `json:"queue"`
	Timestamp time.Time             `json:"timestamp"`
}

// Aggregator answers health and metrics queries and caches the last health report
type Aggregator struct {
	logger          *slog.Logger
	database        Checker
	databaseStats   DatabaseStats
	broker          Checker
	brokerStats     BrokerStats
	pool            PoolProbe
	queue           QueueSource
	refreshInterval time.Duration
	now             func() time.Time
	startedAt       time.Time

	mu   sync.RWMutex
	last *Report
}

// NewAggregator creates a new Aggregator
func NewAggregator(cfg *Config) *Aggregator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	return &Aggregator{
		logger:          logger,
		database:        cfg.Database,
		databaseStats:   cfg.DatabaseStats,
		broker:          cfg.Broker,
		brokerStats:     cfg.BrokerStats,
		pool:            cfg.Pool,
		queue:           cfg.Queue,
		refreshInterval: interval,
		now:             func() time.Time { return now().UTC() },
		startedAt:       now(),
	}
}

// HealthCheck probes every service concurrently. The system is healthy only
// when all of them are up.
func (a *Aggregator) HealthCheck(ctx context.Context) Report {
	var database, broker, pool bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		database = a.check(gctx, ServiceDatabase, a.database)
		return nil
	})
	g.Go(func() error {
		broker = a.check(gctx, ServiceBroker, a.broker)
		return nil
	})
	g.Go(func() error {
		pool = a.checkPool(gctx)
		return nil
	})
	_ = g.Wait()

	report := Report{
		Healthy: database && broker && pool,
		Services: map[string]bool{
			ServiceDatabase:   database,
			ServiceBroker:     broker,
			ServiceWorkerPool: pool,
		},
		Timestamp: a.now(),
	}

	a.mu.Lock()
	a.last = &report
	a.mu.Unlock()

	return report
}

func (a *Aggregator) check(ctx context.Context, name string, c Checker) bool {
	if c == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := c.HealthCheck(ctx); err != nil {
		a.logger.Warn("Health check failed",
			slog.String("service", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (a *Aggregator) checkPool(ctx context.Context) bool {
	if a.pool == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	ok, err := a.pool.Initialized(ctx)
	if err != nil {
		a.logger.Warn("Health check failed",
			slog.String("service", ServiceWorkerPool),
			slog.String("error", err.Error()),
		)
		return false
	}
	return ok
}

// GetMetrics collects process, broker, pool, database and queue metrics. A source
// that cannot be reached leaves its section nil instead of failing the call.
func (a *Aggregator) GetMetrics(ctx context.Context) Metrics {
	metrics := Metrics{
		Process:   a.processMetrics(),
		Timestamp: a.now(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		metrics.Broker = a.brokerMetrics(gctx)
		return nil
	})
	g.Go(func() error {
		metrics.Pool = a.poolMetrics(gctx)
		return nil
	})
	g.Go(func() error {
		metrics.Database = a.databaseMetrics(gctx)
		return nil
	})
	g.Go(func() error {
		metrics.Queue = a.queueMetrics(gctx)
		return nil
	})
	_ = g.Wait()

	return metrics
}

func (a *Aggregator) processMetrics() ProcessMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ProcessMetrics{
		PID:            os.Getpid(),
		GoVersion:      runtime.Version(),
		UptimeSeconds:  time.Since(a.startedAt).Seconds(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		SysBytes:       mem.Sys,
		NumGC:          mem.NumGC,
	}
}

func (a *Aggregator) brokerMetrics(ctx context.Context) *BrokerMetrics {
	if a.brokerStats == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	metrics := &BrokerMetrics{
		Connected:  a.brokerStats.IsConnected(),
		Reconnects: a.brokerStats.Reconnects(),
	}

	stats, err := a.brokerStats.QueueStats(ctx)
	if err != nil {
		a.logger.Warn("Broker metrics unavailable", slog.String("error", err.Error()))
		return metrics
	}

	metrics.Queue = stats.Queue
	metrics.Messages = stats.Messages
	metrics.Consumers = stats.Consumers
	return metrics
}

func (a *Aggregator) poolMetrics(ctx context.Context) *PoolMetrics {
	if a.pool == nil {
		return nil
	}

	metrics := &PoolMetrics{Initialized: a.checkPool(ctx)}

	usage, ok := a.pool.(SlotUsage)
	if !ok {
		return metrics
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	busy, slots, err := usage.Usage(ctx)
	if err != nil {
		a.logger.Warn("Pool metrics unavailable", slog.String("error", err.Error()))
		return metrics
	}

	metrics.Busy = busy
	metrics.Slots = slots
	return metrics
}

func (a *Aggregator) databaseMetrics(ctx context.Context) *postgresql.PoolStats {
	if a.databaseStats == nil || !a.check(ctx, ServiceDatabase, a.database) {
		return nil
	}

	stats := a.databaseStats.Stats()
	return &stats
}

func (a *Aggregator) queueMetrics(ctx context.Context) map[string]int {
	if a.queue == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	depth, err := a.queue.DepthByState(ctx)
	if err != nil {
		a.logger.Warn("Queue metrics unavailable", slog.String("error", err.Error()))
		return nil
	}

	out := make(map[string]int, len(depth))
	for state, n := range depth {
		out[state.String()] = n
	}
	return out
}

// GetStatus returns the last health report without doing any I/O
func (a *Aggregator) GetStatus() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.last == nil {
		return Status{
			Services: map[string]bool{
				ServiceDatabase:   false,
				ServiceBroker:     false,
				ServiceWorkerPool: false,
			},
		}
	}

	services := make(map[string]bool, len(a.last.Services))
	for k, v := range a.last.Services {
		services[k] = v
	}
	checkedAt := a.last.Timestamp

	return Status{
		IsRunning: a.last.Healthy,
		Services:  services,
		CheckedAt: &checkedAt,
	}
}

// Run refreshes the cached health report until ctx is cancelled
func (a *Aggregator) Run(ctx context.Context) error {
	a.refresh(ctx)

	ticker := time.NewTicker(a.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.refresh(ctx)
		}
	}
}

func (a *Aggregator) refresh(ctx context.Context) {
	report := a.HealthCheck(ctx)
	if !report.Healthy {
		a.logger.Warn("System unhealthy",
			slog.Any("services", report.Services),
		)
	}
}
