package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/internal/worker"
	"github.com/cuongbtq/taskcore/shared/postgresql"
	"github.com/cuongbtq/taskcore/shared/rabbitmq"
)

var errDown = errors.New("connection refused")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func up() Checker   { return CheckerFunc(func(context.Context) error { return nil }) }
func down() Checker { return CheckerFunc(func(context.Context) error { return errDown }) }

type fakePool struct {
	ready bool
	err   error
}

func (f *fakePool) Initialized(context.Context) (bool, error) { return f.ready, f.err }

type fakeBrokerStats struct {
	stats     *rabbitmq.QueueStats
	err       error
	connected bool
}

func (f *fakeBrokerStats) QueueStats(context.Context) (*rabbitmq.QueueStats, error) {
	return f.stats, f.err
}

func (f *fakeBrokerStats) Reconnects() int64 { return 2 }

func (f *fakeBrokerStats) IsConnected() bool { return f.connected }

type fakeDBStats struct{}

func (fakeDBStats) Stats() postgresql.PoolStats {
	return postgresql.PoolStats{MaxOpenConnections: 25, OpenConnections: 3, InUse: 1, Idle: 2}
}

type fakeQueue struct {
	depth map[domain.State]int
	err   error
}

func (f *fakeQueue) DepthByState(context.Context) (map[domain.State]int, error) {
	return f.depth, f.err
}

type fakeWorkers struct {
	n           int
	busy, slots int
	err         error
	within      time.Duration
}

func (f *fakeWorkers) ActiveWorkers(_ context.Context, within time.Duration) (int, error) {
	f.within = within
	return f.n, f.err
}

func (f *fakeWorkers) WorkerUsage(_ context.Context, within time.Duration) (int, int, error) {
	f.within = within
	return f.busy, f.slots, f.err
}

type fakeLocal struct {
	ready bool
	busy  int
}

func (f fakeLocal) Initialized() bool { return f.ready }

func (f fakeLocal) Stats() worker.Stats {
	return worker.Stats{WorkerID: "host-1", Slots: 4, Busy: f.busy, Initialized: f.ready}
}

func TestAggregator_HealthCheck(t *testing.T) {
	tests := []struct {
		name        string
		database    Checker
		broker      Checker
		pool        PoolProbe
		wantHealthy bool
		wantDown    []string
	}{
		{
			name:        "all services up",
			database:    up(),
			broker:      up(),
			pool:        &fakePool{ready: true},
			wantHealthy: true,
		},
		{
			name:     "broker down",
			database: up(),
			broker:   down(),
			pool:     &fakePool{ready: true},
			wantDown: []string{ServiceBroker},
		},
		{
			name:     "pool not initialized",
			database: up(),
			broker:   up(),
			pool:     &fakePool{ready: false},
			wantDown: []string{ServiceWorkerPool},
		},
		{
			name:     "pool probe error",
			database: up(),
			broker:   up(),
			pool:     &fakePool{err: errDown},
			wantDown: []string{ServiceWorkerPool},
		},
		{
			name:     "everything down",
			database: down(),
			broker:   down(),
			pool:     nil,
			wantDown: []string{ServiceDatabase, ServiceBroker, ServiceWorkerPool},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(&Config{
				Logger:   testLogger(),
				Database: tt.database,
				Broker:   tt.broker,
				Pool:     tt.pool,
			})

			report := agg.HealthCheck(context.Background())
			assert.Equal(t, tt.wantHealthy, report.Healthy)
			assert.Len(t, report.Services, 3)
			assert.False(t, report.Timestamp.IsZero())

			for name, ok := range report.Services {
				assert.Equal(t, !contains(tt.wantDown, name), ok, "service %s", name)
			}
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestAggregator_GetMetrics(t *testing.T) {
	agg := NewAggregator(&Config{
		Logger:        testLogger(),
		Database:      up(),
		DatabaseStats: fakeDBStats{},
		Broker:        up(),
		BrokerStats: &fakeBrokerStats{connected: true, stats: &rabbitmq.QueueStats{
			Queue:     "tasks_dispatch",
			Messages:  4,
			Consumers: 2,
		}},
		Pool: NewLocalPool(fakeLocal{ready: true, busy: 3}),
		Queue: &fakeQueue{depth: map[domain.State]int{
			domain.StateQueued:  4,
			domain.StateRunning: 1,
		}},
	})

	metrics := agg.GetMetrics(context.Background())

	require.NotNil(t, metrics.Broker)
	assert.True(t, metrics.Broker.Connected)
	assert.Equal(t, "tasks_dispatch", metrics.Broker.Queue)
	assert.Equal(t, 4, metrics.Broker.Messages)
	assert.Equal(t, int64(2), metrics.Broker.Reconnects)

	require.NotNil(t, metrics.Pool)
	assert.Equal(t, PoolMetrics{Initialized: true, Busy: 3, Slots: 4}, *metrics.Pool)

	require.NotNil(t, metrics.Database)
	assert.Equal(t, 3, metrics.Database.OpenConnections)

	assert.Equal(t, map[string]int{"queued": 4, "running": 1}, metrics.Queue)

	assert.Positive(t, metrics.Process.Goroutines)
	assert.NotEmpty(t, metrics.Process.GoVersion)
	assert.False(t, metrics.Timestamp.IsZero())
}

func TestAggregator_GetMetricsDegrades(t *testing.T) {
	agg := NewAggregator(&Config{
		Logger:        testLogger(),
		Database:      down(),
		DatabaseStats: fakeDBStats{},
		Broker:        down(),
		BrokerStats:   &fakeBrokerStats{err: rabbitmq.ErrNotConnected},
		Queue:         &fakeQueue{err: errDown},
	})

	metrics := agg.GetMetrics(context.Background())
	assert.Nil(t, metrics.Database)
	assert.Nil(t, metrics.Queue)
	assert.Nil(t, metrics.Pool)

	// Connectivity is still reported while the queue cannot be inspected
	require.NotNil(t, metrics.Broker)
	assert.False(t, metrics.Broker.Connected)
	assert.Equal(t, int64(2), metrics.Broker.Reconnects)
	assert.Empty(t, metrics.Broker.Queue)

	body, err := json.Marshal(metrics)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Contains(t, decoded, "pool")
	assert.Nil(t, decoded["pool"])
	assert.Nil(t, decoded["queue"])
	assert.Equal(t, false, decoded["broker"].(map[string]any)["connected"])
	assert.NotNil(t, decoded["process"])
}

func TestAggregator_PoolMetrics(t *testing.T) {
	tests := []struct {
		name string
		pool PoolProbe
		want PoolMetrics
	}{
		{
			name: "remote pools summed from beats",
			pool: NewRemotePool(&fakeWorkers{n: 2, busy: 5, slots: 8}, 30*time.Second),
			want: PoolMetrics{Initialized: true, Busy: 5, Slots: 8},
		},
		{
			name: "no live pools",
			pool: NewRemotePool(&fakeWorkers{}, 30*time.Second),
			want: PoolMetrics{},
		},
		{
			name: "usage unavailable keeps readiness",
			pool: &fakePool{ready: true},
			want: PoolMetrics{Initialized: true},
		},
		{
			name: "store unreachable",
			pool: NewRemotePool(&fakeWorkers{err: errDown}, 30*time.Second),
			want: PoolMetrics{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(&Config{Logger: testLogger(), Pool: tt.pool})

			metrics := agg.GetMetrics(context.Background())
			require.NotNil(t, metrics.Pool)
			assert.Equal(t, tt.want, *metrics.Pool)
		})
	}
}

func TestAggregator_GetStatus(t *testing.T) {
	agg := NewAggregator(&Config{
		Logger:   testLogger(),
		Database: up(),
		Broker:   up(),
		Pool:     &fakePool{ready: true},
	})

	before := agg.GetStatus()
	assert.False(t, before.IsRunning)
	assert.Nil(t, before.CheckedAt)
	assert.Len(t, before.Services, 3)

	agg.HealthCheck(context.Background())

	after := agg.GetStatus()
	assert.True(t, after.IsRunning)
	assert.True(t, after.Services[ServiceBroker])
	require.NotNil(t, after.CheckedAt)

	// Callers get a copy of the cached services
	after.Services[ServiceBroker] = false
	assert.True(t, agg.GetStatus().Services[ServiceBroker])
}

func TestAggregator_RunRefreshesUntilCancelled(t *testing.T) {
	agg := NewAggregator(&Config{
		Logger:          testLogger(),
		Database:        up(),
		Broker:          up(),
		Pool:            &fakePool{ready: true},
		RefreshInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx) }()

	require.Eventually(t, func() bool { return agg.GetStatus().IsRunning }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestLocalPool(t *testing.T) {
	ok, err := NewLocalPool(fakeLocal{ready: true}).Initialized(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewLocalPool(fakeLocal{ready: false}).Initialized(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalPool_Usage(t *testing.T) {
	busy, slots, err := NewLocalPool(fakeLocal{ready: true, busy: 2}).Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, busy)
	assert.Equal(t, 4, slots)
}

func TestRemotePool(t *testing.T) {
	workers := &fakeWorkers{n: 2}
	probe := NewRemotePool(workers, 30*time.Second)

	ok, err := probe.Initialized(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, workers.within)

	workers.n = 0
	ok, err = probe.Initialized(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	workers.err = errDown
	_, err = probe.Initialized(context.Background())
	assert.ErrorIs(t, err, errDown)
}
