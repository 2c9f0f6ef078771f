package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/taskcore/internal/worker"
)

// Checker reports whether a dependency is reachable
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func(ctx context.Context) error

// HealthCheck calls f(ctx)
func (f CheckerFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

// PoolProbe reports whether a worker pool is ready to take jobs
type PoolProbe interface {
	Initialized(ctx context.Context) (bool, error)
}

// SlotUsage is implemented by pool probes that can also report slot usage
type SlotUsage interface {
	Usage(ctx context.Context) (busy, slots int, err error)
}

// LocalWorkers is a worker pool running in this process
type LocalWorkers interface {
	Initialized() bool
	Stats() worker.Stats
}

// LocalPool probes a pool running in this process
type LocalPool struct {
	pool LocalWorkers
}

// NewLocalPool creates a LocalPool probe
func NewLocalPool(pool LocalWorkers) *LocalPool {
	return &LocalPool{pool: pool}
}

// Initialized implements PoolProbe
func (p *LocalPool) Initialized(context.Context) (bool, error) {
	return p.pool.Initialized(), nil
}

// Usage implements SlotUsage
func (p *LocalPool) Usage(context.Context) (int, int, error) {
	stats := p.pool.Stats()
	return stats.Busy, stats.Slots, nil
}

// WorkerCounter reports worker pools that recorded a beat recently
type WorkerCounter interface {
	ActiveWorkers(ctx context.Context, within time.Duration) (int, error)
	WorkerUsage(ctx context.Context, within time.Duration) (busy, slots int, err error)
}

// RemotePool probes worker pools running in other processes through their beats
type RemotePool struct {
	workers WorkerCounter
	window  time.Duration
}

// NewRemotePool creates a RemotePool probe
func NewRemotePool(workers WorkerCounter, window time.Duration) *RemotePool {
	return &RemotePool{workers: workers, window: window}
}

// Initialized implements PoolProbe
func (p *RemotePool) Initialized(ctx context.Context) (bool, error) {
	n, err := p.workers.ActiveWorkers(ctx, p.window)
	if err != nil {
		return false, fmt.Errorf("failed to count active workers: %w", err)
	}
	return n > 0, nil
}

// Usage implements SlotUsage by summing the beats of live pools
func (p *RemotePool) Usage(ctx context.Context) (int, int, error) {
	busy, slots, err := p.workers.WorkerUsage(ctx, p.window)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum worker slots: %w", err)
	}
	return busy, slots, nil
}
