package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/internal/runner"
)

// CancelPolicy decides what happens to a running handler whose job is cancelled or removed
type CancelPolicy string

const (
	// CancelAdvisory lets the handler finish; its status write is dropped
	CancelAdvisory CancelPolicy = "advisory"
	// CancelAbort cancels the handler's context on the next heartbeat
	CancelAbort CancelPolicy = "abort"
)

const (
	defaultPollInterval      = time.Second
	defaultMaxBackoff        = 30 * time.Second
	defaultHeartbeatInterval = 10 * time.Second
	writeTimeout             = 10 * time.Second
)

// ErrAlreadyStarted is returned when Start is called on a running pool
var ErrAlreadyStarted = errors.New("worker pool already started")

// Store is the part of the job store the pool writes through
type Store interface {
	Claim(ctx context.Context, workerID string) (*domain.Job, error)
	Complete(ctx context.Context, jobID, workerID string, result json.RawMessage) error
	Fail(ctx context.Context, jobID, workerID, detail string) error
	Heartbeat(ctx context.Context, jobID string) (domain.State, error)
	RecordWorker(ctx context.Context, beat domain.WorkerBeat) error
}

// Config holds worker pool configuration
type Config struct {
	Logger            *slog.Logger
	Store             Store
	Handler           runner.Handler
	Dispatch          DispatchSource
	WorkerID          string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration
	HeartbeatInterval time.Duration
	// JobTimeout bounds a single handler run; zero means unbounded
	JobTimeout   time.Duration
	CancelPolicy CancelPolicy
}

// Stats is a point-in-time view of the pool
type Stats struct {
	WorkerID    string `json:"worker_id"`
	Slots       int    `json:"slots"`
	Busy        int    `json:"busy"`
	Respawns    int64  `json:"respawns"`
	Initialized bool   `json:"initialized"`
}

// Pool runs a fixed number of worker slots. Each slot claims the next queued
// job from the store, runs the handler and records the outcome.
type Pool struct {
	logger            *slog.Logger
	store             Store
	handler           runner.Handler
	dispatch          DispatchSource
	workerID          string
	concurrency       int
	pollInterval      time.Duration
	maxBackoff        time.Duration
	heartbeatInterval time.Duration
	jobTimeout        time.Duration
	cancelPolicy      CancelPolicy

	wake        chan struct{}
	busy        atomic.Int32
	respawns    atomic.Int64
	initialized atomic.Bool
	wg          sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewPool creates a new worker pool
func NewPool(cfg *Config) (*Pool, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker pool requires a store")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("worker pool requires a handler")
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("worker pool concurrency must be at least 1, got %d", cfg.Concurrency)
	}

	policy := cfg.CancelPolicy
	switch policy {
	case "":
		policy = CancelAdvisory
	case CancelAdvisory, CancelAbort:
	default:
		return nil, fmt.Errorf("unknown cancel policy %q", policy)
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		logger:            logger.With(slog.String("worker_id", workerID)),
		store:             cfg.Store,
		handler:           cfg.Handler,
		dispatch:          cfg.Dispatch,
		workerID:          workerID,
		concurrency:       cfg.Concurrency,
		pollInterval:      orDefault(cfg.PollInterval, defaultPollInterval),
		maxBackoff:        orDefault(cfg.MaxBackoff, defaultMaxBackoff),
		heartbeatInterval: orDefault(cfg.HeartbeatInterval, defaultHeartbeatInterval),
		jobTimeout:        cfg.JobTimeout,
		cancelPolicy:      policy,
		wake:              make(chan struct{}, cfg.Concurrency),
		stopped:           make(chan struct{}),
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start runs the pool until ctx is cancelled or Stop is called. It returns
// after every in-flight handler has finished and its outcome is recorded.
func (p *Pool) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		cancel()
		return ErrAlreadyStarted
	}
	p.cancel = cancel
	p.mu.Unlock()

	defer close(p.stopped)
	defer cancel()

	p.logger.Info("Starting worker pool",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
		slog.Duration("job_timeout", p.jobTimeout),
		slog.String("cancel_policy", string(p.cancelPolicy)),
	)

	p.spawnSlots(ctx)
	p.initialized.Store(true)

	if p.dispatch != nil {
		p.wg.Add(1)
		go p.consumeDispatch(ctx)
	}

	p.wg.Add(1)
	go p.beatLoop(ctx)

	<-ctx.Done()
	p.initialized.Store(false)
	p.logger.Info("Worker pool stopping, waiting for in-flight jobs")

	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
	return nil
}

// Stop gracefully stops the pool and waits for Start to return
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-p.stopped
}

// Initialized reports whether the pool's slots are running
func (p *Pool) Initialized() bool {
	return p.initialized.Load()
}

// Stats returns a snapshot of slot usage
func (p *Pool) Stats() Stats {
	return Stats{
		WorkerID:    p.workerID,
		Slots:       p.concurrency,
		Busy:        int(p.busy.Load()),
		Respawns:    p.respawns.Load(),
		Initialized: p.Initialized(),
	}
}

// Nudge wakes one idle slot without blocking
func (p *Pool) Nudge() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Signal lets an in-process store wake the pool directly
func (p *Pool) Signal(_ context.Context, _ *domain.Job) error {
	p.Nudge()
	return nil
}

// beatLoop records a liveness beat so other processes can see the pool
func (p *Pool) beatLoop(ctx context.Context) {
	defer p.wg.Done()

	p.recordBeat(ctx)

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.recordBeat(ctx)
		}
	}
}

func (p *Pool) recordBeat(ctx context.Context) {
	err := p.store.RecordWorker(ctx, domain.WorkerBeat{
		WorkerID: p.workerID,
		Slots:    p.concurrency,
		Busy:     int(p.busy.Load()),
	})
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("Failed to record worker beat",
			slog.String("error", err.Error()),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
