package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/google/uuid"
)

const publishTimeout = 5 * time.Second

// Publisher broadcasts status events
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Signaler tells idle workers that a job became claimable
type Signaler interface {
	Signal(ctx context.Context, job *domain.Job) error
}

// Config holds job store dependencies
type Config struct {
	Repository Repository
	Publisher  Publisher
	Signaler   Signaler
	Logger     *slog.Logger
	Now        func() time.Time
}

// Store is the system of record for what must run and in what state.
// It arbitrates every lifecycle write and publishes one event per applied transition.
type Store struct {
	repo      Repository
	publisher Publisher
	signaler  Signaler
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore creates a new Store instance
func NewStore(cfg *Config) *Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:      cfg.Repository,
		publisher: cfg.Publisher,
		signaler:  cfg.Signaler,
		logger:    logger,
		now:       func() time.Time { return now().UTC() },
	}
}

// Enqueue validates the payload and persists a new queued job
func (s *Store) Enqueue(ctx context.Context, payload domain.Payload, priority int) (*domain.Job, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	job := &domain.Job{
		ID:        uuid.New().String(),
		Payload:   payload,
		Priority:  priority,
		Version:   1,
		State:     domain.StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.Int("priority", priority),
		slog.String("product", payload.ProductID),
	)

	s.signal(ctx, job)
	s.publish(ctx, job.ID, domain.StateQueued, job.Version, now, "")

	return job.Clone(), nil
}

// Get returns a job by id
func (s *Store) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.Get(ctx, jobID)
}

// List returns a snapshot of jobs in insertion order
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*domain.Job, error) {
	jobs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Remove deletes a job in any state. A worker still executing it is not
// interrupted; its later status write is dropped.
func (s *Store) Remove(ctx context.Context, jobID string) error {
	if err := s.repo.Delete(ctx, jobID); err != nil {
		return err
	}

	s.logger.Info("Job removed", slog.String("job_id", jobID))
	s.publish(ctx, jobID, domain.StateRemoved, 0, s.now(), "")
	return nil
}

// RequestCancel marks a queued or running job as cancelled. For a running job
// the handler keeps going unless the pool runs with the abort cancel policy.
func (s *Store) RequestCancel(ctx context.Context, jobID string) (*domain.Job, error) {
	now := s.now()
	job, err := s.repo.Transition(ctx, jobID, domain.StateCancelled, TransitionUpdate{At: now})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job cancelled", slog.String("job_id", jobID))
	s.publish(ctx, jobID, domain.StateCancelled, job.Version, now, "cancel requested")
	return job, nil
}

// Restart replaces a job with a freshly queued copy under a new id
func (s *Store) Restart(ctx context.Context, jobID string) (*domain.Job, error) {
	now := s.now()
	job, err := s.repo.Reenqueue(ctx, jobID, uuid.New().String(), now)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job restarted",
		slog.String("old_job_id", jobID),
		slog.String("job_id", job.ID),
	)

	s.publish(ctx, jobID, domain.StateRemoved, 0, now, "restarted as "+job.ID)
	s.signal(ctx, job)
	s.publish(ctx, job.ID, domain.StateQueued, job.Version, now, "restart of "+jobID)
	return job, nil
}

// Claim atomically hands the next eligible job to workerID
func (s *Store) Claim(ctx context.Context, workerID string) (*domain.Job, error) {
	now := s.now()
	job, err := s.repo.ClaimNext(ctx, workerID, now)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, job.ID, domain.StateRunning, job.Version, now, workerID)
	return job, nil
}

// Complete records a successful handler run
func (s *Store) Complete(ctx context.Context, jobID, workerID string, result json.RawMessage) error {
	now := s.now()
	job, err := s.repo.Transition(ctx, jobID, domain.StateCompleted, TransitionUpdate{
		WorkerID: workerID,
		Result:   result,
		At:       now,
	})
	if err != nil {
		return err
	}

	s.publish(ctx, jobID, domain.StateCompleted, job.Version, now, "")
	return nil
}

// Fail records a failed handler run with its failure detail
func (s *Store) Fail(ctx context.Context, jobID, workerID, detail string) error {
	if detail == "" {
		detail = "handler failed"
	}

	now := s.now()
	job, err := s.repo.Transition(ctx, jobID, domain.StateFailed, TransitionUpdate{
		WorkerID: workerID,
		Error:    detail,
		At:       now,
	})
	if err != nil {
		return err
	}

	s.publish(ctx, jobID, domain.StateFailed, job.Version, now, detail)
	return nil
}

// Heartbeat refreshes a running job's heartbeat and reports its current state
func (s *Store) Heartbeat(ctx context.Context, jobID string) (domain.State, error) {
	return s.repo.Touch(ctx, jobID, s.now())
}

// DepthByState counts jobs per stored state, including empty states
func (s *Store) DepthByState(ctx context.Context) (map[domain.State]int, error) {
	counts, err := s.repo.CountByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}

	depth := make(map[domain.State]int, len(domain.StoredStates))
	for _, st := range domain.StoredStates {
		depth[st] = counts[st]
	}
	return depth, nil
}

// RecordWorker stores a worker pool liveness beat
func (s *Store) RecordWorker(ctx context.Context, beat domain.WorkerBeat) error {
	if beat.LastSeenAt.IsZero() {
		beat.LastSeenAt = s.now()
	}
	return s.repo.RecordWorker(ctx, beat)
}

// ActiveWorkers counts worker pools seen within the given window
func (s *Store) ActiveWorkers(ctx context.Context, within time.Duration) (int, error) {
	return s.repo.CountActiveWorkers(ctx, s.now().Add(-within))
}

// WorkerUsage sums busy and total slots of worker pools seen within the given window
func (s *Store) WorkerUsage(ctx context.Context, within time.Duration) (int, int, error) {
	return s.repo.SumWorkerSlots(ctx, s.now().Add(-within))
}

// Ping checks the backing repository
func (s *Store) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Store) signal(ctx context.Context, job *domain.Job) {
	if s.signaler == nil {
		return
	}
	if err := s.signaler.Signal(ctx, job); err != nil {
		// Workers also poll, so a lost signal only delays the claim
		s.logger.Warn("Failed to signal workers",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// publish emits one event for an applied transition. version is the job
// version the write produced; removals pass zero since they are final.
func (s *Store) publish(ctx context.Context, jobID string, state domain.State, version int64, at time.Time, detail string) {
	if s.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := domain.Event{
		JobID:     jobID,
		State:     state,
		Version:   version,
		Timestamp: at,
		Detail:    detail,
	}
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Warn("Failed to publish status event",
			slog.String("job_id", jobID),
			slog.String("state", state.String()),
			slog.String("error", err.Error()),
		)
	}
}

// IsDroppedWrite reports whether a worker's status write was refused because
// the job was removed or already left the running state
func IsDroppedWrite(err error) bool {
	return errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrInvalidTransition)
}
