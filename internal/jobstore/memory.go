package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
)

// MemoryRepository keeps jobs in process memory. A single mutex serializes
// every write, which makes claims exclusive.
type MemoryRepository struct {
	mu      sync.Mutex
	seq     int64
	jobs    map[string]*domain.Job
	workers map[string]domain.WorkerBeat
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:    make(map[string]*domain.Job),
		workers: make(map[string]domain.WorkerBeat),
	}
}

func (r *MemoryRepository) Insert(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	job.Seq = r.seq
	if job.Version == 0 {
		job.Version = 1
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[domain.State]bool, len(filter.States))
	for _, st := range filter.States {
		wanted[st] = true
	}

	jobs := make([]*domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if len(wanted) > 0 && !wanted[job.State] {
			continue
		}
		if job.Seq <= filter.AfterSeq {
			continue
		}
		jobs = append(jobs, job.Clone())
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Seq < jobs[j].Seq })

	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[jobID]; !ok {
		return domain.ErrJobNotFound
	}
	delete(r.jobs, jobID)
	return nil
}

func (r *MemoryRepository) Reenqueue(ctx context.Context, jobID, newID string, at time.Time) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	delete(r.jobs, jobID)

	r.seq++
	job := &domain.Job{
		ID:        newID,
		Seq:       r.seq,
		Version:   1,
		Payload:   old.Payload,
		Priority:  old.Priority,
		State:     domain.StateQueued,
		CreatedAt: at,
		UpdatedAt: at,
	}
	r.jobs[newID] = job
	return job.Clone(), nil
}

func (r *MemoryRepository) ClaimNext(ctx context.Context, workerID string, at time.Time) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *domain.Job
	for _, job := range r.jobs {
		if job.State != domain.StateQueued {
			continue
		}
		if next == nil || job.Priority > next.Priority ||
			(job.Priority == next.Priority && job.Seq < next.Seq) {
			next = job
		}
	}
	if next == nil {
		return nil, domain.ErrNoJobAvailable
	}

	started := at
	next.State = domain.StateRunning
	next.Version++
	next.WorkerID = workerID
	next.StartedAt = &started
	next.HeartbeatAt = &started
	next.UpdatedAt = at
	return next.Clone(), nil
}

func (r *MemoryRepository) Transition(ctx context.Context, jobID string, to domain.State, upd TransitionUpdate) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !domain.CanTransition(job.State, to) {
		return nil, domain.NewTransitionError(jobID, job.State, to)
	}
	if upd.WorkerID != "" && job.WorkerID != upd.WorkerID {
		return nil, domain.NewTransitionError(jobID, job.State, to)
	}

	job.State = to
	job.Version++
	job.UpdatedAt = upd.At
	if to.IsTerminal() {
		finished := upd.At
		job.FinishedAt = &finished
	}
	if upd.Result != nil {
		job.Result = append([]byte(nil), upd.Result...)
	}
	if upd.Error != "" {
		job.Error = upd.Error
	}
	return job.Clone(), nil
}

func (r *MemoryRepository) Touch(ctx context.Context, jobID string, at time.Time) (domain.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return "", domain.ErrJobNotFound
	}
	if job.State == domain.StateRunning {
		beat := at
		job.HeartbeatAt = &beat
		job.UpdatedAt = at
	}
	return job.State, nil
}

func (r *MemoryRepository) CountByState(ctx context.Context) (map[domain.State]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.State]int)
	for _, job := range r.jobs {
		counts[job.State]++
	}
	return counts, nil
}

func (r *MemoryRepository) RecordWorker(ctx context.Context, beat domain.WorkerBeat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workers[beat.WorkerID] = beat
	return nil
}

func (r *MemoryRepository) CountActiveWorkers(ctx context.Context, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, beat := range r.workers {
		if !beat.LastSeenAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) SumWorkerSlots(ctx context.Context, since time.Time) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	busy, slots := 0, 0
	for _, beat := range r.workers {
		if !beat.LastSeenAt.Before(since) {
			busy += beat.Busy
			slots += beat.Slots
		}
	}
	return busy, slots, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}
