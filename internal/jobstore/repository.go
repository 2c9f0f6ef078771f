package jobstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
)

// ListFilter narrows a job listing
type ListFilter struct {
	// States limits the listing to jobs in any of these states; empty means all
	States []domain.State
	// AfterSeq returns only jobs inserted after this sequence number
	AfterSeq int64
	// Limit caps the number of jobs returned; zero means no cap
	Limit int
}

// TransitionUpdate carries the fields written together with a state change
type TransitionUpdate struct {
	// WorkerID, when set, requires the job to be owned by this worker
	WorkerID string
	Result   json.RawMessage
	Error    string
	At       time.Time
}

// Repository persists job records. Every state-changing method is a
// compare-and-swap: it only applies when the stored state allows it.
type Repository interface {
	Insert(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.Job, error)
	Delete(ctx context.Context, jobID string) error

	// Reenqueue atomically deletes jobID and inserts a queued copy of it under newID
	Reenqueue(ctx context.Context, jobID, newID string, at time.Time) (*domain.Job, error)

	// ClaimNext moves the highest priority, oldest queued job to running for workerID
	ClaimNext(ctx context.Context, workerID string, at time.Time) (*domain.Job, error)

	Transition(ctx context.Context, jobID string, to domain.State, upd TransitionUpdate) (*domain.Job, error)

	// Touch refreshes the heartbeat of a running job and returns its current state
	Touch(ctx context.Context, jobID string, at time.Time) (domain.State, error)

	CountByState(ctx context.Context) (map[domain.State]int, error)
	RecordWorker(ctx context.Context, beat domain.WorkerBeat) error
	CountActiveWorkers(ctx context.Context, since time.Time) (int, error)
	SumWorkerSlots(ctx context.Context, since time.Time) (busy, slots int, err error)
	Ping(ctx context.Context) error
}
