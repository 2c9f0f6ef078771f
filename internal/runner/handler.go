// Package runner holds the units of work a worker slot executes for a job.
package runner

import (
	"context"
	"encoding/json"

	"github.com/cuongbtq/taskcore/internal/domain"
)

// Handler runs one job. A nil error means success and the returned document,
// if any, is recorded as the job result. Implementations should return
// promptly once ctx is cancelled.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, job *domain.Job) (json.RawMessage, error)

// Handle calls f(ctx, job)
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	return f(ctx, job)
}
