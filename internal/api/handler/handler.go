package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/internal/health"
	"github.com/cuongbtq/taskcore/internal/jobstore"
)

// TaskStore is the job store surface the gateway translates requests into
type TaskStore interface {
	Enqueue(ctx context.Context, payload domain.Payload, priority int) (*domain.Job, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter jobstore.ListFilter) ([]*domain.Job, error)
	Remove(ctx context.Context, jobID string) error
	RequestCancel(ctx context.Context, jobID string) (*domain.Job, error)
	Restart(ctx context.Context, jobID string) (*domain.Job, error)
}

// EventSubscriber hands out status event subscriptions
type EventSubscriber interface {
	Subscribe() (<-chan domain.Event, func())
}

// HealthReporter answers the system endpoints
type HealthReporter interface {
	HealthCheck(ctx context.Context) health.Report
	GetMetrics(ctx context.Context) health.Metrics
	GetStatus() health.Status
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Store        TaskStore
	Events       EventSubscriber
	Health       HealthReporter
	SSEKeepAlive time.Duration
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	logger *slog.Logger
	store  TaskStore
}

// NewTaskHandler creates a new TaskHandler instance
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	return &TaskHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}

// EventHandler streams status events to browsers
type EventHandler struct {
	logger    *slog.Logger
	events    EventSubscriber
	keepAlive time.Duration
}

// NewEventHandler creates a new EventHandler instance
func NewEventHandler(deps *Dependencies) *EventHandler {
	keepAlive := deps.SSEKeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &EventHandler{
		logger:    deps.Logger,
		events:    deps.Events,
		keepAlive: keepAlive,
	}
}

// SystemHandler serves health, metrics and status
type SystemHandler struct {
	logger *slog.Logger
	health HealthReporter
}

// NewSystemHandler creates a new SystemHandler instance
func NewSystemHandler(deps *Dependencies) *SystemHandler {
	return &SystemHandler{
		logger: deps.Logger,
		health: deps.Health,
	}
}
