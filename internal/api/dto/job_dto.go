package dto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
)

// Statuses shown to clients
const (
	StatusQueued     = "queued"
	StatusCarted     = "carted"
	StatusCheckedOut = "checked out"
	StatusFailed     = "failed"
	StatusStopped    = "stopped"
	StatusRemoved    = "removed"
)

var displayStatus = map[domain.State]string{
	domain.StateQueued:    StatusQueued,
	domain.StateRunning:   StatusCarted,
	domain.StateCompleted: StatusCheckedOut,
	domain.StateFailed:    StatusFailed,
	domain.StateCancelled: StatusStopped,
	domain.StateRemoved:   StatusRemoved,
}

// DisplayStatus maps a job state to the status clients see
func DisplayStatus(s domain.State) string {
	if v, ok := displayStatus[s]; ok {
		return v
	}
	return string(s)
}

// ParseStatus accepts a client status or a job state name and returns the stored state
func ParseStatus(s string) (domain.State, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for state, display := range displayStatus {
		if state.IsStored() && (s == display || s == string(state)) {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// CreateTaskRequest is the body of POST /tasks
type CreateTaskRequest struct {
	domain.Payload
	Priority int `json:"priority"`
}

// ListTasksRequest holds the GET /tasks query
type ListTasksRequest struct {
	Status []string `form:"status"`
	Limit  int      `form:"limit"`
	Cursor string   `form:"cursor"`
}

// TaskDTO is the list view of a task
type TaskDTO struct {
	ID      string `json:"id"`
	Product string `json:"product"`
	Site    string `json:"site"`
	Size    string `json:"size"`
	Proxy   string `json:"proxy"`
	Status  string `json:"status"`
}

// TaskDetailDTO is the full view of a task
type TaskDetailDTO struct {
	TaskDTO
	Priority    int             `json:"priority"`
	Payload     domain.Payload  `json:"payload"`
	WorkerID    string          `json:"worker_id,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	HeartbeatAt *time.Time      `json:"heartbeat_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// StatusResponse acknowledges a state-changing call
type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RestartResponse is returned by POST /tasks/:id/start
type RestartResponse struct {
	ID         string `json:"id"`
	PreviousID string `json:"previous_id"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error  string              `json:"error"`
	Reason string              `json:"reason"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

// TaskUpdate is the data of a task:update event
type TaskUpdate struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// NewTaskDTO builds the list view of a job
func NewTaskDTO(job *domain.Job) TaskDTO {
	return TaskDTO{
		ID:      job.ID,
		Product: job.Payload.ProductID,
		Site:    job.Payload.Site,
		Size:    job.Payload.Size,
		Proxy:   job.Payload.ProxyID,
		Status:  DisplayStatus(job.State),
	}
}

// NewTaskDetailDTO builds the full view of a job
func NewTaskDetailDTO(job *domain.Job) TaskDetailDTO {
	return TaskDetailDTO{
		TaskDTO:     NewTaskDTO(job),
		Priority:    job.Priority,
		Payload:     job.Payload,
		WorkerID:    job.WorkerID,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
		HeartbeatAt: job.HeartbeatAt,
		UpdatedAt:   job.UpdatedAt,
	}
}

// NewTaskUpdate converts a status event for subscribers
func NewTaskUpdate(e domain.Event) TaskUpdate {
	return TaskUpdate{
		ID:        e.JobID,
		Status:    DisplayStatus(e.State),
		Timestamp: e.Timestamp,
		Detail:    e.Detail,
	}
}
