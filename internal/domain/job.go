package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

// Job is one schedulable unit of automation work. Version starts at 1 and
// increases by one with every applied state change.
type Job struct {
	ID          string
	Seq         int64
	Version     int64
	Payload     Payload
	Priority    int
	State       State
	WorkerID    string
	Result      json.RawMessage
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	HeartbeatAt *time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy so callers never share mutable state with a store
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	c.StartedAt = cloneTime(j.StartedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	c.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Event is a status transition broadcast on the status bus.
// Version is the job version the transition produced; zero means unknown.
type Event struct {
	JobID     string    `json:"job_id"`
	State     State     `json:"state"`
	Version   int64     `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// Key identifies an event for subscribers that de-duplicate redeliveries
func (e Event) Key() string {
	return e.JobID + "|" + string(e.State) + "|" + strconv.FormatInt(e.Timestamp.UnixNano(), 10)
}

// WorkerBeat is the liveness record a worker pool writes periodically
type WorkerBeat struct {
	WorkerID   string
	Slots      int
	Busy       int
	LastSeenAt time.Time
}
