package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a state change is not allowed from the job's current state
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrNoJobAvailable is returned by a claim when no queued job is eligible
	ErrNoJobAvailable = errors.New("no queued job available")

	// ErrInvalidPayload is returned when an enqueue payload fails validation
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrHandlerPanic marks a failure caused by a panicking job handler
	ErrHandlerPanic = errors.New("handler panic")

	// ErrHandlerTimeout marks a handler run that exceeded the configured job timeout
	ErrHandlerTimeout = errors.New("handler timed out")
)

// FieldError describes one invalid payload field
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError is returned synchronously when an enqueue payload is rejected
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrInvalidPayload
func (e *ValidationError) Unwrap() error {
	return ErrInvalidPayload
}

// TransitionError reports a rejected state change
type TransitionError struct {
	JobID string
	From  State
	To    State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.JobID, e.From, e.To)
}

// Unwrap lets errors.Is match ErrInvalidTransition
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewTransitionError creates a new TransitionError
func NewTransitionError(jobID string, from, to State) error {
	return &TransitionError{JobID: jobID, From: from, To: to}
}
