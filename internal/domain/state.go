package domain

import "fmt"

// State is the lifecycle state of a job
type State string

// Job states
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"

	// StateRemoved is never stored. It is published when a job record is deleted.
	StateRemoved State = "removed"
)

// StoredStates lists the states a persisted job can be in, in lifecycle order
var StoredStates = []State{
	StateQueued,
	StateRunning,
	StateCompleted,
	StateFailed,
	StateCancelled,
}

// transitions maps a target state to the states it may be entered from
var transitions = map[State][]State{
	StateRunning:   {StateQueued},
	StateCompleted: {StateRunning},
	StateFailed:    {StateRunning},
	StateCancelled: {StateQueued, StateRunning},
}

// ParseState converts a stored state name to a State
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsStored() {
		return "", fmt.Errorf("unknown job state %q", s)
	}
	return st, nil
}

// IsStored reports whether s is one of the persisted states
func (s State) IsStored() bool {
	for _, st := range StoredStates {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is accepted from s
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateRemoved:
		return true
	default:
		return false
	}
}

// IsActive reports whether a job in state s is still waiting or executing
func (s State) IsActive() bool {
	return s == StateQueued || s == StateRunning
}

// String implements fmt.Stringer
func (s State) String() string {
	return string(s)
}

// SourcesOf returns the states from which a job may move into to.
// Removal is allowed from every state and is not a transition in this table.
func SourcesOf(to State) []State {
	src := transitions[to]
	out := make([]State, len(src))
	copy(out, src)
	return out
}

// CanTransition reports whether a job may move from one state to another
func CanTransition(from, to State) bool {
	if to == StateRemoved {
		return from.IsStored()
	}
	for _, src := range transitions[to] {
		if src == from {
			return true
		}
	}
	return false
}
