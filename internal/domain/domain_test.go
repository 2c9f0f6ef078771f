package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateQueued, StateRunning, true},
		{StateQueued, StateCancelled, true},
		{StateQueued, StateCompleted, false},
		{StateQueued, StateFailed, false},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateCancelled, true},
		{StateRunning, StateQueued, false},
		{StateCompleted, StateRunning, false},
		{StateCompleted, StateCancelled, false},
		{StateFailed, StateCompleted, false},
		{StateCancelled, StateCompleted, false},
		{StateCancelled, StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransition_Removal(t *testing.T) {
	for _, st := range StoredStates {
		assert.True(t, CanTransition(st, StateRemoved), "remove from %s", st)
	}
	assert.False(t, CanTransition(StateRemoved, StateRemoved))
}

func TestState_Predicates(t *testing.T) {
	assert.True(t, StateQueued.IsActive())
	assert.True(t, StateRunning.IsActive())
	assert.False(t, StateCompleted.IsActive())

	for _, st := range []State{StateCompleted, StateFailed, StateCancelled, StateRemoved} {
		assert.True(t, st.IsTerminal(), st)
	}
	assert.False(t, StateRunning.IsTerminal())

	assert.False(t, StateRemoved.IsStored())

	_, err := ParseState("carted")
	assert.Error(t, err)
	st, err := ParseState("running")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st)
}

func TestSourcesOf_ReturnsCopy(t *testing.T) {
	src := SourcesOf(StateCancelled)
	require.Len(t, src, 2)
	src[0] = StateFailed
	assert.Equal(t, []State{StateQueued, StateRunning}, SourcesOf(StateCancelled))
}

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name   string
		p      Payload
		fields []string
	}{
		{name: "minimal", p: Payload{ProductID: "SKU-1"}},
		{name: "auto purchase with account", p: Payload{ProductID: "SKU-1", AutoPurchase: true, AccountID: "acc"}},
		{name: "monitor mode", p: Payload{ProductID: "SKU-1", Mode: ModeMonitor}},
		{name: "missing product", p: Payload{Site: "shop"}, fields: []string{"product"}},
		{name: "auto purchase without account", p: Payload{ProductID: "SKU-1", AutoPurchase: true}, fields: []string{"account"}},
		{name: "unknown mode", p: Payload{ProductID: "SKU-1", Mode: "scalp"}, fields: []string{"mode"}},
		{
			name:   "negative knobs",
			p:      Payload{ProductID: "SKU-1", Quantity: -1, MaxPrice: -5, DelayMS: -1, RetryBudget: -2},
			fields: []string{"quantity", "max_price", "delay_ms", "retry_budget"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPayload))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			got := make([]string, len(verr.Fields))
			for i, f := range verr.Fields {
				got[i] = f.Field
				assert.NotEmpty(t, f.Reason)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestPayload_ValueScan(t *testing.T) {
	p := Payload{ProductID: "SKU-1", Size: "42", MaxPrice: 199.5, AutoPurchase: true, AccountID: "acc"}

	v, err := p.Value()
	require.NoError(t, err)

	var fromString Payload
	require.NoError(t, fromString.Scan(v))
	assert.Equal(t, p, fromString)

	var fromBytes Payload
	require.NoError(t, fromBytes.Scan([]byte(v.(string))))
	assert.Equal(t, p, fromBytes)

	fromBytes = p
	require.NoError(t, fromBytes.Scan(nil))
	assert.Equal(t, Payload{}, fromBytes)

	assert.Error(t, fromBytes.Scan(42))
}

func TestJob_Clone(t *testing.T) {
	now := time.Now()
	job := &Job{
		ID:        "a",
		Result:    json.RawMessage(`{"ok":true}`),
		StartedAt: &now,
	}

	c := job.Clone()
	c.Result[0] = '['
	*c.StartedAt = now.Add(time.Hour)

	assert.Equal(t, `{"ok":true}`, string(job.Result))
	assert.Equal(t, now, *job.StartedAt)
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestTransitionError(t *testing.T) {
	err := NewTransitionError("a", StateCompleted, StateRunning)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "completed")
}

func TestEventKey(t *testing.T) {
	at := time.Unix(0, 42)
	a := Event{JobID: "a", State: StateRunning, Timestamp: at}
	b := Event{JobID: "a", State: StateRunning, Timestamp: at, Detail: "w-0"}
	c := Event{JobID: "a", State: StateCompleted, Timestamp: at}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}
