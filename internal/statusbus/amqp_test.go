package statusbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/shared/rabbitmq"
)

type fakeBroker struct {
	bodies [][]byte
	err    error
}

func (f *fakeBroker) PublishEvent(_ context.Context, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.bodies = append(f.bodies, body)
	return nil
}

type failingSource struct {
	calls int
}

func (f *failingSource) ConsumeEvents(string) (*rabbitmq.Subscription, error) {
	f.calls++
	return nil, rabbitmq.ErrNotConnected
}

func TestAMQPPublisher_EncodesEvent(t *testing.T) {
	broker := &fakeBroker{}
	pub := NewAMQPPublisher(broker)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := pub.Publish(context.Background(), domain.Event{
		JobID:     "job-1",
		State:     domain.StateFailed,
		Version:   4,
		Timestamp: ts,
		Detail:    "boom",
	})
	require.NoError(t, err)
	require.Len(t, broker.bodies, 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(broker.bodies[0], &decoded))
	assert.Equal(t, "job-1", decoded["job_id"])
	assert.Equal(t, "failed", decoded["state"])
	assert.Equal(t, "boom", decoded["detail"])
	assert.EqualValues(t, 4, decoded["version"])
}

func TestAMQPPublisher_WrapsBrokerError(t *testing.T) {
	pub := NewAMQPPublisher(&fakeBroker{err: rabbitmq.ErrNotConnected})

	err := pub.Publish(context.Background(), domain.Event{JobID: "job-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, rabbitmq.ErrNotConnected))
}

func TestRelay_DeliverForwardsToHub(t *testing.T) {
	hub := NewHub(testLogger(), 0)
	ch, unsub := hub.Subscribe()
	defer unsub()

	relay := NewRelay(&failingSource{}, hub, "test", time.Millisecond, testLogger())

	body, err := json.Marshal(domain.Event{JobID: "job-1", State: domain.StateRunning, Timestamp: time.Now()})
	require.NoError(t, err)
	relay.deliver(context.Background(), body)

	got := receive(t, ch)
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, domain.StateRunning, got.State)
}

func TestRelay_DeliverDiscardsMalformed(t *testing.T) {
	hub := NewHub(testLogger(), 0)
	ch, unsub := hub.Subscribe()
	defer unsub()

	relay := NewRelay(&failingSource{}, hub, "test", time.Millisecond, testLogger())
	relay.deliver(context.Background(), []byte("not json"))
	relay.deliver(context.Background(), []byte(`{"state":"queued"}`))

	assert.Len(t, ch, 0)
}

func TestRelay_RunRetriesUntilCancelled(t *testing.T) {
	source := &failingSource{}
	relay := NewRelay(source, NewHub(testLogger(), 0), "test", 5*time.Millisecond, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	require.NoError(t, relay.Run(ctx))
	assert.GreaterOrEqual(t, source.calls, 2)
}

func TestRelay_DropsEventsOvertakenOnTheBroker(t *testing.T) {
	hub := NewHub(testLogger(), 0)
	ch, unsub := hub.Subscribe()
	defer unsub()

	relay := NewRelay(&failingSource{}, hub, "test", time.Millisecond, testLogger())
	ctx := context.Background()

	// The worker's running event reaches the fanout after the gateway's cancel
	for _, e := range []domain.Event{
		{JobID: "job-1", State: domain.StateQueued, Version: 1},
		{JobID: "job-1", State: domain.StateCancelled, Version: 3},
		{JobID: "job-1", State: domain.StateRunning, Version: 2},
	} {
		body, err := json.Marshal(e)
		require.NoError(t, err)
		relay.deliver(ctx, body)
	}

	assert.Equal(t, []domain.State{domain.StateQueued, domain.StateCancelled}, drainStates(ch))
}
