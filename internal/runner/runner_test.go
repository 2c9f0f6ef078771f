package runner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/taskcore/internal/domain"
)

func newJob(payload domain.Payload) *domain.Job {
	return &domain.Job{
		ID:       "0b6c2a8e-6d43-4b8e-9d8f-0c1a6f0f9a11",
		Priority: 3,
		Payload:  payload,
		State:    domain.StateRunning,
	}
}

func TestHandlerFunc(t *testing.T) {
	var called bool
	h := HandlerFunc(func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		called = true
		return json.RawMessage(`{"ok":true}`), nil
	})

	res, err := h.Handle(context.Background(), newJob(domain.Payload{ProductID: "X"}))
	require.NoError(t, err)
	assert.True(t, called)
	assert.JSONEq(t, `{"ok":true}`, string(res))
}

func TestSimulated_AlwaysSucceeds(t *testing.T) {
	h := NewSimulated(SimulatedConfig{SuccessRate: 1, Seed: 42})

	res, err := h.Handle(context.Background(), newJob(domain.Payload{
		ProductID:    "X",
		Site:         "shop",
		AutoPurchase: true,
		AccountID:    "acc-1",
	}))
	require.NoError(t, err)

	var out simulatedResult
	require.NoError(t, json.Unmarshal(res, &out))
	assert.Equal(t, "X", out.Product)
	assert.Equal(t, domain.ModePurchase, out.Mode)
	assert.True(t, out.Purchased)
}

func TestSimulated_MonitorNeverPurchases(t *testing.T) {
	h := NewSimulated(SimulatedConfig{SuccessRate: 1, Seed: 1})

	res, err := h.Handle(context.Background(), newJob(domain.Payload{
		ProductID:    "X",
		Mode:         domain.ModeMonitor,
		AutoPurchase: true,
		AccountID:    "acc-1",
	}))
	require.NoError(t, err)

	var out simulatedResult
	require.NoError(t, json.Unmarshal(res, &out))
	assert.False(t, out.Purchased)
}

func TestSimulated_AlwaysFails(t *testing.T) {
	h := NewSimulated(SimulatedConfig{SuccessRate: 0, Seed: 42})

	_, err := h.Handle(context.Background(), newJob(domain.Payload{ProductID: "X"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "X")
}

func TestSimulated_SeededOutcomesRepeat(t *testing.T) {
	run := func() []bool {
		h := NewSimulated(SimulatedConfig{SuccessRate: 0.5, Seed: 7})
		outcomes := make([]bool, 20)
		for i := range outcomes {
			_, err := h.Handle(context.Background(), newJob(domain.Payload{ProductID: "X"}))
			outcomes[i] = err == nil
		}
		return outcomes
	}

	assert.Equal(t, run(), run())
}

func TestSimulated_HonoursCancellation(t *testing.T) {
	h := NewSimulated(SimulatedConfig{SuccessRate: 1, StepDuration: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.Handle(ctx, newJob(domain.Payload{ProductID: "X"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSimulated_UsesPayloadDelay(t *testing.T) {
	h := NewSimulated(SimulatedConfig{SuccessRate: 1, StepDuration: time.Minute})

	start := time.Now()
	_, err := h.Handle(context.Background(), newJob(domain.Payload{ProductID: "X", DelayMS: 10}))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNewWebhook_RequiresURL(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{})
	assert.Error(t, err)
}

func TestWebhook_Success(t *testing.T) {
	var gotAuth string
	var gotBody webhookRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order":"A-1"}`))
	}))
	defer server.Close()

	h, err := NewWebhook(WebhookConfig{URL: server.URL, Token: "secret"})
	require.NoError(t, err)

	job := newJob(domain.Payload{ProductID: "X", Size: "42"})
	res, err := h.Handle(context.Background(), job)
	require.NoError(t, err)

	assert.JSONEq(t, `{"order":"A-1"}`, string(res))
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, job.ID, gotBody.JobID)
	assert.Equal(t, "X", gotBody.Payload.ProductID)
	assert.Equal(t, 3, gotBody.Priority)
}

func TestWebhook_NonJSONBodyIsWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("done"))
	}))
	defer server.Close()

	h, err := NewWebhook(WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), newJob(domain.Payload{ProductID: "X"}))
	require.NoError(t, err)
	assert.Equal(t, `"done"`, string(res))
}

func TestWebhook_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	h, err := NewWebhook(WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), newJob(domain.Payload{ProductID: "X"}))
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer server.Close()

	h, err := NewWebhook(WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), newJob(domain.Payload{ProductID: "X"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWebhookStatus))
	assert.Contains(t, err.Error(), "502")
	assert.Less(t, len(err.Error()), 300)
}
