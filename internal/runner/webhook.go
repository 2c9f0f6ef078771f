package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/taskcore/internal/domain"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	maxResponseBody       = 1 << 20
	errorExcerptLen       = 200
)

// ErrWebhookStatus is returned when the automation service answers with a non-2xx status
var ErrWebhookStatus = errors.New("automation service rejected job")

// WebhookConfig configures the Webhook handler
type WebhookConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	Client  *http.Client
}

// Webhook hands each job to an external automation service over HTTP and
// waits for the run to finish within the request.
type Webhook struct {
	url    string
	token  string
	client *http.Client
}

type webhookRequest struct {
	JobID    string         `json:"job_id"`
	Priority int            `json:"priority"`
	Payload  domain.Payload `json:"payload"`
}

// NewWebhook creates a new Webhook handler
func NewWebhook(config WebhookConfig) (*Webhook, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	client := config.Client
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Webhook{
		url:    config.URL,
		token:  config.Token,
		client: client,
	}, nil
}

// Handle implements Handler
func (w *Webhook) Handle(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	body, err := json.Marshal(webhookRequest{
		JobID:    job.ID,
		Priority: job.Priority,
		Payload:  job.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("automation service request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read automation service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrWebhookStatus, resp.StatusCode, excerpt(respBody))
	}

	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed), nil
	}

	// Keep non-JSON replies as a JSON string
	return json.Marshal(string(trimmed))
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > errorExcerptLen {
		s = s[:errorExcerptLen] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
