// Package client talks to the task gateway over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/taskcore/internal/api/dto"
	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/internal/health"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx gateway answer
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
	Fields     []domain.FieldError
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("gateway returned %d", e.StatusCode)
	}
	msg := fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Reason)
	for _, f := range e.Fields {
		msg += "; " + f.Field + " " + f.Reason
	}
	return msg
}

// IsNotFound reports whether err is a 404 from the gateway
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the task gateway
type Client struct {
	baseURL string
	http    *http.Client
	// stream has no timeout; event streams stay open
	stream *http.Client
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the client used for request/response calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a Client for the gateway at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOptions narrows ListTasks
type ListOptions struct {
	Status []string
	Limit  int
	Cursor string
}

// CreateTask enqueues a task
func (c *Client) CreateTask(ctx context.Context, req dto.CreateTaskRequest) (*dto.TaskDTO, error) {
	var task dto.TaskDTO
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns one page of tasks and the cursor of the next page, if any
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]dto.TaskDTO, string, error) {
	q := url.Values{}
	if len(opts.Status) > 0 {
		q.Set("status", strings.Join(opts.Status, ","))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tasks []dto.TaskDTO
	resp, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if err := decode(resp, &tasks); err != nil {
		return nil, "", err
	}
	return tasks, resp.Header.Get("X-Next-Cursor"), nil
}

// GetTask returns the full view of a task
func (c *Client) GetTask(ctx context.Context, id string) (*dto.TaskDetailDTO, error) {
	var task dto.TaskDetailDTO
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask removes a task
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

// StopTask cancels a running task
func (c *Client) StopTask(ctx context.Context, id string) (*dto.StatusResponse, error) {
	var resp dto.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/stop", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartTask re-runs a finished task under a new id
func (c *Client) StartTask(ctx context.Context, id string) (*dto.RestartResponse, error) {
	var resp dto.RestartResponse
	if err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(id)+"/start", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health runs the gateway's dependency checks. An unhealthy report is not an error.
func (c *Client) Health(ctx context.Context) (*health.Report, error) {
	resp, err := c.send(ctx, http.MethodGet, "/system/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, apiError(resp)
	}

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode health report: %w", err)
	}
	return &report, nil
}

// Metrics returns the gateway's metrics snapshot
func (c *Client) Metrics(ctx context.Context) (*health.Metrics, error) {
	var metrics health.Metrics
	if err := c.do(ctx, http.MethodGet, "/system/metrics", nil, &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func decode(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	// Bodies that are not an error document still yield the status code
	var body dto.ErrorResponse
	if json.NewDecoder(resp.Body).Decode(&body) == nil {
		apiErr.Reason = body.Reason
		apiErr.Message = body.Error
		apiErr.Fields = body.Fields
	}
	return apiErr
}
