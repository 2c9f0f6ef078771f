package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuongbtq/taskcore/internal/api/dto"
)

// ErrStreamClosed is returned by Watch when the gateway ends the stream
var ErrStreamClosed = errors.New("event stream closed by gateway")

// Watch streams task:update events to fn until ctx is done, fn returns an
// error or the gateway closes the stream. An empty taskID watches every task.
func (c *Client) Watch(ctx context.Context, taskID string, fn func(dto.TaskUpdate) error) error {
	target := c.baseURL + "/events"
	if taskID != "" {
		target += "?id=" + url.QueryEscape(taskID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var (
		event string
		data  strings.Builder
	)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// Blank line ends an event
			if event == "" || event == "task:update" {
				if data.Len() > 0 {
					var update dto.TaskUpdate
					if err := json.Unmarshal([]byte(data.String()), &update); err != nil {
						return fmt.Errorf("failed to decode task update: %w", err)
					}
					if err := fn(update); err != nil {
						return err
					}
				}
			}
			event = ""
			data.Reset()

		case strings.HasPrefix(line, ":"):
			// keepalive

		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream failed: %w", err)
	}
	return ErrStreamClosed
}
