package handler

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/taskcore/internal/api/dto"
)

// EventTaskUpdate is the SSE event name for task status changes
const EventTaskUpdate = "task:update"

// StreamEvents handles GET /events
// Streams task:update events until the client disconnects. ?id= limits the
// stream to one task.
func (h *EventHandler) StreamEvents(c *gin.Context) {
	taskID := c.Query("id")

	events, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	// Send headers now so clients see the stream open before the first event
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	h.logger.Debug("Event stream opened",
		slog.String("ip", c.ClientIP()),
		slog.String("task_id", taskID),
	)

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false

		case event, ok := <-events:
			if !ok {
				return false
			}
			if taskID != "" && event.JobID != taskID {
				return true
			}
			c.SSEvent(EventTaskUpdate, dto.NewTaskUpdate(event))
			return true

		case <-ticker.C:
			// Comment line keeps proxies from closing an idle stream
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return false
			}
			return true
		}
	})

	h.logger.Debug("Event stream closed", slog.String("ip", c.ClientIP()))
}
