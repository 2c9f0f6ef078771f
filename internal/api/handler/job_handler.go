package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/taskcore/internal/api/dto"
	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/internal/jobstore"
)

const maxPageSize = 500

// CreateTask handles POST /tasks
// Validates the payload and enqueues a new task
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		abort(c, http.StatusBadRequest, ReasonValidationFailed, "invalid request body")
		return
	}

	job, err := h.store.Enqueue(c.Request.Context(), req.Payload, req.Priority)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewTaskDTO(job))
}

// ListTasks handles GET /tasks
// Lists tasks in insertion order, optionally filtered by one or more statuses
func (h *TaskHandler) ListTasks(c *gin.Context) {
	var req dto.ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		abort(c, http.StatusBadRequest, ReasonValidationFailed, "invalid query parameters")
		return
	}

	var states []domain.State
	for _, raw := range req.Status {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := dto.ParseStatus(part)
			if err != nil {
				abort(c, http.StatusBadRequest, ReasonValidationFailed, err.Error())
				return
			}
			states = append(states, st)
		}
	}

	if req.Limit < 0 || req.Limit > maxPageSize {
		abort(c, http.StatusBadRequest, ReasonValidationFailed, "limit must be between 1 and 500")
		return
	}

	afterSeq, err := DecodeTaskCursor(req.Cursor)
	if err != nil {
		abort(c, http.StatusBadRequest, ReasonValidationFailed, "invalid cursor")
		return
	}

	filter := jobstore.ListFilter{
		States:   states,
		AfterSeq: afterSeq,
	}
	if req.Limit > 0 {
		// One extra row tells us whether another page exists
		filter.Limit = req.Limit + 1
	}

	jobs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if req.Limit > 0 && len(jobs) > req.Limit {
		jobs = jobs[:req.Limit]
		c.Header("X-Next-Cursor", EncodeTaskCursor(jobs[len(jobs)-1].Seq))
	}

	tasks := make([]dto.TaskDTO, len(jobs))
	for i, job := range jobs {
		tasks[i] = dto.NewTaskDTO(job)
	}

	c.JSON(http.StatusOK, tasks)
}

// GetTask handles GET /tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	job, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewTaskDetailDTO(job))
}

// DeleteTask handles DELETE /tasks/:id
// Removes the task in any state
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	if err := h.store.Remove(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{ID: id, Status: dto.StatusRemoved})
}

// StopTask handles POST /tasks/:id/stop
// Only a running task can be stopped; anything else is reported as not found
func (h *TaskHandler) StopTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	job, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if job.State != domain.StateRunning {
		abort(c, http.StatusNotFound, ReasonNotFound, "task is not running")
		return
	}

	job, err = h.store.RequestCancel(c.Request.Context(), id)
	if err != nil {
		if jobstore.IsDroppedWrite(err) {
			// Finished or removed since we looked
			abort(c, http.StatusNotFound, ReasonNotFound, "task is not running")
			return
		}
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{ID: job.ID, Status: dto.DisplayStatus(job.State)})
}

// StartTask handles POST /tasks/:id/start
// Replaces a finished task with a fresh queued copy under a new id
func (h *TaskHandler) StartTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	job, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if job.State.IsActive() {
		abort(c, http.StatusConflict, ReasonConflict, "task is still active")
		return
	}

	restarted, err := h.store.Restart(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.RestartResponse{ID: restarted.ID, PreviousID: id})
}

// taskID validates the :id path parameter
func (h *TaskHandler) taskID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.logger.Warn("Invalid task id format", slog.String("id", id))
		abort(c, http.StatusBadRequest, ReasonInvalidID, "id must be a valid UUID")
		return "", false
	}
	return id, true
}
