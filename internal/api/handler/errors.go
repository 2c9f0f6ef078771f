package handler

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/taskcore/internal/api/dto"
	"github.com/cuongbtq/taskcore/internal/domain"
	"github.com/cuongbtq/taskcore/shared/rabbitmq"
)

// Machine-readable failure reasons
const (
	ReasonValidationFailed = "validation_failed"
	ReasonNotFound         = "not_found"
	ReasonConflict         = "conflict"
	ReasonInvalidID        = "invalid_id"
	ReasonUnavailable      = "unavailable"
	ReasonInternal         = "internal"
)

func abort(c *gin.Context, status int, reason, message string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Error:  message,
		Reason: reason,
	})
}

// respondError maps a store error to a status code and reason. Internal
// error text is logged, never returned.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:  "invalid task payload",
			Reason: ReasonValidationFailed,
			Fields: verr.Fields,
		})

	case errors.Is(err, domain.ErrInvalidPayload):
		abort(c, http.StatusBadRequest, ReasonValidationFailed, "invalid task payload")

	case errors.Is(err, domain.ErrJobNotFound):
		abort(c, http.StatusNotFound, ReasonNotFound, "task not found")

	case errors.Is(err, domain.ErrInvalidTransition):
		abort(c, http.StatusConflict, ReasonConflict, "task state does not allow this operation")

	case isUnavailable(err):
		logger.Error("Job store unavailable",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		abort(c, http.StatusServiceUnavailable, ReasonUnavailable, "service temporarily unavailable")

	default:
		logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		abort(c, http.StatusInternalServerError, ReasonInternal, "internal error")
	}
}

func isUnavailable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, rabbitmq.ErrNotConnected)
}
