package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /system/health
// Runs every probe; 503 when any dependency is down
func (h *SystemHandler) Health(c *gin.Context) {
	report := h.health.HealthCheck(c.Request.Context())
	if !report.Healthy {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Metrics handles GET /system/metrics
func (h *SystemHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.GetMetrics(c.Request.Context()))
}

// Status handles GET /system/status
// Returns the last cached health without probing
func (h *SystemHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.GetStatus())
}
