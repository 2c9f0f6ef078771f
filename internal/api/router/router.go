package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/taskcore/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, corsOpts CORSOptions) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(corsOpts))

	// Liveness only; dependency health lives under /system/health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "task-api-service",
		})
	})

	taskHandler := handler.NewTaskHandler(deps)
	eventHandler := handler.NewEventHandler(deps)
	systemHandler := handler.NewSystemHandler(deps)

	tasks := r.Group("/tasks")
	{
		// POST /tasks - Enqueue a task
		tasks.POST("", taskHandler.CreateTask)

		// GET /tasks - List tasks, optionally by status
		tasks.GET("", taskHandler.ListTasks)

		// GET /tasks/:id - Task details
		tasks.GET("/:id", taskHandler.GetTask)

		// DELETE /tasks/:id - Remove a task
		tasks.DELETE("/:id", taskHandler.DeleteTask)

		// POST /tasks/:id/stop - Cancel a running task
		tasks.POST("/:id/stop", taskHandler.StopTask)

		// POST /tasks/:id/start - Re-run a finished task
		tasks.POST("/:id/start", taskHandler.StartTask)
	}

	// GET /events - Server-sent task:update stream
	r.GET("/events", eventHandler.StreamEvents)

	system := r.Group("/system")
	{
		system.GET("/health", systemHandler.Health)
		system.GET("/metrics", systemHandler.Metrics)
		system.GET("/status", systemHandler.Status)
	}

	return r
}
