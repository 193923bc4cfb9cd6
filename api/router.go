package api

import (
	"github.com/gin-gonic/gin"

	"vidcompose/config"
	"vidcompose/task"
)

func SetupRouter(mgr *task.Manager, cfg *config.Config, health HealthChecker) *gin.Engine {
	r := gin.Default()
	h := NewHandler(mgr, cfg, health)

	// Health check stays unauthenticated for load balancers.
	r.GET("/health", h.handleHealth)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		compose := v1.Group("/compose")
		{
			compose.POST("/concat", h.handleConcat)
			compose.POST("/pip", h.handlePiP)
			compose.POST("/pip-score", h.handlePiPScore)
			compose.POST("/single", h.handleSingle)
			compose.POST("/image", h.handleImage)
		}

		v1.GET("/tasks", h.handleListTasks)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)

		// File download endpoint (does not need auth if URLs are unguessable)
		// but we put it here for consistency.
		v1.GET("/files/:filename", h.handleGetFile)
	}
	return r
}
