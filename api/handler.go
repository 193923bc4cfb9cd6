package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"vidcompose/config"
	"vidcompose/task"
)

// HealthChecker reports whether the encoding tool is reachable. Implemented
// by ffmpeg.Runner.
type HealthChecker interface {
	Healthcheck(ctx context.Context) (string, error)
}

type Handler struct {
	mgr    *task.Manager
	cfg    *config.Config
	health HealthChecker
}

func NewHandler(mgr *task.Manager, cfg *config.Config, health HealthChecker) *Handler {
	return &Handler{
		mgr:    mgr,
		cfg:    cfg,
		health: health,
	}
}

// handleConcat accepts two videos and submits a concat job.
func (h *Handler) handleConcat(c *gin.Context) {
	h.handleTwoVideoSubmit(c, task.ModeConcat, "video1", "video2", task.Options{})
}

// handlePiP accepts a base and an overlay video and submits a
// picture-in-picture job.
func (h *Handler) handlePiP(c *gin.Context) {
	h.handleTwoVideoSubmit(c, task.ModePiP, "video0", "video1", task.Options{})
}

// handlePiPScore is handlePiP plus a required score form value burned into
// the frame.
func (h *Handler) handlePiPScore(c *gin.Context) {
	score := strings.TrimSpace(c.PostForm("score"))
	if score == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "score form value is required"})
		return
	}
	h.handleTwoVideoSubmit(c, task.ModePiPScore, "video0", "video1", task.Options{Score: score})
}

func (h *Handler) handleTwoVideoSubmit(c *gin.Context, mode task.Mode, fieldA, fieldB string, opts task.Options) {
	pathA, err := h.stageUpload(c, fieldA, "video/", ".mp4")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pathB, err := h.stageUpload(c, fieldB, "video/", ".mp4")
	if err != nil {
		discardStaged([]string{pathA})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.submit(c, mode, []string{pathA, pathB}, opts)
}

// handleSingle accepts one video and submits a normalization job.
func (h *Handler) handleSingle(c *gin.Context) {
	path, err := h.stageUpload(c, "video", "video/", ".mp4")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.submit(c, task.ModeSingle, []string{path}, task.Options{})
}

// handleImage accepts a still image and submits an image-to-video job.
func (h *Handler) handleImage(c *gin.Context) {
	path, err := h.stageUpload(c, "image", "image/", ".jpg")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.submit(c, task.ModeImage, []string{path}, task.Options{})
}

// submit hands staged inputs to the scheduler and writes the 202 response.
// A rejected submission discards its staged files.
func (h *Handler) submit(c *gin.Context, mode task.Mode, inputs []string, opts task.Options) {
	t, err := h.mgr.Submit(mode, inputs, opts)
	if err != nil {
		discardStaged(inputs)
		switch {
		case errors.Is(err, task.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is busy, try again later"})
		case errors.Is(err, task.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create task", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"taskId":    t.ID,
		"statusUrl": fmt.Sprintf("%s/api/v1/tasks/%s", h.baseURL(c), t.ID),
	})
}

// handleGetTaskStatus retrieves the status of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	t, err := h.mgr.Get(c.Param("taskId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	h.buildDownloadURL(c, t)
	c.JSON(http.StatusOK, t)
}

// handleListTasks lists all tasks.
func (h *Handler) handleListTasks(c *gin.Context) {
	tasks := h.mgr.List()
	for _, t := range tasks {
		h.buildDownloadURL(c, t)
	}
	c.JSON(http.StatusOK, tasks)
}

// handleGetFile serves a completed output file.
func (h *Handler) handleGetFile(c *gin.Context) {
	filename := c.Param("filename")
	// Security: prevent path traversal
	if filename == "" || filename == "." || filename == ".." || filepath.Base(filename) != filename {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}

	fullPath := filepath.Join(h.cfg.OutputDir, filename)
	if _, err := os.Stat(fullPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.File(fullPath)
}

// handleHealth reports encoder availability for operational checks.
func (h *Handler) handleHealth(c *gin.Context) {
	version, err := h.health.Healthcheck(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":          "unhealthy",
			"ffmpegAvailable": false,
			"error":           err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"ffmpegAvailable": true,
		"ffmpegVersion":   version,
		"activeTasks":     len(h.mgr.List()),
	})
}

// buildDownloadURL fills in the full URL for a completed task's file.
func (h *Handler) buildDownloadURL(c *gin.Context, t *task.Task) {
	if t.State != task.StateCompleted || t.OutputPath == "" {
		return
	}
	t.DownloadURL = fmt.Sprintf("%s/api/v1/files/%s", h.baseURL(c), filepath.Base(t.OutputPath))
}

func (h *Handler) baseURL(c *gin.Context) string {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	return strings.TrimSuffix(baseURL, "/")
}
