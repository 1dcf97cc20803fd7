package runs

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"techdoc-backend/internal/shared/server/respond"
	"techdoc-backend/internal/shared/util"
)

const (
	defaultStreamHeartbeat = 15 * time.Second
	defaultStreamMaxAge    = 5 * time.Minute
)

// Handler wires HTTP handlers to the runs service.
type Handler struct {
	Svc          *Service
	Poll         *pollLimiter
	Heartbeat    time.Duration
	MaxStreamAge time.Duration
}

// NewHandler constructs a Handler with default stream settings.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		Svc:  svc,
		Poll: newPollLimiter(pollLimitWindow, nil),
	}
}

// RegisterRoutes attaches run routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/runs", h.createRun)
	rg.GET("/runs", h.listRuns)
	rg.GET("/runs/:id", h.getRun)
	rg.GET("/runs/:id/document", h.downloadDocument)
	rg.GET("/runs/:id/events", h.streamEvents)
	rg.POST("/runs/:id/reset", h.resetRun)
	rg.DELETE("/runs/:id", h.deleteRun)
}

func (h *Handler) createRun(c *gin.Context) {
	var req struct {
		Title   string `json:"title"`
		SRSText string `json:"srsText"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.SRSText) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "srsText is required", []map[string]string{
			{"field": "srsText", "issue": "required"},
		})
		return
	}

	run, err := h.Svc.Create(c.Request.Context(), req.Title, req.SRSText)
	if err != nil {
		switch {
		case errors.Is(err, ErrSourceTooLarge):
			respond.Error(c, http.StatusBadRequest, "validation_error", "srsText is too large", []map[string]string{
				{"field": "srsText", "issue": "too_large"},
			})
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start run", nil)
		}
		return
	}

	c.Set("runId", run.ID)
	respond.Accepted(c, gin.H{
		"runId":  run.ID,
		"status": run.Status,
	})
}

func (h *Handler) getRun(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "run id is required", nil)
		return
	}
	c.Set("runId", runID)

	if !h.Poll.Allow(c.ClientIP(), runID) {
		c.Header("Retry-After", strconv.Itoa(h.Poll.RetryAfterSeconds()))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "polling too fast, slow down", nil)
		return
	}

	run, err := h.Svc.Get(c.Request.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch run", nil)
		}
		return
	}

	respond.OK(c, runResponse(run))
}

func (h *Handler) listRuns(c *gin.Context) {
	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list runs", nil)
		return
	}

	resp := make([]gin.H, 0, len(runs))
	for _, run := range runs {
		item := gin.H{
			"runId":     run.ID,
			"title":     run.Title,
			"status":    run.Status,
			"progress":  run.Progress,
			"createdAt": run.CreatedAt,
		}
		if run.CompletedAt != nil {
			item["completedAt"] = run.CompletedAt
		}
		resp = append(resp, item)
	}

	respond.OK(c, resp)
}

func (h *Handler) downloadDocument(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "run id is required", nil)
		return
	}
	c.Set("runId", runID)

	run, doc, err := h.Svc.Document(c.Request.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
		case errors.Is(err, ErrNoDocument):
			respond.Error(c, http.StatusConflict, "not_ready", "document is not generated yet", []map[string]string{
				{"field": "status", "issue": run.Status},
			})
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch document", nil)
		}
		return
	}

	filename := util.Slugify(run.Title) + ".md"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(doc))
}

func (h *Handler) streamEvents(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "run id is required", nil)
		return
	}
	c.Set("runId", runID)

	run, err := h.Svc.Get(c.Request.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to open stream", nil)
		}
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("progress", snapshotEvent(run))
	c.Writer.Flush()
	if isTerminal(run.Status) {
		return
	}

	ch, cancel, err := h.Svc.Subscribe(c.Request.Context(), runID)
	if err != nil {
		c.SSEvent("error", gin.H{"message": "subscription failed"})
		c.Writer.Flush()
		return
	}
	defer cancel()

	heartbeat := time.NewTicker(h.heartbeatInterval())
	defer heartbeat.Stop()
	deadline := time.NewTimer(h.maxStreamAgeInterval())
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// Bus closed on the terminal transition; send a final
				// snapshot so reconnect-free clients see the outcome.
				if run, err := h.Svc.Get(c.Request.Context(), runID); err == nil {
					c.SSEvent("progress", snapshotEvent(run))
				}
				c.Writer.Flush()
				return
			}
			c.SSEvent("progress", ev)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		case <-deadline.C:
			c.SSEvent("error", gin.H{"message": "stream expired, reconnect to continue"})
			c.Writer.Flush()
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (h *Handler) resetRun(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "run id is required", nil)
		return
	}
	c.Set("runId", runID)

	run, err := h.Svc.Reset(c.Request.Context(), runID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
		case errors.Is(err, ErrRunActive):
			respond.Error(c, http.StatusConflict, "run_active", "run is still in progress", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to reset run", nil)
		}
		return
	}

	respond.Accepted(c, gin.H{
		"runId":  run.ID,
		"status": run.Status,
	})
}

func (h *Handler) deleteRun(c *gin.Context) {
	runID := c.Param("id")
	if runID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "run id is required", nil)
		return
	}
	c.Set("runId", runID)

	if err := h.Svc.Delete(c.Request.Context(), runID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "run not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to delete run", nil)
		}
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) heartbeatInterval() time.Duration {
	if h.Heartbeat > 0 {
		return h.Heartbeat
	}
	return defaultStreamHeartbeat
}

func (h *Handler) maxStreamAgeInterval() time.Duration {
	if h.MaxStreamAge > 0 {
		return h.MaxStreamAge
	}
	return defaultStreamMaxAge
}

func runResponse(run Run) gin.H {
	resp := gin.H{
		"runId":     run.ID,
		"title":     run.Title,
		"status":    run.Status,
		"progress":  run.Progress,
		"message":   run.Message,
		"provider":  run.Provider,
		"model":     run.Model,
		"createdAt": run.CreatedAt,
		"updatedAt": run.UpdatedAt,
	}
	if run.Sections != nil {
		resp["sections"] = run.Sections
	}
	if run.Status == StatusCompleted && run.DocumentKey != "" {
		resp["documentUrl"] = "/api/v1/runs/" + run.ID + "/document"
	}
	if run.ErrorCode != "" {
		errBody := gin.H{
			"code":      run.ErrorCode,
			"retryable": run.ErrorRetryable,
		}
		if run.ErrorMessage != nil {
			errBody["message"] = *run.ErrorMessage
		}
		resp["error"] = errBody
	}
	if run.StartedAt != nil {
		resp["startedAt"] = run.StartedAt
	}
	if run.CompletedAt != nil {
		resp["completedAt"] = run.CompletedAt
	}
	return resp
}

func snapshotEvent(run Run) gin.H {
	return gin.H{
		"stage":     "snapshot",
		"status":    run.Status,
		"percent":   run.Progress,
		"message":   run.Message,
		"timestamp": time.Now().UTC(),
	}
}
