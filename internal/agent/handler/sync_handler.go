package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opticrew/fieldsync/internal/agent/domain"
)

// CompleteChecklistRequest is the body for checklist completion
type CompleteChecklistRequest struct {
	CheckedItemIDs []string `json:"checked_item_ids" binding:"required"`
}

// CompleteChecklist handles POST /api/v1/jobs/:job_id/checklist
func (h *AgentHandler) CompleteChecklist(c *gin.Context) {
	jobID := c.Param("job_id")

	var req CompleteChecklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	rec, err := h.session.Gate.Complete(c.Request.Context(), jobID, req.CheckedItemIDs)
	if err != nil {
		if errors.Is(err, domain.ErrMissingCritical) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "missing_critical",
				"detail": err.Error(),
			})
			return
		}
		h.logger.Error("Checklist completion failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal error",
		})
		return
	}

	h.session.Drainer.Trigger()
	c.JSON(http.StatusOK, gin.H{
		"result":     "ok",
		"job_id":     jobID,
		"expires_at": rec.ExpiresAt,
	})
}

// ChecklistItems handles GET /api/v1/checklist/items
func (h *AgentHandler) ChecklistItems(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"items": h.session.Gate.Items(),
	})
}

// UnseenCount handles GET /api/v1/notifications/unseen-count
func (h *AgentHandler) UnseenCount(c *gin.Context) {
	count, err := h.session.Notifier.UnseenCount(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to compute unseen count", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal error",
		})
		return
	}

	display, err := h.session.Notifier.UnseenDisplay(c.Request.Context())
	if err != nil {
		display = ""
	}

	c.JSON(http.StatusOK, gin.H{
		"unseen_count": count,
		"display":      display,
	})
}

// MarkSeenRequest is the body for acknowledging notifications
type MarkSeenRequest struct {
	JobIDs []string `json:"job_ids" binding:"required"`
}

// MarkSeen handles POST /api/v1/notifications/mark-seen
func (h *AgentHandler) MarkSeen(c *gin.Context) {
	var req MarkSeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if err := h.session.Notifier.MarkAllSeen(c.Request.Context(), req.JobIDs); err != nil {
		h.logger.Error("Failed to mark notifications seen", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal error",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result": "ok",
	})
}

// DrainQueue handles POST /api/v1/sync/drain. The drain itself runs in the
// background loop; this just nudges it.
func (h *AgentHandler) DrainQueue(c *gin.Context) {
	h.session.Drainer.Trigger()
	c.JSON(http.StatusAccepted, gin.H{
		"result": "drain_scheduled",
	})
}

// ListOperations handles GET /api/v1/sync/operations. Surfaces pending and
// failed operations so the UI can show sync health.
func (h *AgentHandler) ListOperations(c *gin.Context) {
	ops, err := h.session.Queue.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list queued operations", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal error",
		})
		return
	}

	pending, failed := 0, 0
	for _, op := range ops {
		switch op.SyncState {
		case domain.SyncStatePending, domain.SyncStateInFlight:
			pending++
		case domain.SyncStateFailed:
			failed++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"operations": ops,
		"pending":    pending,
		"failed":     failed,
	})
}
