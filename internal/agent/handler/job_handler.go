package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opticrew/fieldsync/internal/agent/domain"
	"github.com/opticrew/fieldsync/internal/agent/lifecycle"
)

// StartWork handles POST /api/v1/jobs/:job_id/start
// Moves an ASSIGNED job to IN_PROGRESS, or reports that the safety
// checklist flow must run first.
func (h *AgentHandler) StartWork(c *gin.Context) {
	jobID := c.Param("job_id")

	result, err := h.session.Machine.StartWork(c.Request.Context(), jobID)
	if err != nil {
		h.renderJobError(c, jobID, err)
		return
	}

	if result == lifecycle.StartNeedsChecklist {
		c.JSON(http.StatusOK, gin.H{
			"result": "needs_checklist",
			"job_id": jobID,
		})
		return
	}

	h.session.Drainer.Trigger()
	c.JSON(http.StatusOK, gin.H{
		"result": "ok",
		"job_id": jobID,
		"status": domain.JobStatusInProgress,
	})
}

// ResumeWork handles POST /api/v1/jobs/:job_id/resume
func (h *AgentHandler) ResumeWork(c *gin.Context) {
	jobID := c.Param("job_id")

	result, err := h.session.Machine.ResumeWork(c.Request.Context(), jobID)
	if err != nil {
		h.renderJobError(c, jobID, err)
		return
	}

	if result == lifecycle.StartNeedsChecklist {
		c.JSON(http.StatusOK, gin.H{
			"result": "needs_checklist",
			"job_id": jobID,
		})
		return
	}

	h.session.Drainer.Trigger()
	c.JSON(http.StatusOK, gin.H{
		"result": "ok",
		"job_id": jobID,
		"status": domain.JobStatusInProgress,
	})
}

// SubmitProductionRequest is the body for production submission
type SubmitProductionRequest struct {
	TotalFootage  int    `json:"total_footage" binding:"min=0"`
	AnchorCount   int    `json:"anchor_count" binding:"min=0"`
	CoilCount     int    `json:"coil_count" binding:"min=0"`
	SnowshoeCount int    `json:"snowshoe_count" binding:"min=0"`
	CrewNotes     string `json:"crew_notes"`
}

// SubmitProduction handles POST /api/v1/jobs/:job_id/production
func (h *AgentHandler) SubmitProduction(c *gin.Context) {
	jobID := c.Param("job_id")

	var req SubmitProductionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid production body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	record := &domain.ProductionRecord{
		TotalFootage:  req.TotalFootage,
		AnchorCount:   req.AnchorCount,
		CoilCount:     req.CoilCount,
		SnowshoeCount: req.SnowshoeCount,
		CrewNotes:     req.CrewNotes,
	}

	if err := h.session.Machine.SubmitProduction(c.Request.Context(), jobID, record); err != nil {
		h.renderJobError(c, jobID, err)
		return
	}

	h.session.Drainer.Trigger()
	c.JSON(http.StatusOK, gin.H{
		"result": "ok",
		"job_id": jobID,
		"status": domain.JobStatusSubmitted,
	})
}

// CapturePhotoRequest is the body for photo manifest entries
type CapturePhotoRequest struct {
	PhotoID   string  `json:"photo_id"`
	Filename  string  `json:"filename" binding:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CapturePhoto handles POST /api/v1/jobs/:job_id/photos
func (h *AgentHandler) CapturePhoto(c *gin.Context) {
	jobID := c.Param("job_id")

	var req CapturePhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	photoID := req.PhotoID
	if photoID == "" {
		photoID = uuid.New().String()
	}

	photo := &domain.PhotoCapture{
		PhotoID:   photoID,
		Filename:  req.Filename,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}

	if err := h.session.Machine.RecordPhoto(c.Request.Context(), jobID, photo); err != nil {
		h.renderJobError(c, jobID, err)
		return
	}

	h.session.Drainer.Trigger()
	c.JSON(http.StatusOK, gin.H{
		"result":   "ok",
		"photo_id": photoID,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id (cached copy, fetched on miss)
func (h *AgentHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.session.Machine.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.renderJobError(c, jobID, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *AgentHandler) renderJobError(c *gin.Context, jobID string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Job not found",
			"job_id": jobID,
		})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":  "invalid_state",
			"detail": err.Error(),
			"job_id": jobID,
		})
	case domain.IsTransient(err):
		// Reads can hit an unreachable backend; mutations never do (they
		// queue locally)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "backend_unreachable",
			"job_id": jobID,
		})
	default:
		h.logger.Error("Job operation failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal error",
		})
	}
}
