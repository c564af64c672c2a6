package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opticrew/fieldsync/internal/api/domain"
	"github.com/opticrew/fieldsync/internal/api/dto"
	"github.com/opticrew/fieldsync/internal/api/model"
	"github.com/opticrew/fieldsync/internal/api/storage"
)

// CreateJob handles POST /api/v1/jobs
// Creates a new field-work assignment in ASSIGNED status
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	now := time.Now().UTC()
	job := model.Job{
		JobID:            uuid.New().String(),
		JobCode:          fmt.Sprintf("JOB-%d-%s", now.Year(), uuid.New().String()[:8]),
		Title:            req.Title,
		Status:           domain.JobStatusAssigned,
		AssignedToID:     req.AssignedToID,
		AssignedByID:     req.AssignedByID,
		ScheduledDate:    nullString(req.ScheduledDate),
		EstimatedFootage: nullInt(req.EstimatedFootage),
		MapDocumentRef:   nullString(req.MapDocumentRef),
		SupervisorNotes:  nullString(req.SupervisorNotes),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.storage.CreateJob(c.Request.Context(), &job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("job_code", job.JobCode),
		slog.String("assigned_to", job.AssignedToID),
	)

	c.JSON(http.StatusCreated, jobToDTO(&job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, jobToDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs filtered by assignee and status with cursor pagination. The
// crew agent's notification poller calls this every cycle.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		AssigneeID: req.AssigneeID,
		Status:     req.Status,
		PageSize:   req.PageSize,
		Cursor:     cursor,
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = jobToDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		cursorObj := storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		}
		nextCursor, err = EncodeJobCursor(&cursorObj)
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// UpdateStatus handles PATCH /api/v1/jobs/:job_id/status
// Review outcomes (APPROVED, NEEDS_REVISION, COMPLETED) and cancellations
// come through here; crew transitions arrive via the sync ingest instead.
func (h *JobHandler) UpdateStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !domain.ValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unknown status: %s", req.Status),
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	if !domain.CanTransition(job.Status, req.Status) {
		c.JSON(http.StatusConflict, gin.H{
			"error": fmt.Sprintf("Invalid status transition: %s -> %s", job.Status, req.Status),
		})
		return
	}

	if err := h.storage.UpdateJobStatus(c.Request.Context(), jobID, job.Status, req.Status, req.Notes); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Another writer changed the status between read and update
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job status changed concurrently, retry",
			})
			return
		}
		h.logger.Error("Failed to update job status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update job status",
		})
		return
	}

	h.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("old_status", job.Status),
		slog.String("new_status", req.Status),
	)

	job.Status = req.Status
	c.JSON(http.StatusOK, jobToDTO(job))
}

func jobToDTO(job *model.Job) dto.JobDTO {
	d := dto.JobDTO{
		ID:               job.JobID,
		JobCode:          job.JobCode,
		Title:            job.Title,
		Status:           job.Status,
		AssignedToUserID: job.AssignedToID,
		AssignedByUserID: job.AssignedByID,
		ScheduledDate:    job.ScheduledDate.String,
		EstimatedFootage: int(job.EstimatedFootage.Int64),
		MapDocumentRef:   job.MapDocumentRef.String,
		SupervisorNotes:  job.SupervisorNotes.String,
		ReviewNotes:      job.ReviewNotes.String,
		UpdatedAt:        job.UpdatedAt,
	}

	if job.Production.Valid && job.Production.String != "" {
		var production map[string]interface{}
		if err := json.Unmarshal([]byte(job.Production.String), &production); err == nil {
			d.Production = production
		}
	}

	return d
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(i), Valid: i != 0}
}
