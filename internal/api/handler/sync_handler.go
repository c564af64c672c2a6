package handler

import (
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
)

// operationMessage is what gets published to RabbitMQ for the worker
type operationMessage struct {
	OperationID string `json:"operation_id"`
}

// PushOperation handles POST /api/v1/sync/operations
// Ingests one drained client mutation. Idempotent on the idempotency key:
// a resend of an already-recorded operation returns that operation's
// current status instead of recording it twice.
func (h *JobHandler) PushOperation(c *gin.Context) {
	var req dto.PushOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid operation body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if !domain.SupportedOperation(req.OperationType) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": fmt.Sprintf("unsupported operation type: %s", req.OperationType),
		})
		return
	}

	job, err := h.storage.GetJobByID(c.Request.Context(), req.EntityID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			// Definitive rejection: the client freezes the operation as
			// failed instead of retrying
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to look up job for operation", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to ingest operation",
		})
		return
	}

	if req.OperationType == domain.OpStatusTransition {
		var transition struct {
			FromStatus string `json:"from_status"`
			ToStatus   string `json:"to_status"`
		}
		if err := json.Unmarshal([]byte(req.Payload), &transition); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "Malformed transition payload",
			})
			return
		}
		if !domain.CanTransition(transition.FromStatus, transition.ToStatus) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": fmt.Sprintf("Invalid status transition: %s -> %s", transition.FromStatus, transition.ToStatus),
			})
			return
		}
	}

	op := &model.SyncOperation{
		OperationID:     uuid.New().String(),
		IdempotencyKey:  req.IdempotencyKey,
		OperationType:   req.OperationType,
		EntityID:        req.EntityID,
		Payload:         req.Payload,
		ClientCreatedAt: req.CreatedAt,
		Status:          domain.OperationReceived,
		ReceivedAt:      time.Now().UTC(),
	}

	inserted, stored, err := h.storage.InsertOperation(c.Request.Context(), op)
	if err != nil {
		h.logger.Error("Failed to record operation", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to ingest operation",
		})
		return
	}

	if !inserted {
		h.logger.Info("Duplicate operation acknowledged",
			slog.String("idempotency_key", req.IdempotencyKey),
			slog.String("operation_id", stored.OperationID),
			slog.String("status", stored.Status),
		)
		c.JSON(http.StatusOK, dto.PushOperationResponse{
			OperationID:    stored.OperationID,
			IdempotencyKey: stored.IdempotencyKey,
			Status:         stored.Status,
		})
		return
	}

	body, err := json.Marshal(operationMessage{OperationID: op.OperationID})
	if err != nil {
		h.logger.Error("Failed to marshal operation message", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to ingest operation",
		})
		return
	}

	if err := h.rabbitClient.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		// The operation row is durable; it will be republished by the
		// receive sweep rather than lost.
		// TODO: add the periodic sweep that republishes RECEIVED
		// operations older than a minute.
		h.logger.Error("Failed to publish operation message",
			slog.String("operation_id", op.OperationID),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("Operation ingested",
		slog.String("operation_id", op.OperationID),
		slog.String("operation_type", op.OperationType),
		slog.String("job_id", job.JobID),
		slog.String("idempotency_key", op.IdempotencyKey),
	)

	c.JSON(http.StatusAccepted, dto.PushOperationResponse{
		OperationID:    op.OperationID,
		IdempotencyKey: op.IdempotencyKey,
		Status:         op.Status,
	})
}
