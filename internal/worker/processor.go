package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opticrew/fieldsync/internal/worker/domain"
)

// processOperation claims an operation and applies it to the job record.
// Returning nil tells the caller to ACK; any error is classified by
// shouldRequeue.
func (w *Worker) processOperation(ctx context.Context, msg *domain.OperationMessage) error {
	op, err := w.storage.ClaimOperation(ctx, msg.OperationID, w.workerID)
	if err != nil {
		// Already applied or rejected by another applier: the outcome is
		// recorded, this delivery is a duplicate. ACK it.
		if errors.Is(err, domain.ErrOperationAlreadyApplied) {
			w.logger.Info("Operation already settled, acking duplicate delivery",
				slog.String("operation_id", msg.OperationID),
			)
			return nil
		}
		if errors.Is(err, domain.ErrOperationAlreadyClaimed) || errors.Is(err, domain.ErrOperationNotFound) {
			return err
		}
		return domain.NewTransientError(fmt.Errorf("claim operation: %w", err))
	}

	// Per-job ordering: if an earlier operation against the same job is
	// still unsettled, release the claim and requeue this delivery.
	earlier, err := w.storage.HasEarlierPending(ctx, op.OperationID, op.EntityID, op.ClientCreatedAt)
	if err != nil {
		w.release(ctx, op.OperationID)
		return domain.NewTransientError(fmt.Errorf("check earlier pending: %w", err))
	}
	if earlier {
		w.release(ctx, op.OperationID)
		return fmt.Errorf("operation %s for job %s: %w", op.OperationID, op.EntityID, domain.ErrOutOfOrder)
	}

	applyCtx, cancel := context.WithTimeout(ctx, w.applyTimeout)
	defer cancel()

	switch op.OperationType {
	case domain.OpStatusTransition:
		err = w.applyStatusTransition(applyCtx, op)
	case domain.OpProductionSubmission:
		err = w.applyProductionSubmission(applyCtx, op)
	case domain.OpChecklistCompletion:
		err = w.applyChecklistCompletion(applyCtx, op)
	case domain.OpPhotoCapture:
		err = w.applyPhotoCapture(applyCtx, op)
	default:
		return w.reject(ctx, op.OperationID, fmt.Sprintf("unsupported operation type %q", op.OperationType))
	}

	if err != nil {
		var transientErr *domain.TransientError
		if errors.As(err, &transientErr) {
			w.release(ctx, op.OperationID)
			return err
		}
		return w.reject(ctx, op.OperationID, err.Error())
	}

	if err := w.storage.MarkApplied(ctx, op.OperationID); err != nil {
		return domain.NewTransientError(fmt.Errorf("mark applied: %w", err))
	}

	w.logger.Info("Operation applied",
		slog.String("operation_id", op.OperationID),
		slog.String("operation_type", op.OperationType),
		slog.String("entity_id", op.EntityID),
	)
	return nil
}

type statusTransitionPayload struct {
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Notes      string `json:"notes,omitempty"`
}

// applyStatusTransition applies one workflow step. Idempotence is per
// operation, not per rank: a job already at this operation's target status
// means the same transition landed through another path and the operation
// is a no-op. Ordering of the queue guarantees the job is otherwise at the
// operation's from-status; anything else is stale.
func (w *Worker) applyStatusTransition(ctx context.Context, op *domain.Operation) error {
	var payload statusTransitionPayload
	if err := json.Unmarshal([]byte(op.Payload), &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if !domain.CanTransition(payload.FromStatus, payload.ToStatus) {
		return fmt.Errorf("%w: illegal transition %s -> %s",
			domain.ErrInvalidPayload, payload.FromStatus, payload.ToStatus)
	}

	current, err := w.storage.GetJobStatus(ctx, op.EntityID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return domain.NewTransientError(fmt.Errorf("get job status: %w", err))
	}

	if current == payload.ToStatus {
		w.logger.Info("Transition already satisfied",
			slog.String("job_id", op.EntityID),
			slog.String("current_status", current),
			slog.String("target_status", payload.ToStatus),
		)
		return nil
	}

	if current != payload.FromStatus {
		return fmt.Errorf("%w: job %s is %s, transition expected %s",
			domain.ErrStaleTransition, op.EntityID, current, payload.FromStatus)
	}

	applied, err := w.storage.ApplyStatusTransition(ctx, op.EntityID, payload.FromStatus, payload.ToStatus)
	if err != nil {
		return domain.NewTransientError(fmt.Errorf("apply transition: %w", err))
	}
	if !applied {
		// Lost a race with a concurrent change. Requeue and re-evaluate
		// against the new current status.
		return domain.NewTransientError(fmt.Errorf("job %s changed concurrently", op.EntityID))
	}
	return nil
}

type productionSubmissionPayload struct {
	TotalFootage  int       `json:"total_footage"`
	AnchorCount   int       `json:"anchor_count"`
	CoilCount     int       `json:"coil_count"`
	SnowshoeCount int       `json:"snowshoe_count"`
	CrewNotes     string    `json:"crew_notes,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

func (w *Worker) applyProductionSubmission(ctx context.Context, op *domain.Operation) error {
	var payload productionSubmissionPayload
	if err := json.Unmarshal([]byte(op.Payload), &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if payload.TotalFootage < 0 || payload.AnchorCount < 0 || payload.CoilCount < 0 || payload.SnowshoeCount < 0 {
		return fmt.Errorf("%w: negative production figures", domain.ErrInvalidPayload)
	}

	current, err := w.storage.GetJobStatus(ctx, op.EntityID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return domain.NewTransientError(fmt.Errorf("get job status: %w", err))
	}

	// SUBMITTED and the review states past it mean this cycle's production
	// already attached. NEEDS_REVISION does not: the crew resubmits, and
	// the new submission must apply.
	switch current {
	case domain.JobStatusSubmitted, domain.JobStatusApproved, domain.JobStatusCompleted:
		w.logger.Info("Production already attached",
			slog.String("job_id", op.EntityID),
			slog.String("current_status", current),
		)
		return nil
	}

	applied, err := w.storage.AttachProduction(ctx, op.EntityID, op.Payload)
	if err != nil {
		return domain.NewTransientError(fmt.Errorf("attach production: %w", err))
	}
	if !applied {
		return fmt.Errorf("%w: job %s is %s, production requires %s",
			domain.ErrStaleTransition, op.EntityID, current, domain.JobStatusInProgress)
	}
	return nil
}

type checklistCompletionPayload struct {
	JobID          string    `json:"job_id"`
	CompletedAt    time.Time `json:"completed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	CheckedItemIDs []string  `json:"checked_item_ids"`
}

func (w *Worker) applyChecklistCompletion(ctx context.Context, op *domain.Operation) error {
	var payload checklistCompletionPayload
	if err := json.Unmarshal([]byte(op.Payload), &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if len(payload.CheckedItemIDs) == 0 {
		return fmt.Errorf("%w: empty checked item list", domain.ErrInvalidPayload)
	}
	if payload.CompletedAt.IsZero() || payload.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: attestation timestamps are required", domain.ErrInvalidPayload)
	}

	checkedItems, err := json.Marshal(payload.CheckedItemIDs)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if err := w.storage.InsertAttestation(ctx, op.EntityID, payload.CompletedAt, payload.ExpiresAt, string(checkedItems)); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return domain.NewTransientError(fmt.Errorf("insert attestation: %w", err))
	}
	return nil
}

type photoCapturePayload struct {
	PhotoID    string    `json:"photo_id"`
	Filename   string    `json:"filename"`
	Latitude   float64   `json:"latitude,omitempty"`
	Longitude  float64   `json:"longitude,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

func (w *Worker) applyPhotoCapture(ctx context.Context, op *domain.Operation) error {
	var payload photoCapturePayload
	if err := json.Unmarshal([]byte(op.Payload), &payload); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if payload.PhotoID == "" || payload.Filename == "" {
		return fmt.Errorf("%w: photo_id and filename are required", domain.ErrInvalidPayload)
	}

	err := w.storage.InsertPhoto(ctx, op.EntityID, payload.PhotoID, payload.Filename,
		payload.Latitude, payload.Longitude, payload.CapturedAt)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return err
		}
		return domain.NewTransientError(fmt.Errorf("insert photo: %w", err))
	}
	return nil
}

// release puts a claimed operation back to RECEIVED so a later delivery
// can pick it up
func (w *Worker) release(ctx context.Context, operationID string) {
	if err := w.storage.Release(ctx, operationID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		w.logger.Error("Failed to release operation claim",
			slog.String("operation_id", operationID),
			slog.String("error", err.Error()),
		)
	}
}

// reject marks the operation REJECTED with a reason. The rejection itself
// is the settled outcome, so the delivery is ACKed (nil return) unless the
// status write fails.
func (w *Worker) reject(ctx context.Context, operationID, reason string) error {
	w.logger.Warn("Rejecting operation",
		slog.String("operation_id", operationID),
		slog.String("reason", reason),
	)
	if err := w.storage.MarkRejected(ctx, operationID, reason); err != nil {
		return domain.NewTransientError(fmt.Errorf("mark rejected: %w", err))
	}
	return nil
}
