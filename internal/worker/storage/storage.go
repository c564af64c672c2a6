package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opticrew/fieldsync/internal/worker/domain"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// ClaimOperation attempts to claim an operation using optimistic locking
// (RECEIVED -> APPLYING). Returns the full operation on success.
func (s *Storage) ClaimOperation(ctx context.Context, operationID, workerID string) (*domain.Operation, error) {
	query := `
		UPDATE sync_operations
		SET status = $1,
		    attempts = attempts + 1
		WHERE operation_id = $2
		  AND status = $3
		RETURNING operation_id, idempotency_key, operation_type, entity_id,
		          payload, client_created_at, attempts
	`

	var op domain.Operation
	err := s.db.QueryRowContext(ctx, query, domain.OperationApplying, operationID, domain.OperationReceived).Scan(
		&op.OperationID,
		&op.IdempotencyKey,
		&op.OperationType,
		&op.EntityID,
		&op.Payload,
		&op.ClientCreatedAt,
		&op.Attempts,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyClaimMiss(ctx, operationID, workerID)
		}
		return nil, fmt.Errorf("failed to claim operation: %w", err)
	}

	op.Status = domain.OperationApplying

	s.logger.Info("Operation claimed",
		slog.String("operation_id", operationID),
		slog.String("worker_id", workerID),
		slog.String("operation_type", op.OperationType),
	)

	return &op, nil
}

// classifyClaimMiss distinguishes a redelivered already-applied operation
// from one another worker holds
func (s *Storage) classifyClaimMiss(ctx context.Context, operationID, workerID string) error {
	var status string
	err := s.db.GetContext(ctx, &status,
		`SELECT status FROM sync_operations WHERE operation_id = $1`, operationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOperationNotFound
		}
		return fmt.Errorf("failed to read operation status: %w", err)
	}

	if status == domain.OperationApplied || status == domain.OperationRejected {
		return domain.ErrOperationAlreadyApplied
	}

	s.logger.Warn("Failed to claim operation - already claimed",
		slog.String("operation_id", operationID),
		slog.String("worker_id", workerID),
		slog.String("status", status),
	)
	return domain.ErrOperationAlreadyClaimed
}

// MarkApplied finishes an operation successfully
func (s *Storage) MarkApplied(ctx context.Context, operationID string) error {
	query := `
		UPDATE sync_operations
		SET status = $1,
		    applied_at = NOW(),
		    error_message = NULL
		WHERE operation_id = $2
	`
	if _, err := s.db.ExecContext(ctx, query, domain.OperationApplied, operationID); err != nil {
		return fmt.Errorf("failed to mark operation applied: %w", err)
	}
	return nil
}

// MarkRejected freezes an operation with a definitive error
func (s *Storage) MarkRejected(ctx context.Context, operationID, errorMsg string) error {
	query := `
		UPDATE sync_operations
		SET status = $1,
		    error_message = $2
		WHERE operation_id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, domain.OperationRejected, errorMsg, operationID); err != nil {
		return fmt.Errorf("failed to mark operation rejected: %w", err)
	}
	return nil
}

// Release puts a claimed operation back to RECEIVED so a later delivery can
// retry it (out-of-order or transient apply failure)
func (s *Storage) Release(ctx context.Context, operationID string) error {
	query := `
		UPDATE sync_operations
		SET status = $1
		WHERE operation_id = $2
		  AND status = $3
	`
	if _, err := s.db.ExecContext(ctx, query, domain.OperationReceived, operationID, domain.OperationApplying); err != nil {
		return fmt.Errorf("failed to release operation: %w", err)
	}
	return nil
}

// HasEarlierPending reports whether an earlier same-job operation is still
// waiting to be applied. Same-entity operations must apply in client
// creation order.
func (s *Storage) HasEarlierPending(ctx context.Context, operationID, entityID string, clientCreatedAt time.Time) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM sync_operations
		WHERE entity_id = $1
		  AND operation_id <> $2
		  AND client_created_at < $3
		  AND status IN ($4, $5)
	`
	err := s.db.GetContext(ctx, &count, query, entityID, operationID, clientCreatedAt,
		domain.OperationReceived, domain.OperationApplying)
	if err != nil {
		return false, fmt.Errorf("failed to check operation ordering: %w", err)
	}
	return count > 0, nil
}

// GetJobStatus returns the job's current status
func (s *Storage) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return status, nil
}

// ApplyStatusTransition moves a job between statuses, guarded by the
// expected current status
func (s *Storage) ApplyStatusTransition(ctx context.Context, jobID, fromStatus, toStatus string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND status = $3
	`
	result, err := s.db.ExecContext(ctx, query, toStatus, jobID, fromStatus)
	if err != nil {
		return false, fmt.Errorf("failed to apply status transition: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// AttachProduction stores the submitted production record and moves the job
// to SUBMITTED
func (s *Storage) AttachProduction(ctx context.Context, jobID, productionJSON string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    production = $2,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`
	result, err := s.db.ExecContext(ctx, query, domain.JobStatusSubmitted, productionJSON, jobID, domain.JobStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("failed to attach production record: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// InsertAttestation records a safety checklist completion. The latest
// attestation per job wins; earlier ones are kept for the audit trail.
func (s *Storage) InsertAttestation(ctx context.Context, jobID string, completedAt, expiresAt time.Time, checkedItemsJSON string) error {
	query := `
		INSERT INTO safety_attestations (
			attestation_id, job_id, completed_at, expires_at, checked_items, received_at
		) VALUES (
			gen_random_uuid(), $1, $2, $3, $4, NOW()
		)
	`
	if _, err := s.db.ExecContext(ctx, query, jobID, completedAt, expiresAt, checkedItemsJSON); err != nil {
		return fmt.Errorf("failed to insert attestation: %w", err)
	}
	return nil
}

// InsertPhoto appends a photo manifest entry for a job
func (s *Storage) InsertPhoto(ctx context.Context, jobID, photoID, filename string, latitude, longitude float64, capturedAt time.Time) error {
	query := `
		INSERT INTO job_photos (
			photo_id, job_id, filename, latitude, longitude, captured_at, received_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, NOW()
		)
		ON CONFLICT (photo_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, photoID, jobID, filename, latitude, longitude, capturedAt); err != nil {
		return fmt.Errorf("failed to insert photo: %w", err)
	}
	return nil
}
