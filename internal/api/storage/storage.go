package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opticrew/fieldsync/internal/api/domain"
	"github.com/opticrew/fieldsync/internal/api/model"
	"github.com/opticrew/fieldsync/shared/postgresql"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, job_code, title, status,
			assigned_to_id, assigned_by_id, scheduled_date, estimated_footage,
			map_document_ref, supervisor_notes, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.JobCode,
		job.Title,
		job.Status,
		job.AssignedToID,
		job.AssignedByID,
		job.ScheduledDate,
		job.EstimatedFootage,
		job.MapDocumentRef,
		job.SupervisorNotes,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job model.Job
	query := `
		SELECT
			job_id, job_code, title, status,
			assigned_to_id, assigned_by_id, scheduled_date, estimated_footage,
			map_document_ref, supervisor_notes, production, review_notes,
			created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	AssigneeID string
	Status     string
	PageSize   int
	Cursor     *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `
        SELECT
            job_id, job_code, title, status,
            assigned_to_id, assigned_by_id, scheduled_date, estimated_footage,
            map_document_ref, supervisor_notes, production, review_notes,
            created_at, updated_at
        FROM jobs
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.AssigneeID != "" {
		query += fmt.Sprintf(" AND assigned_to_id = $%d", argIdx)
		args = append(args, filter.AssigneeID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// UpdateJobStatus applies a status change guarded by the expected current
// status. Returns ErrInvalidTransition if another writer got there first.
func (s *Storage) UpdateJobStatus(ctx context.Context, jobID, fromStatus, toStatus, reviewNotes string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    review_notes = COALESCE(NULLIF($2, ''), review_notes),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, toStatus, reviewNotes, jobID, fromStatus)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrInvalidTransition
	}

	return nil
}

// InsertOperation records an ingested sync operation. The idempotency key
// is unique: a duplicate insert is a no-op and the existing row is
// returned with inserted=false, so a resent operation acknowledges without
// double-applying.
func (s *Storage) InsertOperation(ctx context.Context, op *model.SyncOperation) (bool, *model.SyncOperation, error) {
	query := `
		INSERT INTO sync_operations (
			operation_id, idempotency_key, operation_type, entity_id,
			payload, client_created_at, status, attempts, received_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9
		)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	result, err := s.db.ExecContext(
		ctx,
		query,
		op.OperationID,
		op.IdempotencyKey,
		op.OperationType,
		op.EntityID,
		op.Payload,
		op.ClientCreatedAt,
		op.Status,
		op.Attempts,
		op.ReceivedAt,
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert sync operation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		existing, err := s.GetOperationByKey(ctx, op.IdempotencyKey)
		if err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}

	return true, op, nil
}

func (s *Storage) GetOperationByKey(ctx context.Context, idempotencyKey string) (*model.SyncOperation, error) {
	var op model.SyncOperation
	query := `
		SELECT
			operation_id, idempotency_key, operation_type, entity_id,
			payload, client_created_at, status, attempts, error_message,
			received_at, applied_at
		FROM sync_operations
		WHERE idempotency_key = $1
	`

	err := s.db.GetContext(ctx, &op, query, idempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOperationNotFound
		}
		return nil, fmt.Errorf("failed to get sync operation: %w", err)
	}

	return &op, nil
}
