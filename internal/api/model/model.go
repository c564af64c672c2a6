package model

import (
	"database/sql"
	"time"
)

// Job is a row in the jobs table, the system of record for field work
type Job struct {
	JobID            string         `db:"job_id"`
	JobCode          string         `db:"job_code"`
	Title            string         `db:"title"`
	Status           string         `db:"status"`
	AssignedToID     string         `db:"assigned_to_id"`
	AssignedByID     string         `db:"assigned_by_id"`
	ScheduledDate    sql.NullString `db:"scheduled_date"`
	EstimatedFootage sql.NullInt64  `db:"estimated_footage"`
	MapDocumentRef   sql.NullString `db:"map_document_ref"`
	SupervisorNotes  sql.NullString `db:"supervisor_notes"`
	Production       sql.NullString `db:"production"` // JSON, set once submitted
	ReviewNotes      sql.NullString `db:"review_notes"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// SyncOperation is a row in the sync_operations table: one drained client
// mutation, deduplicated by idempotency key
type SyncOperation struct {
	OperationID     string         `db:"operation_id"`
	IdempotencyKey  string         `db:"idempotency_key"`
	OperationType   string         `db:"operation_type"`
	EntityID        string         `db:"entity_id"`
	Payload         string         `db:"payload"` // JSON string
	ClientCreatedAt time.Time      `db:"client_created_at"`
	Status          string         `db:"status"`
	Attempts        int            `db:"attempts"`
	ErrorMessage    sql.NullString `db:"error_message"`
	ReceivedAt      time.Time      `db:"received_at"`
	AppliedAt       sql.NullTime   `db:"applied_at"`
}
