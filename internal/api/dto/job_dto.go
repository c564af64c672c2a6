package dto

import "time"

// CreateJobRequest creates a new assignment
type CreateJobRequest struct {
	Title            string `json:"title" binding:"required"`
	AssignedToID     string `json:"assigned_to_user_id" binding:"required"`
	AssignedByID     string `json:"assigned_by_user_id" binding:"required"`
	ScheduledDate    string `json:"scheduled_date"`
	EstimatedFootage int    `json:"estimated_footage" binding:"min=0"`
	MapDocumentRef   string `json:"map_document_ref"`
	SupervisorNotes  string `json:"supervisor_notes"`
}

// UpdateStatusRequest pushes a review outcome or cancellation
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// ListJobsRequest filters the job listing
type ListJobsRequest struct {
	AssigneeID string `form:"assignee_id"`
	Status     string `form:"status"`
	PageSize   int    `form:"page_size"`
	Cursor     string `form:"cursor"`
}

// ListJobsResponse is a page of jobs
type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

// JobDTO is the wire shape of a job. Field names line up with the agent's
// cached job model.
type JobDTO struct {
	ID               string      `json:"id"`
	JobCode          string      `json:"job_code"`
	Title            string      `json:"title"`
	Status           string      `json:"status"`
	AssignedToUserID string      `json:"assigned_to_user_id"`
	AssignedByUserID string      `json:"assigned_by_user_id"`
	ScheduledDate    string      `json:"scheduled_date,omitempty"`
	EstimatedFootage int         `json:"estimated_footage,omitempty"`
	MapDocumentRef   string      `json:"map_document_ref,omitempty"`
	SupervisorNotes  string      `json:"supervisor_notes,omitempty"`
	Production       interface{} `json:"production,omitempty"`
	ReviewNotes      string      `json:"review_notes,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// PushOperationRequest is one drained client mutation
type PushOperationRequest struct {
	IdempotencyKey string    `json:"idempotency_key" binding:"required"`
	OperationType  string    `json:"operation_type" binding:"required"`
	EntityID       string    `json:"entity_id" binding:"required"`
	Payload        string    `json:"payload"`
	CreatedAt      time.Time `json:"created_at" binding:"required"`
}

// PushOperationResponse acknowledges an ingested mutation
type PushOperationResponse struct {
	OperationID    string `json:"operation_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
}
