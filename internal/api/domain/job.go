package domain

import "errors"

// Job status constants
const (
	JobStatusAssigned      = "ASSIGNED"
	JobStatusInProgress    = "IN_PROGRESS"
	JobStatusSubmitted     = "SUBMITTED"
	JobStatusApproved      = "APPROVED"
	JobStatusNeedsRevision = "NEEDS_REVISION"
	JobStatusCompleted     = "COMPLETED"
	JobStatusCancelled     = "CANCELLED"
)

// Operation type constants accepted by the sync ingest endpoint
const (
	OpStatusTransition     = "status-transition"
	OpChecklistCompletion  = "checklist-completion"
	OpProductionSubmission = "production-submission"
	OpPhotoCapture         = "photo-capture"
)

// Sync operation processing status constants
const (
	OperationReceived = "RECEIVED"
	OperationApplying = "APPLYING"
	OperationApplied  = "APPLIED"
	OperationRejected = "REJECTED"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned for a status change that is not in
	// the workflow table
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrOperationNotFound is returned when a sync operation cannot be found
	ErrOperationNotFound = errors.New("sync operation not found")

	// ErrUnsupportedOperation is returned for an unknown operation type
	ErrUnsupportedOperation = errors.New("unsupported operation type")
)

// allowedTransitions is the job workflow. Crew transitions come in through
// the sync ingest; review outcomes come through the status endpoint.
var allowedTransitions = map[string][]string{
	JobStatusAssigned:      {JobStatusInProgress, JobStatusCancelled},
	JobStatusInProgress:    {JobStatusSubmitted, JobStatusCancelled},
	JobStatusSubmitted:     {JobStatusApproved, JobStatusNeedsRevision, JobStatusCancelled},
	JobStatusNeedsRevision: {JobStatusInProgress, JobStatusCancelled},
	JobStatusApproved:      {JobStatusCompleted, JobStatusCancelled},
	JobStatusCompleted:     {},
	JobStatusCancelled:     {},
}

// CanTransition reports whether from -> to is a legal workflow step
func CanTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known job status
func ValidStatus(s string) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// SupportedOperation reports whether t is an ingestible operation type
func SupportedOperation(t string) bool {
	switch t {
	case OpStatusTransition, OpChecklistCompletion, OpProductionSubmission, OpPhotoCapture:
		return true
	}
	return false
}
