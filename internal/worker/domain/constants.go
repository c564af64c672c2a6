package domain

// Sync operation processing status constants
const (
	OperationReceived = "RECEIVED"
	OperationApplying = "APPLYING"
	OperationApplied  = "APPLIED"
	OperationRejected = "REJECTED"
)

// Operation type constants
const (
	OpStatusTransition     = "status-transition"
	OpChecklistCompletion  = "checklist-completion"
	OpProductionSubmission = "production-submission"
	OpPhotoCapture         = "photo-capture"
)

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

// allowedTransitions is the job workflow the applier enforces. The review
// loop cycles (SUBMITTED -> NEEDS_REVISION -> IN_PROGRESS -> SUBMITTED), so
// a transition is validated against the table, never against a progress
// ordering.
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
