package domain

import "time"

// Job is the device-side cached copy of a job owned by the backend of
// record. It is mutated only through the lifecycle state machine.
type Job struct {
	ID               string            `json:"id"`
	JobCode          string            `json:"job_code"`
	Title            string            `json:"title"`
	Status           string            `json:"status"`
	AssignedToUserID string            `json:"assigned_to_user_id"`
	AssignedByUserID string            `json:"assigned_by_user_id"`
	ScheduledDate    string            `json:"scheduled_date,omitempty"`
	EstimatedFootage int               `json:"estimated_footage,omitempty"`
	MapDocumentRef   string            `json:"map_document_ref,omitempty"`
	SupervisorNotes  string            `json:"supervisor_notes,omitempty"`
	Production       *ProductionRecord `json:"production,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ProductionRecord holds the counts a crew member reports when submitting
// a job. Present on a job only once submitted.
type ProductionRecord struct {
	TotalFootage  int       `json:"total_footage"`
	AnchorCount   int       `json:"anchor_count"`
	CoilCount     int       `json:"coil_count"`
	SnowshoeCount int       `json:"snowshoe_count"`
	CrewNotes     string    `json:"crew_notes,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

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

// allowedTransitions is the job workflow. The review loop cycles
// (SUBMITTED -> NEEDS_REVISION -> IN_PROGRESS -> SUBMITTED), so statuses
// have no total order; reconciliation asks reachability instead.
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

// StatusReachable reports whether the workflow can take a job from one
// status to another through any sequence of transitions. A status never
// reaches itself.
func StatusReachable(from, to string) bool {
	if from == to {
		return false
	}
	seen := map[string]bool{from: true}
	frontier := []string{from}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, s := range allowedTransitions[next] {
			if s == to {
				return true
			}
			if !seen[s] {
				seen[s] = true
				frontier = append(frontier, s)
			}
		}
	}
	return false
}

// IsTerminalStatus reports whether a status has no outgoing transitions.
func IsTerminalStatus(status string) bool {
	return ValidStatus(status) && len(allowedTransitions[status]) == 0
}
