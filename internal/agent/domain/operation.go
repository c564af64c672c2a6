package domain

import (
	"fmt"
	"time"
)

// Operation type constants
const (
	OpStatusTransition     = "status-transition"
	OpChecklistCompletion  = "checklist-completion"
	OpProductionSubmission = "production-submission"
	OpPhotoCapture         = "photo-capture"
)

// Sync state constants for queued operations
const (
	SyncStatePending  = "PENDING"
	SyncStateInFlight = "IN_FLIGHT"
	SyncStateSynced   = "SYNCED"
	SyncStateFailed   = "FAILED"
)

// QueuedOperation is a durably recorded intent to mutate backend state.
// It is created together with the optimistic local update, before any
// network attempt, and replayed until the backend acknowledges or
// definitively rejects it.
type QueuedOperation struct {
	OperationType string    `json:"operation_type"`
	EntityID      string    `json:"entity_id"`
	Payload       string    `json:"payload"` // JSON string
	CreatedAt     time.Time `json:"created_at"`
	SyncState     string    `json:"sync_state"`
	AttemptCount  int       `json:"attempt_count"`
	LastError     string    `json:"last_error,omitempty"`
}

// IdentityKey returns the operation's identity, used as the idempotency
// token on every send. A retried send that already succeeded server-side
// dedupes on this key instead of double-applying.
func (op *QueuedOperation) IdentityKey() string {
	return fmt.Sprintf("%s|%s|%d", op.OperationType, op.EntityID, op.CreatedAt.UnixNano())
}
