package domain

import "errors"

var (
	// ErrOperationNotFound is returned when an operation cannot be found in
	// the database
	ErrOperationNotFound = errors.New("sync operation not found")

	// ErrOperationAlreadyClaimed is returned when attempting to claim an
	// operation another worker is applying
	ErrOperationAlreadyClaimed = errors.New("operation already claimed or not in RECEIVED status")

	// ErrOperationAlreadyApplied is returned for a redelivered operation
	// that was already applied; the message is acknowledged without
	// reapplying
	ErrOperationAlreadyApplied = errors.New("operation already applied")

	// ErrJobNotFound is returned when the operation's job no longer exists
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidPayload is returned when an operation payload JSON is
	// malformed
	ErrInvalidPayload = errors.New("invalid operation payload")

	// ErrStaleTransition is returned when a transition's target is behind
	// the job's current status and was never applied by us
	ErrStaleTransition = errors.New("stale status transition")

	// ErrOutOfOrder is returned when an operation arrives ahead of an
	// earlier same-job operation; it is requeued and retried later
	ErrOutOfOrder = errors.New("operation delivered out of order")
)

// TransientError wraps transient errors that should trigger a requeue
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError creates a new transient error
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}
