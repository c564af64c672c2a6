package domain

import "errors"

var (
	// ErrInvalidTransition is returned when a job status change is not legal
	// from the job's current status
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobNotFound is returned when a job cannot be found locally or remotely
	ErrJobNotFound = errors.New("job not found")

	// ErrMissingCritical is returned when a checklist completion is missing
	// one or more critical items
	ErrMissingCritical = errors.New("critical checklist items missing")

	// ErrCorruptRecord is returned when a local record cannot be decoded.
	// Callers treat the record as absent.
	ErrCorruptRecord = errors.New("local record is corrupt")

	// ErrOperationRejected is returned when the backend permanently refuses
	// a queued operation
	ErrOperationRejected = errors.New("operation rejected by backend")
)

// TransientError wraps errors that should trigger a retry with backoff
// (network unreachable, backend 5xx, attempt timeout)
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

// IsTransient reports whether err should be retried rather than frozen
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
