package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotCancellable is returned when cancelling a job that is already terminal
	ErrJobNotCancellable = errors.New("job is not pending or processing")

	// ErrJobCancelled signals that a running handler observed a cancel request
	// and stopped early; the job row is already in its final state.
	ErrJobCancelled = errors.New("job cancelled")

	// ErrExportNotFound is returned when an export status row does not exist
	ErrExportNotFound = errors.New("export not found")

	// ErrRecordNotFound is returned when a member's account record does not exist
	ErrRecordNotFound = errors.New("account record not found")

	// ErrInvalidPayload is returned when a job payload fails to decode or validate
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownJobKind is returned when no handler is registered for a job's kind
	ErrUnknownJobKind = errors.New("unknown job kind")
)

// RetryableError wraps transient errors that should trigger a job-level retry
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsTransient reports whether err is wrapped as retryable anywhere in its chain.
func IsTransient(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
