package relayq

import "errors"

var (
	// Store errors.
	ErrNoStore = errors.New("relayq: no store configured")

	// Not found errors.
	ErrJobNotFound    = errors.New("relayq: job not found")
	ErrRecordNotFound = errors.New("relayq: dead-letter record not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("relayq: job already exists")

	// State errors.
	ErrJobActive          = errors.New("relayq: job is active and cannot be cancelled")
	ErrMaxAttemptsReached = errors.New("relayq: max attempts reached")
)

// PermanentError marks a handler failure as non-retryable. The executor
// routes permanently failed jobs straight to the dead-letter queue without
// consuming the remaining retry budget.
type PermanentError struct {
	Err error
}

// Permanent wraps err so the retry machinery treats it as non-retryable.
// A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

// Unwrap returns the underlying business error.
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err (or anything it wraps) was marked with
// Permanent. Every other handler error is treated as transient and
// retry-worthy.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
