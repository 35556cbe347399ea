package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound means the server does not know the job; tracking is lost
	ErrNotFound = errors.New("job not found")
	// ErrCancellationRejected means a cancel request affected no job
	ErrCancellationRejected = errors.New("cancellation rejected: no job was cancelled")
	// ErrSubmitRejected means the generate endpoint answered success=false
	ErrSubmitRejected = errors.New("submission rejected")
)

// APIError is a non-2xx answer that is neither NotFound nor transient
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// TransientError wraps failures the next poll may not see again:
// network errors, timeouts, 429 and 5xx answers.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying on the next tick
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err means the job is unknown to the server
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// classifyTransportError decides whether a failed round trip is transient.
// Cancellation by the caller is not; timeouts and connection failures are.
func classifyTransportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &TransientError{Op: op, Err: err}
}
