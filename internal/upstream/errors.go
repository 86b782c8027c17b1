package upstream

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound    = errors.New("upstream record not found")
	ErrCircuitOpen = errors.New("upstream circuit open")
	ErrRateLimited = errors.New("upstream rate limit exhausted")
)

// RateLimitError reports a denied limiter slot along with the moment the
// caller may try again.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exhausted, retry at %s", e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// CircuitOpenError is returned without a network attempt while the breaker
// for the upstream service is open.
type CircuitOpenError struct {
	Service   string
	OpenUntil time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Service, e.OpenUntil.UTC().Format(time.RFC3339))
}

func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// TransientError is surfaced after the client has exhausted its retries
// against a 5xx, 429, or network failure.
type TransientError struct {
	Path       string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient upstream failure for %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transient upstream failure for %s after %d attempts: status=%d", e.Path, e.Attempts, e.StatusCode)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// StatusError carries a terminal, non-retryable HTTP status.
type StatusError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream %d for %s: %s", e.StatusCode, e.Path, e.Message)
	}
	return fmt.Sprintf("upstream %d for %s", e.StatusCode, e.Path)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}
