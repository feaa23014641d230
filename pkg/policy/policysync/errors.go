package policysync

import (
	"errors"
	"fmt"
)

var (
	// ErrInProgress is returned when a cycle is requested while another
	// one is running.
	ErrInProgress = errors.New("policy sync already in progress")

	// ErrRateLimited is returned by Trigger when called too often.
	ErrRateLimited = errors.New("policy sync trigger rate limited")
)

// FetchError is returned when the bundle could not be fetched.
type FetchError struct {
	StatusCode int   // HTTP status, 0 when no response was received
	Cause      error // Underlying error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error [status=%d]: %v", e.StatusCode, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *FetchError) Unwrap() error {
	return e.Cause
}
