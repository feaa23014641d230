package upload

import (
	"errors"
	"fmt"
)

// ErrQueueClosed is returned by queue operations after Close.
var ErrQueueClosed = errors.New("upload queue is closed")

// UploadError is returned by FlushPending when a batch was not accepted.
// The batch stays at the front of the queue.
type UploadError struct {
	StatusCode int   // HTTP status, 0 when no response was received
	Records    int   // Number of records in the batch
	Cause      error // Underlying error
}

// Error implements the error interface.
func (e *UploadError) Error() string {
	return fmt.Sprintf("upload error [status=%d, records=%d]: %v", e.StatusCode, e.Records, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *UploadError) Unwrap() error {
	return e.Cause
}

// QueueError represents a failure of the pending queue backend.
type QueueError struct {
	Backend   string // "memory" or "sqlite"
	Operation string // Operation that failed
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *QueueError) Error() string {
	return fmt.Sprintf("queue error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *QueueError) Unwrap() error {
	return e.Cause
}

func newQueueError(backend, operation string, cause error) *QueueError {
	return &QueueError{Backend: backend, Operation: operation, Cause: cause}
}
