package audit

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("audit chain is closed")

// WriteError is returned by Append when the record could not be persisted.
// The record has still joined the chain and been handed to the sink, so
// the missing line shows up as a gap when the chain is verified.
type WriteError struct {
	RecordID uint64 // ID assigned to the record
	Segment  string // Segment file the write was attempted on
	Cause    error  // Underlying error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("audit write error [record_id=%d, segment=%s]: %v", e.RecordID, e.Segment, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *WriteError) Unwrap() error {
	return e.Cause
}
