package policy

import (
	"errors"
	"fmt"
)

// RejectReason says why a candidate bundle was not installed.
type RejectReason int

const (
	RejectStaleVersion RejectReason = iota + 1
	RejectInvalidSignature
	RejectMalformedBundle
)

// String returns the reason name used in logs, metrics and audit records.
func (r RejectReason) String() string {
	switch r {
	case RejectStaleVersion:
		return "stale_version"
	case RejectInvalidSignature:
		return "invalid_signature"
	case RejectMalformedBundle:
		return "malformed_bundle"
	default:
		return "unknown"
	}
}

// Sentinel errors matching each RejectReason through errors.Is.
var (
	ErrStaleVersion     = errors.New("stale policy version")
	ErrInvalidSignature = errors.New("invalid policy signature")
	ErrMalformedBundle  = errors.New("malformed policy bundle")
)

// RejectError is returned when a candidate bundle is refused.
type RejectError struct {
	Reason RejectReason

	// Candidate is the version of the refused bundle, Current the version
	// that stays installed.
	Candidate int64
	Current   int64

	Cause error
}

// Error implements the error interface.
func (e *RejectError) Error() string {
	msg := fmt.Sprintf("policy bundle rejected [reason=%s, candidate=%d, current=%d]",
		e.Reason, e.Candidate, e.Current)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RejectError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the reject reason.
func (e *RejectError) Is(target error) bool {
	switch target {
	case ErrStaleVersion:
		return e.Reason == RejectStaleVersion
	case ErrInvalidSignature:
		return e.Reason == RejectInvalidSignature
	case ErrMalformedBundle:
		return e.Reason == RejectMalformedBundle
	}
	return false
}

// ReasonOf extracts the reject reason from err, or 0 if err is not a
// RejectError.
func ReasonOf(err error) RejectReason {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Reason
	}
	return 0
}
