package policysync

import "time"

// State is the position of the sync client in its cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateVerifying
	StateInstalled
	StateRejected
	StateNotModified
	StateFailed
)

// String returns the state name used in logs, metrics and the status
// endpoint.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateVerifying:
		return "verifying"
	case StateInstalled:
		return "installed"
	case StateRejected:
		return "rejected"
	case StateNotModified:
		return "not_modified"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status summarizes the client's recent activity.
type Status struct {
	State       State     `json:"state"`
	LastOutcome State     `json:"last_outcome"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}
