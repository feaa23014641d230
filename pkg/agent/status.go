package agent

import (
	"context"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/policysync"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/store"
)

// SyncStateDisabled is reported as sync_state when sync is off.
const SyncStateDisabled = "disabled"

// Status is the body of GET /v1/status.
type Status struct {
	DeviceID       string             `json:"device_id"`
	PolicyVersion  int64              `json:"policy_version"`
	PolicyOrigin   store.Origin       `json:"policy_origin"`
	PendingUploads int                `json:"pending_uploads"`
	SyncState      string             `json:"sync_state"`
	Sync           *policysync.Status `json:"sync,omitempty"`
	AuditRecords   uint64             `json:"audit_records"`
}

// Status reports the policy, sync and upload state.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	lastID, _ := a.chain.Tail()
	st := Status{
		DeviceID:      a.deviceID,
		PolicyVersion: a.store.Version(),
		PolicyOrigin:  a.store.Origin(),
		SyncState:     SyncStateDisabled,
		AuditRecords:  lastID,
	}

	if a.sync != nil {
		s := a.sync.Status()
		st.Sync = &s
		st.SyncState = s.State.String()
	}

	if a.uploader != nil {
		n, err := a.uploader.Pending(ctx)
		if err != nil {
			return st, err
		}
		st.PendingUploads = n
	}
	return st, nil
}

// TriggerSync runs a policy sync cycle now, subject to the manual trigger
// rate limit.
func (a *Agent) TriggerSync(ctx context.Context) (policysync.State, error) {
	if a.sync == nil {
		return policysync.StateIdle, ErrSyncDisabled
	}
	return a.sync.Trigger(ctx)
}
