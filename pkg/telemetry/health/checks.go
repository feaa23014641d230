package health

import (
	"context"
	"fmt"
)

// Names of the agent's readiness checks.
const (
	CheckPolicy      = "policy"
	CheckAudit       = "audit"
	CheckUploadQueue = "upload_queue"
)

// PolicyCheck fails until a policy bundle with a positive version is active.
func PolicyCheck(version func() int64) CheckFunc {
	return func(ctx context.Context) error {
		if v := version(); v <= 0 {
			return fmt.Errorf("no policy loaded (version %d)", v)
		}
		return nil
	}
}

// AuditCheck fails while the audit chain cannot persist records. healthy
// returns the error of the most recent failed write.
func AuditCheck(healthy func() error) CheckFunc {
	return func(ctx context.Context) error {
		if err := healthy(); err != nil {
			return fmt.Errorf("audit chain not writable: %w", err)
		}
		return nil
	}
}

// UploadQueueCheck fails when more than max audit records are waiting for
// upload. A max of 0 disables the check.
func UploadQueueCheck(pending func(ctx context.Context) (int, error), max int) CheckFunc {
	return func(ctx context.Context) error {
		if max <= 0 {
			return nil
		}
		n, err := pending(ctx)
		if err != nil {
			return fmt.Errorf("upload queue unavailable: %w", err)
		}
		if n > max {
			return fmt.Errorf("upload backlog of %d records exceeds %d", n, max)
		}
		return nil
	}
}
