package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/logging"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/tracing"
)

// Unscanned reasons reported in metrics and audit metadata.
const (
	ReasonNotFound   = "not_found"
	ReasonPermission = "permission"
	ReasonReadError  = "read_error"
)

// Scan inspects content seen on channel and returns the decision. Scans
// with matches are audited, as are all scans when agent.audit_all_scans
// is set. Audit and quarantine failures are logged and never change the
// returned result.
func (a *Agent) Scan(ctx context.Context, content []byte, channel policy.Channel, meta policy.Metadata) policy.ScanResult {
	ctx, span := tracing.Start(ctx, "agent.Scan")
	defer span.End()

	result := a.engine.Scan(content, channel, meta)
	ctx = logging.WithScanID(ctx, result.ID)

	span.SetAttributes(
		tracing.AttrScanChannel.String(string(channel)),
		tracing.AttrScanAction.String(result.Action.String()),
		tracing.AttrScanBytes.Int(len(content)),
		tracing.AttrScanMatches.Int(len(result.Matches)),
		tracing.AttrScanTruncated.Bool(result.Truncated),
		tracing.AttrPolicyVersion.Int64(result.PolicyVersion),
	)

	a.metrics.RecordScan(string(channel), result.Action.String(), result.Duration, len(content), result.Truncated)
	for _, m := range result.Matches {
		a.metrics.RecordRuleHit(m.RuleID, m.Action.String())
	}

	var quarantinePath string
	if result.Action == policy.ActionQuarantine && a.vault != nil {
		quarantinePath = a.quarantine(ctx, &result, content)
	}

	if len(result.Matches) > 0 || a.config.Agent.AuditAllScans {
		a.auditScan(ctx, &result, meta, quarantinePath)
	}

	return result
}

// ScanFile reads path and scans at most max_scan_bytes of it. When the
// file cannot be read the result is unscanned with action allow, and the
// failure is audited.
func (a *Agent) ScanFile(ctx context.Context, path string, channel policy.Channel, meta policy.Metadata) policy.ScanResult {
	if meta.ContentID == "" {
		meta.ContentID = path
	}
	if meta.FileExtension == "" {
		meta.FileExtension = filepath.Ext(path)
	}

	content, size, err := a.readFile(path)
	if err != nil {
		return a.unscanned(ctx, channel, meta, err)
	}
	if meta.FileSize == 0 {
		meta.FileSize = size
	}
	return a.Scan(ctx, content, channel, meta)
}

// readFile reads up to one byte past the scan limit so the engine can
// flag truncation without the whole file being loaded.
func (a *Agent) readFile(path string) ([]byte, int64, error) {
	// #nosec G304 - scanning caller-supplied paths is the purpose
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%s is a directory", path)
	}

	content, err := io.ReadAll(io.LimitReader(f, a.config.Agent.MaxScanBytes+1))
	if err != nil {
		return nil, 0, err
	}
	return content, info.Size(), nil
}

func (a *Agent) unscanned(ctx context.Context, channel policy.Channel, meta policy.Metadata, cause error) policy.ScanResult {
	reason := unscannedReason(cause)
	result := policy.ScanResult{
		ID:              uuid.NewString(),
		Channel:         channel,
		Timestamp:       time.Now(),
		HighestSeverity: policy.SeverityInfo,
		Action:          policy.ActionAllow,
		ContentID:       meta.ContentID,
		PolicyVersion:   a.store.Version(),
		Unscanned:       true,
		ScanError:       cause.Error(),
	}

	a.metrics.RecordUnscanned(string(channel), reason)
	a.logger.Warn("content could not be scanned",
		"scan_id", result.ID,
		"channel", channel,
		"reason", reason,
		"error", cause,
	)

	_, _ = a.Append(ctx, audit.Draft{
		Timestamp:     result.Timestamp,
		Category:      audit.CategoryUnscanned,
		Severity:      policy.SeverityInfo,
		Outcome:       audit.OutcomeUnscanned,
		Actor:         meta.Actor,
		Description:   fmt.Sprintf("%s content not scanned: %s", channel, reason),
		PolicyVersion: result.PolicyVersion,
		Metadata: map[string]string{
			"scan_id":    result.ID,
			"channel":    string(channel),
			"content_id": meta.ContentID,
			"reason":     reason,
			"error":      cause.Error(),
		},
	})
	return result
}

func unscannedReason(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ReasonNotFound
	case errors.Is(err, fs.ErrPermission):
		return ReasonPermission
	default:
		return ReasonReadError
	}
}

func (a *Agent) quarantine(ctx context.Context, result *policy.ScanResult, content []byte) string {
	path, err := a.vault.Put(ctx, result.ID, content)

	outcome := audit.OutcomeStored
	meta := map[string]string{
		"scan_id":    result.ID,
		"content_id": result.ContentID,
	}
	if err != nil {
		outcome = audit.OutcomeFailed
		meta["error"] = err.Error()
		a.logger.ErrorContext(ctx, "failed to quarantine content", "error", err)
	} else {
		meta["path"] = path
	}

	_, _ = a.Append(ctx, audit.Draft{
		Timestamp:     result.Timestamp,
		Category:      audit.CategoryQuarantine,
		Severity:      result.HighestSeverity,
		Outcome:       outcome,
		Actor:         ActorAgent,
		Description:   "content quarantined",
		Metadata:      meta,
		ContentHash:   result.ContentHash,
		PolicyVersion: result.PolicyVersion,
		RuleIDs:       result.RuleIDs(),
	})
	if err != nil {
		return ""
	}
	return path
}

func (a *Agent) auditScan(ctx context.Context, result *policy.ScanResult, meta policy.Metadata, quarantinePath string) {
	md := map[string]string{
		"scan_id":    result.ID,
		"channel":    string(result.Channel),
		"risk_score": strconv.Itoa(result.RiskScore),
		"risk_level": result.RiskLevel.String(),
		"matches":    strconv.Itoa(len(result.Matches)),
	}
	if result.ContentID != "" {
		md["content_id"] = result.ContentID
	}
	if meta.Destination != "" {
		md["destination"] = meta.Destination
	}
	if result.Truncated {
		md["truncated"] = "true"
	}
	if quarantinePath != "" {
		md["quarantine_path"] = quarantinePath
	}

	_, _ = a.Append(ctx, audit.Draft{
		Timestamp:     result.Timestamp,
		Category:      audit.CategoryScan,
		Severity:      result.HighestSeverity,
		Outcome:       result.Action.String(),
		Actor:         meta.Actor,
		Description:   fmt.Sprintf("%s scan: %d matches, action %s", result.Channel, len(result.Matches), result.Action),
		Metadata:      md,
		ContentHash:   result.ContentHash,
		PolicyVersion: result.PolicyVersion,
		RuleIDs:       result.RuleIDs(),
	})
}

// Append adds a record to the audit chain. Write failures are counted and
// logged; the record is not retried. As with audit.Chain.Append, a record
// that failed to persist is still returned alongside the error.
func (a *Agent) Append(ctx context.Context, d audit.Draft) (audit.Record, error) {
	rec, err := a.chain.Append(ctx, d)
	if err != nil {
		a.metrics.RecordAuditFailure()
		a.logger.Error("failed to append audit record",
			"category", d.Category,
			"outcome", d.Outcome,
			"error", err,
		)
		return rec, err
	}
	a.metrics.RecordAuditAppend(string(d.Category))
	return rec, nil
}

// CurrentPolicyVersion returns the version of the installed bundle.
func (a *Agent) CurrentPolicyVersion() int64 {
	return a.store.Version()
}

// FlushPending uploads one batch of pending audit records now.
func (a *Agent) FlushPending(ctx context.Context) error {
	if a.uploader == nil {
		return ErrUploadDisabled
	}
	return a.uploader.FlushPending(ctx)
}
