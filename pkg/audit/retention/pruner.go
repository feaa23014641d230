package retention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
)

// Config contains configuration for the retention pruner.
type Config struct {
	// RetentionDays is the number of days to retain audit segments.
	// 0 means keep segments forever (no pruning).
	// Default: 90
	RetentionDays int

	// PruneSchedule is a cron expression for scheduling pruning.
	// Default: "0 * * * *" (hourly)
	PruneSchedule string

	// ArchiveBeforeDelete copies segments to ArchivePath before deleting
	// them.
	ArchiveBeforeDelete bool

	// ArchivePath is the directory archived segments are copied to.
	ArchivePath string

	// MaxSegments is the maximum number of segments to keep.
	// 0 means unlimited.
	MaxSegments int
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		PruneSchedule: "0 * * * *",
	}
}

// Log is the audit log being pruned.
type Log interface {
	Dir() string
	ActiveSegment() string
}

// RetentionError represents an error during retention enforcement.
type RetentionError struct {
	RetentionDays int
	Segment       string
	Cause         error
}

// Error implements the error interface.
func (e *RetentionError) Error() string {
	return fmt.Sprintf("retention error [retention_days=%d, segment=%s]: %v", e.RetentionDays, e.Segment, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *RetentionError) Unwrap() error {
	return e.Cause
}

// Pruner deletes expired audit segments. Segments are only removed from the
// front of the chain so the survivors stay contiguous, and the active
// segment is never removed.
type Pruner struct {
	log       Log
	config    *Config
	logger    *slog.Logger
	now       func() time.Time
	scheduler *Scheduler
}

// NewPruner creates a new retention pruner.
func NewPruner(log Log, config *Config, logger *slog.Logger) (*Pruner, error) {
	if log == nil {
		return nil, errors.New("audit log cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pruner := &Pruner{
		log:    log,
		config: config,
		logger: logger.With("component", "audit.retention"),
		now:    time.Now,
	}
	pruner.scheduler = NewScheduler(pruner)

	return pruner, nil
}

// Prune deletes segments whose last modification is older than the
// retention period, then the oldest segments beyond MaxSegments. It returns
// the number of segments deleted.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	segs, err := audit.ListSegments(p.log.Dir())
	if err != nil {
		return 0, &RetentionError{RetentionDays: p.config.RetentionDays, Segment: p.log.Dir(), Cause: err}
	}
	active := p.log.ActiveSegment()

	var cutoff time.Time
	if p.config.RetentionDays > 0 {
		cutoff = p.now().AddDate(0, 0, -p.config.RetentionDays)
	}
	excess := 0
	if p.config.MaxSegments > 0 && len(segs) > p.config.MaxSegments {
		excess = len(segs) - p.config.MaxSegments
	}

	deleted := 0
	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if seg.Path == active {
			break
		}

		expired := i < excess
		if !expired && !cutoff.IsZero() {
			info, err := os.Stat(seg.Path)
			if err != nil {
				return deleted, &RetentionError{RetentionDays: p.config.RetentionDays, Segment: seg.Path, Cause: err}
			}
			expired = info.ModTime().Before(cutoff)
		}
		if !expired {
			break
		}

		if p.config.ArchiveBeforeDelete {
			if err := p.archive(seg.Path); err != nil {
				return deleted, &RetentionError{RetentionDays: p.config.RetentionDays, Segment: seg.Path, Cause: err}
			}
		}
		if err := os.Remove(seg.Path); err != nil {
			return deleted, &RetentionError{RetentionDays: p.config.RetentionDays, Segment: seg.Path, Cause: err}
		}
		deleted++
		p.logger.Debug("audit segment deleted", "segment", seg.Path)
	}

	if deleted == 0 {
		p.logger.Debug("no segments pruned",
			"retention_days", p.config.RetentionDays,
			"max_segments", p.config.MaxSegments,
		)
	} else {
		p.logger.Info("audit pruning completed",
			"deleted_count", deleted,
			"retention_days", p.config.RetentionDays,
			"max_segments", p.config.MaxSegments,
		)
	}
	return deleted, nil
}

// archive copies a segment into the archive directory under its own name.
func (p *Pruner) archive(path string) error {
	if err := os.MkdirAll(p.config.ArchivePath, 0700); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	// #nosec G304 - segment paths are listed from the audit directory.
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst := filepath.Join(p.config.ArchivePath, filepath.Base(path))
	// #nosec G304 - archive path comes from configuration.
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to archive segment: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	p.logger.Info("audit segment archived", "segment", path, "archive_file", dst)
	return nil
}

// Start starts the automatic pruning scheduler.
func (p *Pruner) Start(ctx context.Context) error {
	return p.scheduler.Start(ctx)
}

// Stop stops the automatic pruning scheduler.
func (p *Pruner) Stop() {
	p.scheduler.Stop()
}

// NextPruning returns the time of the next scheduled pruning.
func (p *Pruner) NextPruning() *time.Time {
	return p.scheduler.NextRun()
}
