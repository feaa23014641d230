// Package retention enforces the retention period of the audit log.
//
// Retention works on whole segment files. A segment is expired when its
// last modification is older than RetentionDays, or when it is among the
// oldest segments beyond MaxSegments. Pruning walks the segments from the
// oldest and stops at the first one that is not expired, so the surviving
// segments stay contiguous and keep their names; audit.VerifyDir then
// verifies the remaining chain starting from the oldest survivor. The
// active segment is never deleted.
//
// # Basic Usage
//
//	pruner, err := retention.NewPruner(chain, &retention.Config{
//	    RetentionDays: 90,
//	    PruneSchedule: "0 * * * *",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	if err := pruner.Start(ctx); err != nil {
//	    return err
//	}
//	defer pruner.Stop()
//
// If ArchiveBeforeDelete is set, expired segments are copied unchanged into
// ArchivePath before they are removed, so they can still be verified with
// audit.Verify.
package retention
