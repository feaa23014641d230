package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

// Query filters audit records. Zero-valued fields do not filter.
type Query struct {
	StartTime *time.Time
	EndTime   *time.Time

	Category    audit.Category
	MinSeverity *policy.Severity
	Outcome     string
	Actor       string
	RuleID      string

	// FromID and ToID bound the record ids, inclusive.
	FromID uint64
	ToID   uint64

	Limit  int
	Offset int

	// SortOrder is "asc" (chain order) or "desc" (newest first).
	SortOrder string
}

// QueryError represents an invalid query or a failure to read records.
type QueryError struct {
	Query *Query
	Cause error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// Matches reports whether r satisfies every filter of q.
func (q *Query) Matches(r audit.Record) bool {
	if q.StartTime != nil && r.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.Timestamp.After(*q.EndTime) {
		return false
	}
	if q.Category != "" && r.Category != q.Category {
		return false
	}
	if q.MinSeverity != nil && r.Severity < *q.MinSeverity {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	if q.Actor != "" && r.Actor != q.Actor {
		return false
	}
	if q.FromID != 0 && r.ID < q.FromID {
		return false
	}
	if q.ToID != 0 && r.ID > q.ToID {
		return false
	}
	if q.RuleID != "" {
		found := false
		for _, id := range r.RuleIDs {
			if id == q.RuleID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

var errLimitReached = errors.New("limit reached")

// Run validates q, applies defaults and returns the matching records of the
// audit log in dir. Records are read in chain order; the result is ordered
// by q.SortOrder and windowed by Offset and Limit.
func Run(ctx context.Context, dir string, q *Query) ([]audit.Record, error) {
	if q == nil {
		q = &Query{}
	}
	ApplyDefaults(q)
	if err := Validate(q); err != nil {
		return nil, err
	}

	var out []audit.Record
	skipped := 0
	err := audit.ReadRecords(dir, func(r audit.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !q.Matches(r) {
			return nil
		}
		if q.SortOrder == "asc" {
			if skipped < q.Offset {
				skipped++
				return nil
			}
			out = append(out, r)
			if len(out) >= q.Limit {
				return errLimitReached
			}
			return nil
		}
		out = append(out, r)
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return nil, &QueryError{Query: q, Cause: err}
	}

	if q.SortOrder == "desc" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
		if q.Offset >= len(out) {
			return nil, nil
		}
		out = out[q.Offset:]
		if len(out) > q.Limit {
			out = out[:q.Limit]
		}
	}
	return out, nil
}
