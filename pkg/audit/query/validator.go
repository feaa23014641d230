package query

import "fmt"

const (
	// DefaultLimit is the default number of records to return if not specified.
	DefaultLimit = 100

	// MaxLimit is the maximum number of records that can be returned in a single query.
	MaxLimit = 10000
)

// ValidSortOrders contains the valid sort orders.
var ValidSortOrders = map[string]bool{
	"asc":  true,
	"desc": true,
}

// Validate validates a query and returns an error if any parameters are invalid.
func Validate(q *Query) error {
	if q.Limit < 0 {
		return &QueryError{Query: q, Cause: fmt.Errorf("limit must be >= 0, got %d", q.Limit)}
	}
	if q.Limit > MaxLimit {
		return &QueryError{Query: q, Cause: fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit)}
	}
	if q.Offset < 0 {
		return &QueryError{Query: q, Cause: fmt.Errorf("offset must be >= 0, got %d", q.Offset)}
	}
	if q.SortOrder != "" && !ValidSortOrders[q.SortOrder] {
		return &QueryError{Query: q, Cause: fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder)}
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return &QueryError{Query: q, Cause: fmt.Errorf("start_time must be before end_time")}
	}
	if q.FromID != 0 && q.ToID != 0 && q.FromID > q.ToID {
		return &QueryError{Query: q, Cause: fmt.Errorf("from_id must be <= to_id")}
	}
	if q.MinSeverity != nil && !q.MinSeverity.Valid() {
		return &QueryError{Query: q, Cause: fmt.Errorf("invalid severity: %d", int(*q.MinSeverity))}
	}
	return nil
}

// ApplyDefaults applies default values to a query.
func ApplyDefaults(q *Query) {
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortOrder == "" {
		q.SortOrder = "desc"
	}
}
