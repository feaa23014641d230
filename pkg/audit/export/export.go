// Package export writes audit records as CSV or JSON for
// "nextguard audit query".
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
)

// Exporter writes a set of audit records to w.
type Exporter interface {
	Export(ctx context.Context, records []audit.Record, w io.Writer) error
}

// ExportError represents an error during export.
type ExportError struct {
	Format      string
	RecordCount int
	Cause       error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, records=%d]: %v", e.Format, e.RecordCount, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// New returns the exporter for format: "json", "jsonl" or "csv".
func New(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONExporter(true), nil
	case "jsonl":
		return &JSONLinesExporter{}, nil
	case "csv":
		return NewCSVExporter(true), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// JSONExporter writes records as one JSON array.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export implements Exporter. An empty set is written as [].
func (e *JSONExporter) Export(ctx context.Context, records []audit.Record, w io.Writer) error {
	if records == nil {
		records = []audit.Record{}
	}
	enc := json.NewEncoder(w)
	if e.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(records); err != nil {
		return &ExportError{Format: "json", RecordCount: len(records), Cause: err}
	}
	return nil
}

// JSONLinesExporter writes one record per line, in the segment file format.
type JSONLinesExporter struct{}

// Export implements Exporter.
func (e *JSONLinesExporter) Export(ctx context.Context, records []audit.Record, w io.Writer) error {
	enc := json.NewEncoder(w)
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(r); err != nil {
			return &ExportError{Format: "jsonl", RecordCount: i, Cause: err}
		}
	}
	return nil
}

// CSVExporter writes records as CSV. Metadata is flattened to key=value
// pairs and rule ids are joined with ';'.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

var csvHeader = []string{
	"id", "timestamp", "category", "severity", "outcome", "actor",
	"description", "policy_version", "rule_ids", "content_hash",
	"metadata", "link_hash", "body_hash",
}

// Export implements Exporter.
func (e *CSVExporter) Export(ctx context.Context, records []audit.Record, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(csvHeader); err != nil {
			return &ExportError{Format: "csv", RecordCount: len(records), Cause: err}
		}
	}

	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(recordToRow(r)); err != nil {
			return &ExportError{Format: "csv", RecordCount: i, Cause: err}
		}
		if (i+1)%100 == 0 {
			writer.Flush()
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return &ExportError{Format: "csv", RecordCount: len(records), Cause: err}
	}
	return nil
}

func recordToRow(r audit.Record) []string {
	return []string{
		strconv.FormatUint(r.ID, 10),
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		string(r.Category),
		r.Severity.String(),
		r.Outcome,
		r.Actor,
		r.Description,
		strconv.FormatInt(r.PolicyVersion, 10),
		strings.Join(r.RuleIDs, ";"),
		r.ContentHash,
		formatMetadata(r.Metadata),
		r.LinkHash,
		r.BodyHash,
	}
}

func formatMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ";")
}
