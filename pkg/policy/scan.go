package policy

import "time"

// MatchKind says which part of a rule produced a match.
type MatchKind string

const (
	MatchPattern  MatchKind = "pattern"
	MatchKeyword  MatchKind = "keyword"
	MatchMetadata MatchKind = "metadata"
)

// Match is one contribution of a rule to a scan result. The rule's severity,
// action and compliance tag are copied in so that matches can be resolved
// without the bundle.
type Match struct {
	RuleID     string    `json:"rule_id"`
	RuleName   string    `json:"rule_name,omitempty"`
	Kind       MatchKind `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Count      int       `json:"count"`
	Confidence float64   `json:"confidence"`
	Severity   Severity  `json:"severity"`
	Action     Action    `json:"action"`
	Compliance string    `json:"compliance,omitempty"`
}

// Metadata carries channel-specific attributes of the scanned content.
type Metadata struct {
	// ContentID identifies the content: a file path, a process name, a URL.
	ContentID string `json:"content_id,omitempty"`

	// Actor is the user or process responsible for the content movement.
	Actor string `json:"actor,omitempty"`

	FileExtension  string `json:"file_extension,omitempty"`
	FileSize       int64  `json:"file_size,omitempty"`
	Destination    string `json:"destination,omitempty"`
	RecipientCount int    `json:"recipient_count,omitempty"`
}

// ScanResult is the outcome of one scan call. It is never modified after
// the engine returns it.
type ScanResult struct {
	ID              string        `json:"id"`
	Channel         Channel       `json:"channel"`
	Timestamp       time.Time     `json:"timestamp"`
	Matches         []Match       `json:"matches"`
	HighestSeverity Severity      `json:"highest_severity"`
	Action          Action        `json:"action"`
	ContentID       string        `json:"content_id,omitempty"`
	Duration        time.Duration `json:"duration"`
	PolicyVersion   int64         `json:"policy_version"`
	RiskScore       int           `json:"risk_score"`
	RiskLevel       Severity      `json:"risk_level"`
	ContentHash     string        `json:"content_hash,omitempty"`

	// Truncated is set when the content exceeded the scan size limit and
	// only a prefix was inspected.
	Truncated bool `json:"truncated,omitempty"`

	// Unscanned is set when the content could not be read. The action is
	// allow (fail-open) and the decision is recorded as unscanned.
	Unscanned bool   `json:"unscanned,omitempty"`
	ScanError string `json:"scan_error,omitempty"`
}

// RuleIDs returns the distinct rule ids of the matches, in match order.
func (r *ScanResult) RuleIDs() []string {
	var ids []string
	seen := make(map[string]struct{}, len(r.Matches))
	for _, m := range r.Matches {
		if _, ok := seen[m.RuleID]; ok {
			continue
		}
		seen[m.RuleID] = struct{}{}
		ids = append(ids, m.RuleID)
	}
	return ids
}
