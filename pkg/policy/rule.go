package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // endpoints may lack a system zoneinfo database
)

// RuleKind selects how a rule is evaluated.
type RuleKind string

const (
	// KindContent rules scan the content with patterns and keywords. It is
	// the default when Kind is empty.
	KindContent RuleKind = "content"

	// KindFileType rules match the file extension in the scan metadata.
	KindFileType RuleKind = "file_type"

	// KindFileSize rules match the file size in the scan metadata.
	KindFileSize RuleKind = "file_size"

	// KindDestinationDomain rules match the destination host by suffix.
	KindDestinationDomain RuleKind = "destination_domain"

	// KindRecipientCount rules match when an email has at least
	// MinRecipients recipients.
	KindRecipientCount RuleKind = "recipient_count"
)

// Rule is a detection definition. Rules are values: they are never modified
// after construction, a policy update produces new Rule values.
type Rule struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Kind       RuleKind  `json:"kind,omitempty" yaml:"kind,omitempty"`
	Patterns   []string  `json:"patterns,omitempty" yaml:"patterns,omitempty"`
	Keywords   []string  `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Severity   Severity  `json:"severity" yaml:"severity"`
	Action     Action    `json:"action" yaml:"action"`
	Channels   []Channel `json:"channels,omitempty" yaml:"channels,omitempty"`
	Enabled    bool      `json:"enabled" yaml:"enabled"`
	Compliance string    `json:"compliance,omitempty" yaml:"compliance,omitempty"`

	// Threshold is the minimum number of occurrences needed to trigger.
	// Zero means one.
	Threshold int `json:"threshold,omitempty" yaml:"threshold,omitempty"`

	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// Metadata predicates, only used by the non-content kinds.
	FileTypes     []string `json:"file_types,omitempty" yaml:"file_types,omitempty"`
	MinSize       int64    `json:"min_size,omitempty" yaml:"min_size,omitempty"`
	MaxSize       int64    `json:"max_size,omitempty" yaml:"max_size,omitempty"`
	Domains       []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	MinRecipients int      `json:"min_recipients,omitempty" yaml:"min_recipients,omitempty"`
}

// EffectiveKind returns the rule kind, defaulting to KindContent.
func (r Rule) EffectiveKind() RuleKind {
	if r.Kind == "" {
		return KindContent
	}
	return r.Kind
}

// EffectiveThreshold returns the match threshold, defaulting to 1.
func (r Rule) EffectiveThreshold() int {
	if r.Threshold < 1 {
		return 1
	}
	return r.Threshold
}

// AppliesTo reports whether the rule covers the given channel. A rule with no
// channel list applies to every channel.
func (r Rule) AppliesTo(ch Channel) bool {
	if len(r.Channels) == 0 {
		return true
	}
	for _, c := range r.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// Validate checks the structural validity of a single rule. Pattern syntax is
// not checked; a rule with a pattern that fails to compile is skipped at
// scan time.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id is required")
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %q: invalid severity %d", r.ID, int(r.Severity))
	}
	if !r.Action.Valid() {
		return fmt.Errorf("rule %q: invalid action %d", r.ID, int(r.Action))
	}
	for _, ch := range r.Channels {
		if !ch.Valid() {
			return fmt.Errorf("rule %q: unknown channel %q", r.ID, ch)
		}
	}
	if r.Threshold < 0 {
		return fmt.Errorf("rule %q: threshold must not be negative", r.ID)
	}

	switch r.EffectiveKind() {
	case KindContent:
		if len(r.Patterns) == 0 && len(r.Keywords) == 0 {
			return fmt.Errorf("rule %q: content rule needs at least one pattern or keyword", r.ID)
		}
	case KindFileType:
		if len(r.FileTypes) == 0 {
			return fmt.Errorf("rule %q: file_type rule needs file_types", r.ID)
		}
	case KindFileSize:
		if r.MinSize <= 0 && r.MaxSize <= 0 {
			return fmt.Errorf("rule %q: file_size rule needs min_size or max_size", r.ID)
		}
		if r.MaxSize > 0 && r.MinSize > r.MaxSize {
			return fmt.Errorf("rule %q: min_size exceeds max_size", r.ID)
		}
	case KindDestinationDomain:
		if len(r.Domains) == 0 {
			return fmt.Errorf("rule %q: destination_domain rule needs domains", r.ID)
		}
	case KindRecipientCount:
		if r.MinRecipients <= 0 {
			return fmt.Errorf("rule %q: recipient_count rule needs min_recipients", r.ID)
		}
	default:
		return fmt.Errorf("rule %q: unknown kind %q", r.ID, r.Kind)
	}

	if r.Schedule != nil {
		if err := r.Schedule.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", r.ID, err)
		}
	}
	return nil
}

// Schedule restricts when a rule is active.
type Schedule struct {
	// Days are ISO weekday numbers (1 = Monday, 7 = Sunday). Empty means every day.
	Days []int `json:"days,omitempty" yaml:"days,omitempty"`

	// Start and End are "HH:MM" times of day; End is exclusive. A window
	// whose End is before its Start wraps past midnight and belongs to the
	// day it starts on: Days 5 with 22:00-02:00 covers Friday night until
	// 02:00 Saturday. Both empty means the whole day.
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`

	// Timezone is an IANA zone name. Empty means UTC.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// AlwaysActiveIfCritical keeps a critical rule active outside the window.
	AlwaysActiveIfCritical bool `json:"always_active_if_critical,omitempty" yaml:"always_active_if_critical,omitempty"`
}

// Validate checks the schedule fields.
func (s *Schedule) Validate() error {
	for _, d := range s.Days {
		if d < 1 || d > 7 {
			return fmt.Errorf("schedule: day %d out of range 1-7", d)
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("schedule: unknown timezone %q", s.Timezone)
		}
	}
	if (s.Start == "") != (s.End == "") {
		return fmt.Errorf("schedule: start and end must be set together")
	}
	if s.Start != "" {
		if _, err := ParseClock(s.Start); err != nil {
			return fmt.Errorf("schedule: start: %w", err)
		}
		if _, err := ParseClock(s.End); err != nil {
			return fmt.Errorf("schedule: end: %w", err)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(v string) (int, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time of day %q", v)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", v)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", v)
	}
	return h*60 + m, nil
}
