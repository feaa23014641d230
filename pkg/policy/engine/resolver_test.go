package engine

import (
	"testing"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

func TestResolve(t *testing.T) {
	m := func(sev policy.Severity, act policy.Action) policy.Match {
		return policy.Match{RuleID: sev.String() + "-" + act.String(), Severity: sev, Action: act}
	}

	tests := []struct {
		name    string
		matches []policy.Match
		want    policy.Action
	}{
		{"no matches", nil, policy.ActionAllow},
		{"single audit", []policy.Match{m(policy.SeverityLow, policy.ActionAudit)}, policy.ActionAudit},
		{
			name:    "highest action wins",
			matches: []policy.Match{m(policy.SeverityLow, policy.ActionNotify), m(policy.SeverityHigh, policy.ActionQuarantine), m(policy.SeverityMedium, policy.ActionEncrypt)},
			want:    policy.ActionQuarantine,
		},
		{
			name:    "critical forces block",
			matches: []policy.Match{m(policy.SeverityCritical, policy.ActionAudit)},
			want:    policy.ActionBlock,
		},
		{
			name:    "critical after quarantine",
			matches: []policy.Match{m(policy.SeverityHigh, policy.ActionQuarantine), m(policy.SeverityCritical, policy.ActionNotify)},
			want:    policy.ActionBlock,
		},
		{
			name:    "configured block without critical",
			matches: []policy.Match{m(policy.SeverityMedium, policy.ActionBlock)},
			want:    policy.ActionBlock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.matches); got != tt.want {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHighestSeverity(t *testing.T) {
	if got := HighestSeverity(nil); got != policy.SeverityInfo {
		t.Errorf("HighestSeverity(nil) = %v, want info", got)
	}
	got := HighestSeverity([]policy.Match{{Severity: policy.SeverityLow}, {Severity: policy.SeverityHigh}, {Severity: policy.SeverityMedium}})
	if got != policy.SeverityHigh {
		t.Errorf("HighestSeverity() = %v, want high", got)
	}
}

func TestRiskWeights_Score(t *testing.T) {
	w := DefaultRiskWeights()

	tests := []struct {
		name      string
		matches   []policy.Match
		wantScore int
		wantLevel policy.Severity
	}{
		{"none", nil, 0, policy.SeverityInfo},
		{"one low", []policy.Match{{RuleID: "a", Severity: policy.SeverityLow}}, 5, policy.SeverityInfo},
		{"one critical", []policy.Match{{RuleID: "a", Severity: policy.SeverityCritical}}, 40, policy.SeverityMedium},
		{
			name:      "rule counted once",
			matches:   []policy.Match{{RuleID: "a", Severity: policy.SeverityHigh}, {RuleID: "a", Severity: policy.SeverityHigh}},
			wantScore: 25,
			wantLevel: policy.SeverityLow,
		},
		{
			name: "capped",
			matches: []policy.Match{
				{RuleID: "a", Severity: policy.SeverityCritical},
				{RuleID: "b", Severity: policy.SeverityCritical},
				{RuleID: "c", Severity: policy.SeverityCritical},
			},
			wantScore: 100,
			wantLevel: policy.SeverityCritical,
		},
		{
			name:      "high and critical",
			matches:   []policy.Match{{RuleID: "a", Severity: policy.SeverityCritical}, {RuleID: "b", Severity: policy.SeverityHigh}},
			wantScore: 65,
			wantLevel: policy.SeverityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, level := w.Score(tt.matches)
			if score != tt.wantScore || level != tt.wantLevel {
				t.Errorf("Score() = (%d, %v), want (%d, %v)", score, level, tt.wantScore, tt.wantLevel)
			}
		})
	}
}

func TestRiskWeights_Monotonic(t *testing.T) {
	w := DefaultRiskWeights()
	sevs := []policy.Severity{policy.SeverityInfo, policy.SeverityLow, policy.SeverityMedium, policy.SeverityHigh, policy.SeverityCritical}
	prev := -1
	for _, s := range sevs {
		score, _ := w.Score([]policy.Match{{RuleID: "r", Severity: s}})
		if score < prev {
			t.Errorf("severity %v scored %d, below lower severity %d", s, score, prev)
		}
		prev = score
	}
}

func TestScheduleActive(t *testing.T) {
	tests := []struct {
		name     string
		schedule *policy.Schedule
		severity policy.Severity
		at       time.Time
		want     bool
	}{
		{"nil schedule", nil, policy.SeverityLow, time.Now(), true},
		{
			name:     "overnight window after start",
			schedule: &policy.Schedule{Start: "22:00", End: "06:00"},
			at:       time.Date(2026, 1, 5, 23, 30, 0, 0, time.UTC),
			want:     true,
		},
		{
			name:     "overnight window before end",
			schedule: &policy.Schedule{Start: "22:00", End: "06:00"},
			at:       time.Date(2026, 1, 5, 5, 59, 0, 0, time.UTC),
			want:     true,
		},
		{
			name:     "overnight window midday",
			schedule: &policy.Schedule{Start: "22:00", End: "06:00"},
			at:       time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
			want:     false,
		},
		{
			name:     "sunday is day seven",
			schedule: &policy.Schedule{Days: []int{7}},
			at:       time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC),
			want:     true,
		},
		{
			name:     "monday excluded",
			schedule: &policy.Schedule{Days: []int{6, 7}},
			at:       time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
			want:     false,
		},
		{
			name:     "critical override",
			schedule: &policy.Schedule{Days: []int{6, 7}, AlwaysActiveIfCritical: true},
			severity: policy.SeverityCritical,
			at:       time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
			want:     true,
		},
		{
			name:     "override ignored below critical",
			schedule: &policy.Schedule{Days: []int{6, 7}, AlwaysActiveIfCritical: true},
			severity: policy.SeverityHigh,
			at:       time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
			want:     false,
		},
		{
			// 2026-01-10 is a Saturday.
			name:     "wrapped window keeps its start day",
			schedule: &policy.Schedule{Days: []int{5}, Start: "22:00", End: "02:00"},
			at:       time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC),
			want:     true,
		},
		{
			name:     "wrapped window on start day",
			schedule: &policy.Schedule{Days: []int{5}, Start: "22:00", End: "02:00"},
			at:       time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC),
			want:     true,
		},
		{
			name:     "wrapped window after excluded day",
			schedule: &policy.Schedule{Days: []int{5}, Start: "22:00", End: "02:00"},
			at:       time.Date(2026, 1, 9, 1, 0, 0, 0, time.UTC),
			want:     false,
		},
		{
			name:     "wrapped window sunday into monday",
			schedule: &policy.Schedule{Days: []int{7}, Start: "22:00", End: "02:00"},
			at:       time.Date(2026, 1, 5, 1, 0, 0, 0, time.UTC),
			want:     true,
		},
		{
			name:     "unknown timezone falls back to utc",
			schedule: &policy.Schedule{Start: "09:00", End: "10:00", Timezone: "Mars/Olympus"},
			at:       time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC),
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScheduleActive(tt.schedule, tt.severity, tt.at); got != tt.want {
				t.Errorf("ScheduleActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPatternCache_Warm(t *testing.T) {
	c := NewPatternCache(quietLogger())

	failed := c.Warm([]policy.Rule{
		{ID: "a", Patterns: []string{`\d+`, `(`}},
		{ID: "b", Patterns: []string{`\d+`}},
	})
	if failed != 1 {
		t.Errorf("Warm() failed = %d, want 1", failed)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	c.Warm([]policy.Rule{{ID: "c", Patterns: []string{`[a-z]+`}}})
	if c.Len() != 1 {
		t.Errorf("Len() after pruning = %d, want 1", c.Len())
	}

	re1, err := c.Get(`[a-z]+`)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	re2, _ := c.Get(`[a-z]+`)
	if re1 != re2 {
		t.Error("expected the cached matcher to be reused")
	}
}
