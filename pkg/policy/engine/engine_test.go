package engine

import (
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

type staticSource struct {
	mu     sync.Mutex
	bundle *policy.Bundle
}

func (s *staticSource) Current() *policy.Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundle
}

func (s *staticSource) set(b *policy.Bundle) {
	s.mu.Lock()
	s.bundle = b
	s.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func creditCardRule() policy.Rule {
	return policy.Rule{
		ID:         "pci-credit-card",
		Name:       "Credit card number",
		Patterns:   []string{`\b4[0-9]{15}\b`},
		Severity:   policy.SeverityCritical,
		Action:     policy.ActionBlock,
		Enabled:    true,
		Compliance: "PCI-DSS",
	}
}

func newTestEngine(t *testing.T, rules []policy.Rule, clock func() time.Time) *Engine {
	t.Helper()
	src := &staticSource{bundle: &policy.Bundle{Version: 1, Rules: rules}}
	cfg := DefaultConfig()
	if clock != nil {
		cfg.Clock = clock
	}
	e, err := New(src, cfg, quietLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return e
}

func TestEngine_CreditCardBlocked(t *testing.T) {
	e := newTestEngine(t, []policy.Rule{creditCardRule()}, nil)

	result := e.Scan([]byte("4111111111111111"), policy.ChannelFile, policy.Metadata{ContentID: "/tmp/cards.txt"})

	if result.Action != policy.ActionBlock {
		t.Errorf("Action = %v, want block", result.Action)
	}
	if len(result.Matches) != 1 {
		t.Fatalf("len(Matches) = %d, want 1", len(result.Matches))
	}
	m := result.Matches[0]
	if m.RuleID != "pci-credit-card" {
		t.Errorf("RuleID = %q, want pci-credit-card", m.RuleID)
	}
	if m.Kind != policy.MatchPattern {
		t.Errorf("Kind = %q, want pattern", m.Kind)
	}
	if m.Text != "************1111" {
		t.Errorf("Text = %q, want masked number", m.Text)
	}
	if m.Confidence != PatternConfidence {
		t.Errorf("Confidence = %v, want %v", m.Confidence, PatternConfidence)
	}
	if result.HighestSeverity != policy.SeverityCritical {
		t.Errorf("HighestSeverity = %v, want critical", result.HighestSeverity)
	}
	if result.PolicyVersion != 1 {
		t.Errorf("PolicyVersion = %d, want 1", result.PolicyVersion)
	}
	if result.ContentID != "/tmp/cards.txt" {
		t.Errorf("ContentID = %q", result.ContentID)
	}
	if result.ID == "" {
		t.Error("expected scan id")
	}
	if len(result.ContentHash) != 64 {
		t.Errorf("ContentHash length = %d, want 64", len(result.ContentHash))
	}
}

func TestEngine_NoMatchAllows(t *testing.T) {
	e := newTestEngine(t, []policy.Rule{creditCardRule()}, nil)

	result := e.Scan([]byte("quarterly report draft"), policy.ChannelClipboard, policy.Metadata{})

	if result.Action != policy.ActionAllow {
		t.Errorf("Action = %v, want allow", result.Action)
	}
	if len(result.Matches) != 0 {
		t.Errorf("len(Matches) = %d, want 0", len(result.Matches))
	}
	if result.HighestSeverity != policy.SeverityInfo {
		t.Errorf("HighestSeverity = %v, want info", result.HighestSeverity)
	}
	if result.RiskScore != 0 {
		t.Errorf("RiskScore = %d, want 0", result.RiskScore)
	}
}

func TestEngine_NoBundle(t *testing.T) {
	e, err := New(&staticSource{}, nil, quietLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	result := e.Scan([]byte("4111111111111111"), policy.ChannelFile, policy.Metadata{})
	if result.Action != policy.ActionAllow || len(result.Matches) != 0 {
		t.Errorf("got action %v with %d matches, want allow with none", result.Action, len(result.Matches))
	}
	if result.PolicyVersion != 0 {
		t.Errorf("PolicyVersion = %d, want 0", result.PolicyVersion)
	}
}

func TestNew_NilSource(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestEngine_ScheduleWindow(t *testing.T) {
	rule := policy.Rule{
		ID:       "office-hours-keyword",
		Keywords: []string{"confidential"},
		Severity: policy.SeverityHigh,
		Action:   policy.ActionNotify,
		Enabled:  true,
		Schedule: &policy.Schedule{
			Days:     []int{1, 2, 3, 4, 5},
			Start:    "09:00",
			End:      "18:00",
			Timezone: "Asia/Hong_Kong",
		},
	}

	hk, err := time.LoadLocation("Asia/Hong_Kong")
	if err != nil {
		t.Fatalf("LoadLocation() failed: %v", err)
	}

	tests := []struct {
		name      string
		at        time.Time
		wantMatch bool
	}{
		{"weekday inside window", time.Date(2026, 10, 14, 10, 30, 0, 0, hk), true},
		{"weekday at start", time.Date(2026, 10, 14, 9, 0, 0, 0, hk), true},
		{"weekday at end", time.Date(2026, 10, 14, 18, 0, 0, 0, hk), false},
		{"weekday evening", time.Date(2026, 10, 14, 21, 0, 0, 0, hk), false},
		{"saturday inside hours", time.Date(2026, 10, 17, 10, 30, 0, 0, hk), false},
		// 02:30 UTC is 10:30 in Hong Kong.
		{"utc clock inside window", time.Date(2026, 10, 14, 2, 30, 0, 0, time.UTC), true},
		// 10:30 UTC is 18:30 in Hong Kong.
		{"utc clock outside window", time.Date(2026, 10, 14, 10, 30, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := tt.at
			e := newTestEngine(t, []policy.Rule{rule}, func() time.Time { return at })

			result := e.Scan([]byte("CONFIDENTIAL: board minutes"), policy.ChannelEmail, policy.Metadata{})
			if got := len(result.Matches) > 0; got != tt.wantMatch {
				t.Errorf("matched = %v, want %v", got, tt.wantMatch)
			}
		})
	}
}

func TestEngine_ScheduleCriticalOverride(t *testing.T) {
	rule := creditCardRule()
	rule.Schedule = &policy.Schedule{
		Days:                   []int{1, 2, 3, 4, 5},
		Start:                  "09:00",
		End:                    "18:00",
		Timezone:               "Asia/Hong_Kong",
		AlwaysActiveIfCritical: true,
	}
	sunday := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	e := newTestEngine(t, []policy.Rule{rule}, func() time.Time { return sunday })

	result := e.Scan([]byte("4111111111111111"), policy.ChannelFile, policy.Metadata{})
	if result.Action != policy.ActionBlock {
		t.Errorf("Action = %v, want block", result.Action)
	}
}

func TestEngine_BadPatternIsolated(t *testing.T) {
	rules := []policy.Rule{
		{
			ID:       "broken",
			Patterns: []string{`([unclosed`, `secret-\d+`},
			Keywords: []string{"secret"},
			Severity: policy.SeverityMedium,
			Action:   policy.ActionBlock,
			Enabled:  true,
		},
		creditCardRule(),
	}
	e := newTestEngine(t, rules, nil)

	result := e.Scan([]byte("secret-42"), policy.ChannelFile, policy.Metadata{})
	if len(result.Matches) != 0 || result.Action != policy.ActionAllow {
		t.Errorf("broken rule matched: rules=%v action=%v", result.RuleIDs(), result.Action)
	}

	result = e.Scan([]byte("secret-42 and 4111111111111111"), policy.ChannelFile, policy.Metadata{})
	if got := result.RuleIDs(); !reflect.DeepEqual(got, []string{"pci-credit-card"}) {
		t.Errorf("RuleIDs() = %v, want [pci-credit-card]", got)
	}
	if result.Action != policy.ActionBlock {
		t.Errorf("Action = %v, want block", result.Action)
	}
	if _, err := e.Patterns().Get(`([unclosed`); err == nil {
		t.Error("expected cached compile error")
	}
}

func TestEngine_KeywordsAndThreshold(t *testing.T) {
	rule := policy.Rule{
		ID:        "project-codename",
		Keywords:  []string{"Nightjar"},
		Severity:  policy.SeverityMedium,
		Action:    policy.ActionNotify,
		Enabled:   true,
		Threshold: 3,
	}

	tests := []struct {
		name      string
		content   string
		wantCount int
	}{
		{"below threshold", "nightjar NIGHTJAR", 0},
		{"at threshold", "nightjar NIGHTJAR Nightjar", 3},
		{"above threshold", strings.Repeat("nightjar ", 5), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, []policy.Rule{rule}, nil)
			result := e.Scan([]byte(tt.content), policy.ChannelClipboard, policy.Metadata{})

			if tt.wantCount == 0 {
				if len(result.Matches) != 0 {
					t.Errorf("expected no matches, got %+v", result.Matches)
				}
				return
			}
			if len(result.Matches) != 1 {
				t.Fatalf("len(Matches) = %d, want 1", len(result.Matches))
			}
			m := result.Matches[0]
			if m.Count != tt.wantCount {
				t.Errorf("Count = %d, want %d", m.Count, tt.wantCount)
			}
			if m.Kind != policy.MatchKeyword || m.Confidence != KeywordConfidence {
				t.Errorf("got kind %q confidence %v", m.Kind, m.Confidence)
			}
		})
	}
}

func TestEngine_ChannelFilterAndDisabled(t *testing.T) {
	usbOnly := creditCardRule()
	usbOnly.Channels = []policy.Channel{policy.ChannelUSB}
	disabled := creditCardRule()
	disabled.ID = "disabled"
	disabled.Enabled = false

	e := newTestEngine(t, []policy.Rule{usbOnly, disabled}, nil)

	if r := e.Scan([]byte("4111111111111111"), policy.ChannelClipboard, policy.Metadata{}); len(r.Matches) != 0 {
		t.Errorf("clipboard scan matched %v", r.RuleIDs())
	}
	if r := e.Scan([]byte("4111111111111111"), policy.ChannelUSB, policy.Metadata{}); !reflect.DeepEqual(r.RuleIDs(), []string{"pci-credit-card"}) {
		t.Errorf("usb scan matched %v", r.RuleIDs())
	}
}

func TestEngine_MetadataRules(t *testing.T) {
	rules := []policy.Rule{
		{ID: "archives", Kind: policy.KindFileType, FileTypes: []string{".zip", "7z"}, Severity: policy.SeverityLow, Action: policy.ActionAudit, Enabled: true},
		{ID: "large", Kind: policy.KindFileSize, MinSize: 1000, Severity: policy.SeverityMedium, Action: policy.ActionNotify, Enabled: true},
		{ID: "personal-mail", Kind: policy.KindDestinationDomain, Domains: []string{"gmail.com"}, Severity: policy.SeverityHigh, Action: policy.ActionQuarantine, Enabled: true},
		{ID: "mass-mail", Kind: policy.KindRecipientCount, MinRecipients: 20, Severity: policy.SeverityMedium, Action: policy.ActionNotify, Enabled: true},
	}
	e := newTestEngine(t, rules, nil)

	tests := []struct {
		name       string
		meta       policy.Metadata
		wantRules  []string
		wantAction policy.Action
	}{
		{
			name:       "archive by extension",
			meta:       policy.Metadata{FileExtension: "ZIP", FileSize: 10},
			wantRules:  []string{"archives"},
			wantAction: policy.ActionAudit,
		},
		{
			name:       "archive by content id",
			meta:       policy.Metadata{ContentID: "/home/u/export.7z", FileSize: 10},
			wantRules:  []string{"archives"},
			wantAction: policy.ActionAudit,
		},
		{
			name:       "large file",
			meta:       policy.Metadata{FileExtension: "pdf", FileSize: 4096},
			wantRules:  []string{"large"},
			wantAction: policy.ActionNotify,
		},
		{
			name:       "subdomain destination",
			meta:       policy.Metadata{Destination: "mail.GMAIL.com"},
			wantRules:  []string{"personal-mail"},
			wantAction: policy.ActionQuarantine,
		},
		{
			name:       "lookalike domain",
			meta:       policy.Metadata{Destination: "notgmail.com"},
			wantAction: policy.ActionAllow,
		},
		{
			name:       "many recipients",
			meta:       policy.Metadata{RecipientCount: 25},
			wantRules:  []string{"mass-mail"},
			wantAction: policy.ActionNotify,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Scan([]byte("hello"), policy.ChannelEmail, tt.meta)
			if got := result.RuleIDs(); !reflect.DeepEqual(got, tt.wantRules) {
				t.Errorf("RuleIDs() = %v, want %v", got, tt.wantRules)
			}
			if result.Action != tt.wantAction {
				t.Errorf("Action = %v, want %v", result.Action, tt.wantAction)
			}
			for _, m := range result.Matches {
				if m.Kind != policy.MatchMetadata || m.Confidence != MetadataConfidence {
					t.Errorf("match %+v has wrong kind or confidence", m)
				}
			}
		})
	}
}

func TestEngine_Truncation(t *testing.T) {
	src := &staticSource{bundle: &policy.Bundle{Version: 1, Rules: []policy.Rule{creditCardRule()}}}
	cfg := DefaultConfig()
	cfg.MaxScanBytes = 32
	e, err := New(src, cfg, quietLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	content := []byte(strings.Repeat("x ", 20) + "4111111111111111")
	result := e.Scan(content, policy.ChannelFile, policy.Metadata{})

	if !result.Truncated {
		t.Error("expected Truncated")
	}
	if len(result.Matches) != 0 {
		t.Errorf("match beyond the scan limit was reported: %+v", result.Matches)
	}
}

func TestEngine_TruncatedFileSize(t *testing.T) {
	src := &staticSource{bundle: &policy.Bundle{Version: 1, Rules: []policy.Rule{
		{ID: "large", Kind: policy.KindFileSize, MinSize: 48, Severity: policy.SeverityMedium, Action: policy.ActionNotify, Enabled: true},
	}}}
	cfg := DefaultConfig()
	cfg.MaxScanBytes = 32
	e, err := New(src, cfg, quietLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	result := e.Scan([]byte(strings.Repeat("x", 64)), policy.ChannelFile, policy.Metadata{})
	if !result.Truncated {
		t.Error("expected Truncated")
	}
	if got := result.RuleIDs(); !reflect.DeepEqual(got, []string{"large"}) {
		t.Fatalf("RuleIDs() = %v, want [large]", got)
	}
	if result.Matches[0].Text != "64 bytes" {
		t.Errorf("match text = %q, want full content length", result.Matches[0].Text)
	}
}

func TestEngine_Idempotent(t *testing.T) {
	fixed := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rules := []policy.Rule{
		creditCardRule(),
		{ID: "kw", Keywords: []string{"invoice"}, Severity: policy.SeverityLow, Action: policy.ActionAudit, Enabled: true},
	}
	e := newTestEngine(t, rules, func() time.Time { return fixed })
	content := []byte("invoice 4111111111111111 invoice")

	first := e.Scan(content, policy.ChannelFile, policy.Metadata{ContentID: "a"})
	second := e.Scan(content, policy.ChannelFile, policy.Metadata{ContentID: "a"})

	if first.ID == second.ID {
		t.Error("scan ids should be unique")
	}
	first.ID, second.ID = "", ""
	first.Duration, second.Duration = 0, 0
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated scans differ:\n%+v\n%+v", first, second)
	}
}

func TestEngine_SnapshotSwap(t *testing.T) {
	src := &staticSource{bundle: &policy.Bundle{Version: 1}}
	e, err := New(src, nil, quietLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if r := e.Scan([]byte("4111111111111111"), policy.ChannelFile, policy.Metadata{}); r.Action != policy.ActionAllow {
		t.Fatalf("Action = %v before update, want allow", r.Action)
	}

	next := &policy.Bundle{Version: 2, Rules: []policy.Rule{creditCardRule()}}
	src.set(next)
	e.Prepare(next)

	r := e.Scan([]byte("4111111111111111"), policy.ChannelFile, policy.Metadata{})
	if r.Action != policy.ActionBlock || r.PolicyVersion != 2 {
		t.Errorf("got action %v version %d, want block at version 2", r.Action, r.PolicyVersion)
	}
}

func TestEngine_ConcurrentScans(t *testing.T) {
	e := newTestEngine(t, []policy.Rule{creditCardRule()}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r := e.Scan([]byte("card 4111111111111111"), policy.ChannelFile, policy.Metadata{})
				if r.Action != policy.ActionBlock {
					t.Errorf("Action = %v, want block", r.Action)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestMaskText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "***"},
		{"abcd", "****"},
		{"abcde", "*bcde"},
		{"4111111111111111", "************1111"},
		{strings.Repeat("a", 100) + "1234", strings.Repeat("*", 60) + "1234"},
	}
	for _, tt := range tests {
		if got := MaskText(tt.in); got != tt.want {
			t.Errorf("MaskText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func BenchmarkEngine_Scan(b *testing.B) {
	src := &staticSource{bundle: &policy.Bundle{Version: 1, Rules: []policy.Rule{
		creditCardRule(),
		{ID: "kw", Keywords: []string{"confidential", "internal only"}, Severity: policy.SeverityMedium, Action: policy.ActionNotify, Enabled: true},
	}}}
	e, err := New(src, nil, quietLogger())
	if err != nil {
		b.Fatal(err)
	}
	content := []byte(strings.Repeat("lorem ipsum dolor sit amet ", 400) + "4111111111111111")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Scan(content, policy.ChannelFile, policy.Metadata{})
	}
}
