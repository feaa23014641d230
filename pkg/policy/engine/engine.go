package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

// DefaultMaxScanBytes is the default amount of content inspected per scan.
const DefaultMaxScanBytes = 10 << 20

// Confidence assigned to each match kind.
const (
	PatternConfidence  = 0.9
	KeywordConfidence  = 0.6
	MetadataConfidence = 1.0
)

// Snapshotter returns the currently installed bundle. The policy store
// implements it.
type Snapshotter interface {
	Current() *policy.Bundle
}

// Config contains configuration for the inspection engine.
type Config struct {
	// MaxScanBytes limits how much content is inspected. Longer content is
	// truncated and the result is flagged.
	// Default: 10 MiB
	MaxScanBytes int64

	// RiskWeights configures the aggregate risk score.
	RiskWeights RiskWeights

	// Clock returns the current time. Schedules are evaluated against it.
	// Default: time.Now
	Clock func() time.Time
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxScanBytes: DefaultMaxScanBytes,
		RiskWeights:  DefaultRiskWeights(),
		Clock:        time.Now,
	}
}

// Engine evaluates content against the current policy snapshot.
type Engine struct {
	source   Snapshotter
	patterns *PatternCache
	config   *Config
	logger   *slog.Logger
}

// New creates an inspection engine reading bundles from source.
func New(source Snapshotter, config *Config, logger *slog.Logger) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("snapshot source cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxScanBytes <= 0 {
		config.MaxScanBytes = DefaultMaxScanBytes
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		source:   source,
		patterns: NewPatternCache(logger),
		config:   config,
		logger:   logger.With("component", "engine"),
	}
	if b := source.Current(); b != nil {
		e.Prepare(b)
	}
	return e, nil
}

// Prepare compiles the patterns of b ahead of the first scan. It is
// registered as a policy store install hook so compile failures are
// reported when a bundle is loaded rather than during scans.
func (e *Engine) Prepare(b *policy.Bundle) {
	failed := e.patterns.Warm(b.Rules)
	e.logger.Info("policy bundle prepared",
		"version", b.Version,
		"rules", len(b.Rules),
		"patterns", e.patterns.Len(),
		"failed_patterns", failed,
	)
}

// Patterns exposes the pattern cache.
func (e *Engine) Patterns() *PatternCache {
	return e.patterns
}

// Scan inspects content seen on channel and returns the scan result. It
// reads the current bundle once, so a concurrent policy install never mixes
// rules from two versions within one scan.
func (e *Engine) Scan(content []byte, channel policy.Channel, meta policy.Metadata) policy.ScanResult {
	start := time.Now()
	now := e.config.Clock()

	result := policy.ScanResult{
		ID:        uuid.NewString(),
		Channel:   channel,
		Timestamp: now,
		ContentID: meta.ContentID,
	}
	if len(content) > 0 {
		sum := sha256.Sum256(content)
		result.ContentHash = hex.EncodeToString(sum[:])
	}

	if meta.FileSize <= 0 {
		meta.FileSize = int64(len(content))
	}
	if int64(len(content)) > e.config.MaxScanBytes {
		content = content[:e.config.MaxScanBytes]
		result.Truncated = true
	}

	bundle := e.source.Current()
	if bundle != nil {
		result.PolicyVersion = bundle.Version
		result.Matches = e.Evaluate(bundle, content, channel, meta, now)
	}

	result.HighestSeverity = HighestSeverity(result.Matches)
	result.Action = Resolve(result.Matches)
	result.RiskScore, result.RiskLevel = e.config.RiskWeights.Score(result.Matches)
	result.Duration = time.Since(start)

	return result
}

// Evaluate runs every applicable rule of bundle against content and returns
// the contributing matches in rule order. It is a pure function of its
// arguments and the pattern cache.
func (e *Engine) Evaluate(bundle *policy.Bundle, content []byte, channel policy.Channel, meta policy.Metadata, now time.Time) []policy.Match {
	s := &scanText{raw: string(content)}

	var matches []policy.Match
	for _, rule := range bundle.Rules {
		if !rule.Enabled || !rule.AppliesTo(channel) {
			continue
		}
		if !ScheduleActive(rule.Schedule, rule.Severity, now) {
			continue
		}

		var found []policy.Match
		switch rule.EffectiveKind() {
		case policy.KindContent:
			found = e.matchContent(rule, s)
		default:
			found = matchMetadata(rule, int64(len(content)), meta)
		}

		total := 0
		for _, m := range found {
			total += m.Count
		}
		if total > 0 && total >= rule.EffectiveThreshold() {
			matches = append(matches, found...)
		}
	}
	return matches
}

// scanText holds the content as a string and lazily its lower-cased form.
type scanText struct {
	raw   string
	lower string
	low   bool
}

func (s *scanText) lowered() string {
	if !s.low {
		s.lower = strings.ToLower(s.raw)
		s.low = true
	}
	return s.lower
}

// matchContent returns nil for a rule with any pattern that does not
// compile; the broken rule is skipped as a whole.
func (e *Engine) matchContent(rule policy.Rule, s *scanText) []policy.Match {
	compiled := make([]*regexp.Regexp, 0, len(rule.Patterns))
	for _, pattern := range rule.Patterns {
		re, err := e.patterns.get(pattern, rule.ID)
		if err != nil {
			return nil
		}
		compiled = append(compiled, re)
	}

	var found []policy.Match
	for _, re := range compiled {
		locs := re.FindAllStringIndex(s.raw, -1)
		if len(locs) == 0 {
			continue
		}
		first := s.raw[locs[0][0]:locs[0][1]]
		found = append(found, newMatch(rule, policy.MatchPattern, MaskText(first), len(locs), PatternConfidence))
	}

	for _, kw := range rule.Keywords {
		if kw == "" {
			continue
		}
		n := strings.Count(s.lowered(), strings.ToLower(kw))
		if n == 0 {
			continue
		}
		found = append(found, newMatch(rule, policy.MatchKeyword, kw, n, KeywordConfidence))
	}

	return found
}

func matchMetadata(rule policy.Rule, contentLen int64, meta policy.Metadata) []policy.Match {
	var text string
	switch rule.EffectiveKind() {
	case policy.KindFileType:
		ext := normalizeExt(meta.FileExtension)
		if ext == "" && meta.ContentID != "" {
			ext = normalizeExt(filepath.Ext(meta.ContentID))
		}
		if ext == "" {
			return nil
		}
		for _, ft := range rule.FileTypes {
			if normalizeExt(ft) == ext {
				text = "." + ext
				break
			}
		}

	case policy.KindFileSize:
		size := meta.FileSize
		if size <= 0 {
			size = contentLen
		}
		if (rule.MinSize <= 0 || size >= rule.MinSize) && (rule.MaxSize <= 0 || size <= rule.MaxSize) {
			text = fmt.Sprintf("%d bytes", size)
		}

	case policy.KindDestinationDomain:
		host := strings.TrimSuffix(strings.ToLower(meta.Destination), ".")
		if host == "" {
			return nil
		}
		for _, d := range rule.Domains {
			d = strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(d), "*"), ".")
			if d != "" && (host == d || strings.HasSuffix(host, "."+d)) {
				text = host
				break
			}
		}

	case policy.KindRecipientCount:
		if meta.RecipientCount >= rule.MinRecipients {
			text = fmt.Sprintf("%d recipients", meta.RecipientCount)
		}
	}

	if text == "" {
		return nil
	}
	return []policy.Match{newMatch(rule, policy.MatchMetadata, text, 1, MetadataConfidence)}
}

func newMatch(rule policy.Rule, kind policy.MatchKind, text string, count int, confidence float64) policy.Match {
	return policy.Match{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Kind:       kind,
		Text:       text,
		Count:      count,
		Confidence: confidence,
		Severity:   rule.Severity,
		Action:     rule.Action,
		Compliance: rule.Compliance,
	}
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// maxMaskedRunes bounds the length of the redacted match text.
const maxMaskedRunes = 64

// MaskText redacts matched content, keeping only the last four characters.
func MaskText(s string) string {
	runes := []rune(s)
	if len(runes) > maxMaskedRunes {
		runes = runes[len(runes)-maxMaskedRunes:]
	}
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}
