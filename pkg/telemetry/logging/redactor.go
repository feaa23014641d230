package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"
)

// Redactor masks sensitive values in log output. Inspected content and the
// snippets around matches must never reach a log file, so both pattern
// matches and whole values under sensitive keys are replaced.
type Redactor struct {
	patterns []*redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternAWSKey      = "aws_access_key"
	PatternPrivateKey  = "private_key"
	PatternPassword    = "password"
	PatternEmail       = "email"
	PatternCreditCard  = "credit_card"
	PatternSSN         = "ssn"
	PatternHKID        = "hkid"
)

// Patterns are applied in order; credentials go first so a token is never
// partially rewritten by a broader pattern.
var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
}{
	{PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternAWSKey, `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`, "AKIA***"},
	{PatternPrivateKey, `-----BEGIN [A-Z ]*PRIVATE KEY-----`, "[private key]"},
	{PatternPassword, `(?i)(password|passwd|pwd)[:=]\s*[^\s]+`, "$1: ***"},
	{PatternEmail, `[a-zA-Z0-9._%+-]+@([a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`, "***@$1"},
	{PatternCreditCard, `\b(?:\d[ -]?){12,18}\d\b`, "****-****-****-****"},
	{PatternSSN, `\b\d{3}-\d{2}-\d{4}\b`, "***-**-****"},
	{PatternHKID, `\b[A-Z]{1,2}\d{6}\([0-9A]\)`, "*******(*)"},
}

// Keys whose values are replaced entirely.
var sensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"authorization", "private_key", "privatekey",
	"content", "snippet",
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// customPatterns. An invalid custom pattern is an error.
func NewRedactor(customPatterns []config.RedactPattern) (*Redactor, error) {
	r := &Redactor{}

	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}

	for _, p := range customPatterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid redact pattern %q: %w", p.Name, err)
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = "***"
		}
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: replacement,
		})
	}

	return r, nil
}

// RedactString redacts sensitive substrings of value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}

	redacted := value
	for _, pattern := range r.patterns {
		redacted = pattern.regex.ReplaceAllString(redacted, pattern.replacement)
	}

	return redacted
}

// RedactAttr returns a with sensitive values masked. Groups are redacted
// recursively; errors are redacted through their message.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()

	if isSensitiveKey(a.Key) && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redactValue(a.Value))
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		redacted := make([]slog.Attr, len(group))
		for i, ga := range group {
			redacted[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(redacted...)}
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case error:
			return slog.String(a.Key, r.RedactString(v.Error()))
		case fmt.Stringer:
			return slog.String(a.Key, r.RedactString(v.String()))
		case []byte:
			return slog.String(a.Key, redactValue(a.Value))
		}
	}
	return a
}

// isSensitiveKey checks if a key name indicates sensitive data. Digests
// (content_hash, body_hash) are not.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	if strings.HasSuffix(lowerKey, "_hash") {
		return false
	}
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

// redactValue masks a value completely, keeping its length as a hint.
func redactValue(v slog.Value) string {
	var n int
	switch v.Kind() {
	case slog.KindString:
		n = len(v.String())
	default:
		if b, ok := v.Any().([]byte); ok {
			n = len(b)
		}
	}
	if n == 0 {
		return "***"
	}
	return fmt.Sprintf("***(%d bytes)", n)
}
