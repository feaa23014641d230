package engine

import (
	"log/slog"
	"regexp"
	"sync"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

// PatternCache caches compiled rule patterns keyed by pattern string.
// Compile failures are cached as well so that a bad pattern is compiled and
// reported exactly once.
type PatternCache struct {
	mu      sync.RWMutex
	entries map[string]*patternEntry
	logger  *slog.Logger
}

type patternEntry struct {
	re  *regexp.Regexp
	err error
}

// NewPatternCache creates an empty pattern cache.
func NewPatternCache(logger *slog.Logger) *PatternCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &PatternCache{
		entries: make(map[string]*patternEntry),
		logger:  logger.With("component", "engine.patterns"),
	}
}

// Get returns the compiled matcher for pattern, compiling it on first use.
func (c *PatternCache) Get(pattern string) (*regexp.Regexp, error) {
	return c.get(pattern, "")
}

func (c *PatternCache) get(pattern, ruleID string) (*regexp.Regexp, error) {
	c.mu.RLock()
	entry, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return entry.re, entry.err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have compiled it while we waited for the lock.
	if entry, ok := c.entries[pattern]; ok {
		return entry.re, entry.err
	}

	re, err := regexp.Compile(pattern)
	c.entries[pattern] = &patternEntry{re: re, err: err}
	if err != nil {
		c.logger.Warn("rule pattern failed to compile, rule disabled",
			"rule_id", ruleID,
			"error", err,
		)
	}
	return re, err
}

// Warm compiles every pattern of rules and drops cached patterns that no
// longer appear in any rule. It returns the number of patterns that failed
// to compile.
func (c *PatternCache) Warm(rules []policy.Rule) int {
	live := make(map[string]struct{})
	failed := 0
	for _, r := range rules {
		for _, p := range r.Patterns {
			live[p] = struct{}{}
			if _, err := c.get(p, r.ID); err != nil {
				failed++
			}
		}
	}

	c.mu.Lock()
	for p := range c.entries {
		if _, ok := live[p]; !ok {
			delete(c.entries, p)
		}
	}
	c.mu.Unlock()

	return failed
}

// Len returns the number of cached patterns, including failed ones.
func (c *PatternCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
