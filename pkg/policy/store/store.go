// Package store holds the active policy bundle.
//
// Readers call Current, which is a single atomic load and never blocks.
// Install validates a candidate bundle, swaps it in, persists it to the
// local cache and notifies install listeners. A process restart resumes from
// the cached bundle after re-verifying its signature, or from the built-in
// defaults when no valid cache exists.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

// Origin says where the current bundle came from.
type Origin string

const (
	OriginBuiltin   Origin = "builtin"
	OriginCache     Origin = "cache"
	OriginInstalled Origin = "installed"
)

// InstallFunc is called after a bundle has been installed. prev is the
// bundle it replaced.
type InstallFunc func(prev, next *policy.Bundle)

// Config contains configuration for the policy store.
type Config struct {
	// CachePath is the file the installed bundle is persisted to. Empty
	// disables persistence.
	CachePath string

	// Verifier checks bundle signatures against the trusted server key.
	Verifier policy.Verifier
}

type snapshot struct {
	bundle *policy.Bundle
	origin Origin
}

// Store holds the current policy bundle.
type Store struct {
	current atomic.Pointer[snapshot]

	mu        sync.Mutex // serializes Install and listener registration
	listeners []InstallFunc

	verifier  policy.Verifier
	cachePath string
	logger    *slog.Logger
}

// Open creates a store, loading the cached bundle when it is present and
// verifies. Any cache problem is logged and the built-in defaults are used.
func Open(config Config, logger *slog.Logger) (*Store, error) {
	if config.Verifier == nil {
		return nil, errors.New("policy verifier cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		verifier:  config.Verifier,
		cachePath: config.CachePath,
		logger:    logger.With("component", "policy.store"),
	}

	bundle, err := s.loadCache()
	switch {
	case err == nil:
		s.current.Store(&snapshot{bundle: bundle, origin: OriginCache})
		s.logger.Info("policy bundle loaded from cache",
			"version", bundle.Version,
			"rules", len(bundle.Rules),
			"path", s.cachePath,
		)
	case errors.Is(err, fs.ErrNotExist):
		s.current.Store(&snapshot{bundle: DefaultBundle(), origin: OriginBuiltin})
		s.logger.Info("no policy cache, using built-in rules", "path", s.cachePath)
	default:
		s.current.Store(&snapshot{bundle: DefaultBundle(), origin: OriginBuiltin})
		s.logger.Warn("policy cache unusable, using built-in rules",
			"path", s.cachePath,
			"error", err,
		)
	}

	return s, nil
}

// Current returns the installed bundle. The returned bundle must not be
// modified.
func (s *Store) Current() *policy.Bundle {
	return s.current.Load().bundle
}

// Version returns the installed bundle version; zero for the built-in rules.
func (s *Store) Version() int64 {
	return s.current.Load().bundle.Version
}

// Origin reports where the current bundle came from.
func (s *Store) Origin() Origin {
	return s.current.Load().origin
}

// OnInstall registers fn to be called after every successful install.
func (s *Store) OnInstall(fn InstallFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Install validates candidate and makes it current. It returns a
// *policy.RejectError when the candidate is malformed, not newer than the
// installed bundle, or not signed by the trusted key; the installed bundle
// is then left unchanged.
//
// The store keeps its own copy of the candidate, so the caller may reuse it.
func (s *Store) Install(candidate *policy.Bundle) error {
	s.mu.Lock()

	prev := s.current.Load().bundle
	if err := s.check(candidate, prev); err != nil {
		s.mu.Unlock()
		s.logger.Warn("policy bundle rejected",
			"reason", policy.ReasonOf(err).String(),
			"candidate_version", versionOf(candidate),
			"current_version", prev.Version,
			"error", err,
		)
		return err
	}

	data, err := policy.EncodeBundle(candidate)
	if err != nil {
		s.mu.Unlock()
		return reject(policy.RejectMalformedBundle, candidate, prev, err)
	}
	next, err := policy.DecodeBundle(data)
	if err != nil {
		s.mu.Unlock()
		return reject(policy.RejectMalformedBundle, candidate, prev, err)
	}

	s.current.Store(&snapshot{bundle: next, origin: OriginInstalled})

	if err := s.persist(data); err != nil {
		s.logger.Error("failed to persist policy bundle",
			"version", next.Version,
			"path", s.cachePath,
			"error", err,
		)
	}

	listeners := make([]InstallFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.logger.Info("policy bundle installed",
		"version", next.Version,
		"previous_version", prev.Version,
		"rules", len(next.Rules),
	)

	for _, fn := range listeners {
		fn(prev, next)
	}
	return nil
}

// check applies the acceptance rules in order: malformed, stale, signature.
func (s *Store) check(candidate, current *policy.Bundle) error {
	if err := candidate.Validate(); err != nil {
		return reject(policy.RejectMalformedBundle, candidate, current, err)
	}
	if candidate.Version <= current.Version {
		return reject(policy.RejectStaleVersion, candidate, current, nil)
	}
	if err := candidate.VerifySignature(s.verifier); err != nil {
		return reject(policy.RejectInvalidSignature, candidate, current, err)
	}
	return nil
}

func reject(reason policy.RejectReason, candidate, current *policy.Bundle, cause error) error {
	return &policy.RejectError{
		Reason:    reason,
		Candidate: versionOf(candidate),
		Current:   current.Version,
		Cause:     cause,
	}
}

func versionOf(b *policy.Bundle) int64 {
	if b == nil {
		return 0
	}
	return b.Version
}

func (s *Store) loadCache() (*policy.Bundle, error) {
	if s.cachePath == "" {
		return nil, fs.ErrNotExist
	}

	// #nosec G304 - cache path comes from operator configuration.
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return nil, err
	}
	b, err := policy.DecodeBundle(data)
	if err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("cached bundle invalid: %w", err)
	}
	if err := b.VerifySignature(s.verifier); err != nil {
		return nil, fmt.Errorf("cached bundle signature: %w", err)
	}
	return b, nil
}

// persist writes data to the cache path through a temporary file and a
// rename so a crash never leaves a partially written cache.
func (s *Store) persist(data []byte) error {
	if s.cachePath == "" {
		return nil
	}

	dir := filepath.Dir(s.cachePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".policy-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.cachePath); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}
