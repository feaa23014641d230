// Package watcher installs signed policy bundles dropped into an import
// directory, for devices that cannot reach the management server.
//
// Each bundle file goes through the same store checks as a synced bundle.
// A processed file is renamed with an ".installed" or ".rejected" suffix
// so it is never imported twice; rejections are written to the audit chain.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

// Suffixes appended to processed bundle files.
const (
	SuffixInstalled = ".installed"
	SuffixRejected  = ".rejected"
)

// Installer is the policy store as seen by the watcher.
type Installer interface {
	Install(candidate *policy.Bundle) error
	Version() int64
}

// Auditor records rejected bundles.
type Auditor interface {
	Append(ctx context.Context, d audit.Draft) (audit.Record, error)
}

// Config contains configuration for the import watcher.
type Config struct {
	// Dir is the import directory.
	Dir string

	// Debounce is the quiet period after the last file event before the
	// changed files are imported.
	// Default: 500ms
	Debounce time.Duration

	// Extensions are the bundle file extensions.
	// Default: [".json"]
	Extensions []string
}

// Watcher watches the import directory for bundle files.
type Watcher struct {
	config   Config
	fsw      *fsnotify.Watcher
	store    Installer
	auditor  Auditor
	logger   *slog.Logger
	debounce *Debouncer

	pendingMu sync.Mutex
	pending   map[string]struct{}
	importMu  sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates an import watcher. auditor may be nil.
func New(config Config, store Installer, auditor Auditor, logger *slog.Logger) (*Watcher, error) {
	if config.Dir == "" {
		return nil, errors.New("import directory cannot be empty")
	}
	if store == nil {
		return nil, errors.New("policy store cannot be nil")
	}
	if config.Debounce <= 0 {
		config.Debounce = 500 * time.Millisecond
	}
	if len(config.Extensions) == 0 {
		config.Extensions = []string{".json"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create import directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		config:   config,
		fsw:      fsw,
		store:    store,
		auditor:  auditor,
		logger:   logger.With("component", "policy.watcher"),
		debounce: NewDebouncer(config.Debounce),
		pending:  make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Run imports the bundles already in the directory and then watches it
// until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer close(w.doneCh)

	if err := w.fsw.Add(w.config.Dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.config.Dir, err)
	}

	w.logger.Info("policy import watcher started",
		"dir", w.config.Dir,
		"debounce_ms", w.config.Debounce.Milliseconds(),
	)

	if _, err := w.ImportAll(ctx); err != nil {
		w.logger.Error("initial policy import failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("policy import watcher stopped (context cancelled)")
			return nil

		case <-w.stopCh:
			w.logger.Info("policy import watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.shouldProcess(event) {
				continue
			}

			w.logger.Debug("import file event", "path", event.Name, "op", event.Op.String())

			w.pendingMu.Lock()
			w.pending[event.Name] = struct{}{}
			w.pendingMu.Unlock()

			w.debounce.Trigger(func() { w.importPending(ctx) })

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("policy import watcher error", "error", err)
		}
	}
}

// Stop stops the watcher and waits for Run to return.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsw.Close()
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	<-w.doneCh
	w.debounce.Stop()
	// Wait for an import already in progress.
	w.importMu.Lock()
	defer w.importMu.Unlock()

	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// ImportAll imports every unprocessed bundle file in the directory and
// returns how many were installed.
func (w *Watcher) ImportAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return 0, fmt.Errorf("read import directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !w.isBundleFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.config.Dir, e.Name()))
	}
	return w.importFiles(ctx, paths), nil
}

func (w *Watcher) importPending(ctx context.Context) {
	w.pendingMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	w.importFiles(ctx, paths)
}

// importFiles imports paths in file name order.
func (w *Watcher) importFiles(ctx context.Context, paths []string) int {
	w.importMu.Lock()
	defer w.importMu.Unlock()

	sort.Strings(paths)
	installed := 0
	for _, path := range paths {
		ok, err := w.importFile(ctx, path)
		if err != nil {
			w.logger.Warn("policy import skipped", "path", path, "error", err)
			continue
		}
		if ok {
			installed++
		}
	}
	return installed
}

// importFile installs one bundle file. It reports false without error when
// the store rejected the bundle.
func (w *Watcher) importFile(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is inside the configured import dir
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	bundle, err := policy.DecodeBundle(data)
	if err != nil {
		err = &policy.RejectError{Reason: policy.RejectMalformedBundle, Current: w.store.Version(), Cause: err}
	} else {
		err = w.store.Install(bundle)
	}

	var reject *policy.RejectError
	switch {
	case err == nil:
		w.logger.Info("imported policy bundle", "path", path, "version", bundle.Version)
		return true, w.markProcessed(path, SuffixInstalled)
	case errors.As(err, &reject):
		w.rejected(ctx, path, reject)
		return false, w.markProcessed(path, SuffixRejected)
	default:
		return false, err
	}
}

func (w *Watcher) markProcessed(path, suffix string) error {
	if err := os.Rename(path, path+suffix); err != nil {
		return fmt.Errorf("mark bundle file processed: %w", err)
	}
	return nil
}

func (w *Watcher) rejected(ctx context.Context, path string, reject *policy.RejectError) {
	w.logger.Error("imported policy bundle rejected",
		"path", path,
		"reason", reject.Reason.String(),
		"candidate_version", reject.Candidate,
		"current_version", reject.Current,
	)
	if w.auditor == nil {
		return
	}
	_, err := w.auditor.Append(ctx, audit.Draft{
		Category:      audit.CategoryConfig,
		Severity:      policy.SeverityCritical,
		Outcome:       audit.OutcomeRejected,
		Actor:         "policy-import",
		Description:   "policy bundle rejected: " + reject.Reason.String(),
		PolicyVersion: reject.Current,
		Metadata: map[string]string{
			"reason":            reject.Reason.String(),
			"candidate_version": strconv.FormatInt(reject.Candidate, 10),
			"file":              filepath.Base(path),
		},
	})
	if err != nil {
		w.logger.Error("failed to audit policy rejection", "error", err)
	}
}

func (w *Watcher) shouldProcess(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	return w.isBundleFile(filepath.Base(event.Name))
}

func (w *Watcher) isBundleFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, valid := range w.config.Extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}
