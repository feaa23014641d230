// Package quarantine keeps encrypted copies of content the agent blocked
// with the quarantine action, so an administrator can review or release it.
//
// Each item is sealed with AES-256-GCM under a key derived from the agent
// master key and stored as <id>.sealed. Items are addressed by the scan
// result ID, which must be a UUID.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
)

// Extension of sealed files.
const Extension = ".sealed"

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("quarantined item not found")

// Vault stores sealed content under a directory.
type Vault struct {
	dir    string
	sealer *keys.Sealer
	logger *slog.Logger
}

// New creates a vault in dir, creating it with mode 0700 if needed.
func New(dir string, sealer *keys.Sealer, logger *slog.Logger) (*Vault, error) {
	if dir == "" {
		return nil, errors.New("quarantine directory cannot be empty")
	}
	if sealer == nil {
		return nil, errors.New("sealer cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create quarantine directory: %w", err)
	}
	return &Vault{
		dir:    dir,
		sealer: sealer,
		logger: logger.With("component", "quarantine"),
	}, nil
}

// Put seals content and stores it under id. It returns the file path.
func (v *Vault) Put(ctx context.Context, id string, content []byte) (string, error) {
	path, err := v.path(id)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sealed, err := v.sealer.Seal(content)
	if err != nil {
		return "", fmt.Errorf("seal quarantined content: %w", err)
	}

	tmp, err := os.CreateTemp(v.dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("create quarantine file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write quarantine file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync quarantine file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close quarantine file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store quarantine file: %w", err)
	}

	v.logger.Info("content quarantined", "id", id, "bytes", len(content))
	return path, nil
}

// Get opens the item stored under id.
func (v *Vault) Get(ctx context.Context, id string) ([]byte, error) {
	path, err := v.path(id)
	if err != nil {
		return nil, err
	}
	sealed, err := os.ReadFile(path) // #nosec G304 - id is a validated UUID
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read quarantine file: %w", err)
	}
	content, err := v.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("open quarantine file %s: %w", id, err)
	}
	return content, nil
}

// Delete removes the item stored under id.
func (v *Vault) Delete(ctx context.Context, id string) error {
	path, err := v.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete quarantine file: %w", err)
	}
	v.logger.Info("quarantined item released", "id", id)
	return nil
}

// List returns the ids of stored items.
func (v *Vault) List() ([]string, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, fmt.Errorf("read quarantine directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != Extension {
			continue
		}
		id := name[:len(name)-len(Extension)]
		if _, err := uuid.Parse(id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Dir returns the vault directory.
func (v *Vault) Dir() string {
	return v.dir
}

func (v *Vault) path(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid quarantine id %q: %w", id, err)
	}
	return filepath.Join(v.dir, parsed.String()+Extension), nil
}
