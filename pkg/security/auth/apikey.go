package auth

import (
	"crypto/sha256"
	"errors"
	"sort"
	"sync"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"
)

var (
	// ErrInvalidKey is returned for keys that are not configured.
	ErrInvalidKey = errors.New("invalid API key")

	// ErrKeyDisabled is returned for configured keys with enabled: false.
	ErrKeyDisabled = errors.New("API key disabled")
)

// APIKeyValidator validates API keys against a configured set of keys.
// Keys are indexed by their SHA-256 digest so lookups do not compare the
// raw secret.
type APIKeyValidator struct {
	mu   sync.RWMutex
	keys map[[sha256.Size]byte]*APIKeyInfo
}

// NewAPIKeyValidator creates a new API key validator with the given keys
func NewAPIKeyValidator(keys []*APIKeyInfo) *APIKeyValidator {
	keyMap := make(map[[sha256.Size]byte]*APIKeyInfo, len(keys))
	for _, key := range keys {
		keyMap[sha256.Sum256([]byte(key.Key))] = key
	}

	return &APIKeyValidator{
		keys: keyMap,
	}
}

// KeysFromConfig converts status_auth keys. A key without an explicit
// enabled flag is enabled.
func KeysFromConfig(cfg *config.StatusAuthConfig) []*APIKeyInfo {
	if cfg == nil {
		return nil
	}
	keys := make([]*APIKeyInfo, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		enabled := true
		if k.Enabled != nil {
			enabled = *k.Enabled
		}
		keys = append(keys, &APIKeyInfo{Key: k.Key, Name: k.Name, Enabled: enabled})
	}
	return keys
}

// Validate checks if the given API key is valid and returns its info
func (v *APIKeyValidator) Validate(key string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	info, ok := v.keys[sha256.Sum256([]byte(key))]
	if !ok {
		return nil, ErrInvalidKey
	}

	if !info.Enabled {
		return nil, ErrKeyDisabled
	}

	return info, nil
}

// List returns all configured API keys ordered by name.
func (v *APIKeyValidator) List() []*APIKeyInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]*APIKeyInfo, 0, len(v.keys))
	for _, key := range v.keys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys
}
