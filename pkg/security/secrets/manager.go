package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"
)

// secretRefRegex matches ${secret:name} patterns in configuration
var secretRefRegex = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Manager tries its providers in order until one returns a value.
// Resolved values are cached.
type Manager struct {
	providers []SecretProvider
	cache     *Cache
	logger    *slog.Logger
}

// NewManager creates a new secret manager with the given providers and cache config.
func NewManager(providers []SecretProvider, cacheConfig CacheConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: providers,
		cache:     NewCache(cacheConfig),
		logger:    logger.With("component", "secrets"),
	}
}

// NewFromConfig builds the agent's manager: the file provider (when
// file_dir is set) takes precedence over the environment.
func NewFromConfig(cfg *config.SecretsConfig, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("secrets config cannot be nil")
	}

	var providers []SecretProvider
	if cfg.FileDir != "" {
		fp, err := NewFileProvider(cfg.FileDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file secret provider: %w", err)
		}
		providers = append(providers, fp)
	}
	providers = append(providers, NewEnvProvider(cfg.EnvPrefix))

	return NewManager(providers, CacheConfig{
		Enabled: cfg.CacheTTL > 0,
		TTL:     cfg.CacheTTL,
	}, logger), nil
}

// GetSecret retrieves a secret from the first provider that supports it.
func (m *Manager) GetSecret(ctx context.Context, name string) (string, error) {
	if value, ok := m.cache.Get(name); ok {
		m.logger.Debug("secret cache hit", "name", redactSecretName(name))
		return value, nil
	}

	var lastErr error
	for _, provider := range m.providers {
		if !provider.Supports(name) {
			continue
		}

		value, err := provider.GetSecret(ctx, name)
		if err != nil {
			lastErr = err
			m.logger.Debug("provider failed to get secret",
				"provider", provider.Provider(),
				"name", redactSecretName(name),
				"error", err,
			)
			continue
		}

		m.cache.Set(name, value)

		m.logger.Debug("secret retrieved",
			"provider", provider.Provider(),
			"name", redactSecretName(name),
		)

		return value, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("failed to get secret %q: %w", name, lastErr)
	}

	return "", fmt.Errorf("secret not found: %q (no provider supports this secret)", name)
}

// ResolveReferences replaces ${secret:name} patterns with secret values.
// Unresolvable references are kept as-is in the output and reported in
// the returned error.
func (m *Manager) ResolveReferences(ctx context.Context, input string) (string, error) {
	var errs []string

	output := secretRefRegex.ReplaceAllStringFunc(input, func(match string) string {
		name := secretRefRegex.FindStringSubmatch(match)[1]
		value, err := m.GetSecret(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Sprintf("failed to resolve secret %q: %v", name, err))
			return match
		}
		return value
	})

	if len(errs) > 0 {
		return output, fmt.Errorf("failed to resolve secret references: %s", strings.Join(errs, "; "))
	}

	return output, nil
}

// Refresh reloads all refreshable providers and clears the cache.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []string
	for _, provider := range m.providers {
		refreshable, ok := provider.(RefreshableProvider)
		if !ok {
			continue
		}

		if err := refreshable.Refresh(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", provider.Provider(), err))
			m.logger.Error("failed to refresh provider",
				"provider", provider.Provider(),
				"error", err,
			)
		}
	}

	m.cache.Clear()

	if len(errs) > 0 {
		return fmt.Errorf("failed to refresh some providers: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ListSecrets returns the sorted union of secret names from all providers.
func (m *Manager) ListSecrets(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)

	for _, provider := range m.providers {
		names, err := provider.ListSecrets(ctx)
		if err != nil {
			m.logger.Warn("failed to list secrets from provider",
				"provider", provider.Provider(),
				"error", err,
			)
			continue
		}
		for _, name := range names {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// redactSecretName keeps the first and last two characters.
func redactSecretName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}
