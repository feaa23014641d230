package secrets

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// EnvProvider loads secrets from environment variables.
//
// Secret names are upper-cased, hyphens become underscores and the prefix
// is prepended: with prefix "NEXTGUARD_SECRET_" the secret "sync-token" is
// read from NEXTGUARD_SECRET_SYNC_TOKEN.
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider creates a new environment variable secret provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{
		Prefix: prefix,
	}
}

// GetSecret retrieves a secret from an environment variable.
func (p *EnvProvider) GetSecret(ctx context.Context, name string) (string, error) {
	envVar := p.secretNameToEnvVar(name)

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("secret not found in environment: %s (env var: %s)", name, envVar)
	}

	return value, nil
}

// ListSecrets returns the names of all prefixed environment variables.
func (p *EnvProvider) ListSecrets(ctx context.Context) ([]string, error) {
	var secrets []string

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, p.Prefix) {
			continue
		}

		envVarName, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}

		secrets = append(secrets, p.envVarToSecretName(envVarName))
	}

	sort.Strings(secrets)
	return secrets, nil
}

// Provider returns the provider name.
func (p *EnvProvider) Provider() string {
	return "env"
}

// Supports always returns true: the environment is the fallback provider.
func (p *EnvProvider) Supports(name string) bool {
	return true
}

// secretNameToEnvVar converts "sync-token" to "NEXTGUARD_SECRET_SYNC_TOKEN".
func (p *EnvProvider) secretNameToEnvVar(name string) string {
	return p.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// envVarToSecretName converts "NEXTGUARD_SECRET_SYNC_TOKEN" to "sync-token".
func (p *EnvProvider) envVarToSecretName(envVar string) string {
	name := strings.TrimPrefix(envVar, p.Prefix)
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}
