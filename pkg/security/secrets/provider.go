package secrets

import "context"

// SecretProvider retrieves secrets from a backend.
type SecretProvider interface {
	// GetSecret retrieves a secret by name.
	GetSecret(ctx context.Context, name string) (string, error)

	// ListSecrets returns the secret names available from this provider.
	// Values are never included.
	ListSecrets(ctx context.Context) ([]string, error)

	// Provider returns the provider name (env, file).
	Provider() string

	// Supports indicates if this provider can serve the given name.
	Supports(name string) bool
}

// RefreshableProvider can drop what it has read so the next lookup goes
// back to the backend.
type RefreshableProvider interface {
	SecretProvider

	Refresh(ctx context.Context) error
}
