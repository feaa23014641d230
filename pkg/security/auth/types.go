package auth

// APIKeyInfo represents an accepted status API key.
type APIKeyInfo struct {
	Key     string
	Name    string
	Enabled bool
}

// APIKeyStore validates API keys.
type APIKeyStore interface {
	Validate(key string) (*APIKeyInfo, error)
	List() []*APIKeyInfo
}
