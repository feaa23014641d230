package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Source types for APIKeySource.
const (
	SourceHeader = "header"
	SourceQuery  = "query"
)

// APIKeySource defines where to extract API keys from
type APIKeySource struct {
	Type   string // header, query
	Name   string // Header name or query param
	Scheme string // "Bearer", etc. (optional)
}

// DefaultSources accepts "Authorization: Bearer <key>" and "X-API-Key".
func DefaultSources() []APIKeySource {
	return []APIKeySource{
		{Type: SourceHeader, Name: "Authorization", Scheme: "Bearer"},
		{Type: SourceHeader, Name: "X-API-Key"},
	}
}

var errNoKey = errors.New("no API key found")

// APIKeyMiddleware is HTTP middleware for API key authentication
type APIKeyMiddleware struct {
	store   APIKeyStore
	sources []APIKeySource
	logger  *slog.Logger
}

// NewAPIKeyMiddleware creates a new API key authentication middleware.
// Empty sources select DefaultSources.
func NewAPIKeyMiddleware(store APIKeyStore, sources []APIKeySource, logger *slog.Logger) *APIKeyMiddleware {
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyMiddleware{
		store:   store,
		sources: sources,
		logger:  logger.With("component", "auth"),
	}
}

// Handle wraps an HTTP handler with API key authentication
func (m *APIKeyMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey, err := m.extractAPIKey(r)
		if err != nil {
			m.logger.Warn("missing API key",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			unauthorized(w)
			return
		}

		keyInfo, err := m.store.Validate(apiKey)
		if err != nil {
			m.logger.Warn("rejected API key",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			unauthorized(w)
			return
		}

		m.logger.Debug("API key authenticated",
			"key_name", keyInfo.Name,
			"path", r.URL.Path,
		)

		ctx := context.WithValue(r.Context(), apiKeyInfoKey, keyInfo)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="nextguard-agent"`)
	http.Error(w, "Missing or invalid API key", http.StatusUnauthorized)
}

// extractAPIKey extracts the API key from the request using configured sources
func (m *APIKeyMiddleware) extractAPIKey(r *http.Request) (string, error) {
	for _, source := range m.sources {
		switch source.Type {
		case SourceHeader:
			value := r.Header.Get(source.Name)
			if value == "" {
				continue
			}
			if source.Scheme == "" {
				return value, nil
			}
			if key, ok := strings.CutPrefix(value, source.Scheme+" "); ok {
				return key, nil
			}

		case SourceQuery:
			if value := r.URL.Query().Get(source.Name); value != "" {
				return value, nil
			}
		}
	}

	return "", errNoKey
}

type contextKey string

// #nosec G101 - This is a context key constant, not a credential
const apiKeyInfoKey contextKey = "api_key_info"

// GetAPIKeyInfo retrieves API key info from request context
func GetAPIKeyInfo(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyInfoKey).(*APIKeyInfo)
	return info, ok
}
