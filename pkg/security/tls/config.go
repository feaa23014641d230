package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"
)

// ClientConfig builds the crypto/tls configuration used for connections to
// the management server. The system roots are trusted together with
// CAFile. When reloader is non-nil its certificate is presented as the
// device client certificate.
func ClientConfig(cfg *config.TLSConfig, reloader *CertificateReloader) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tls config cannot be nil")
	}

	minVersion, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	roots, err := loadRoots(cfg.CAFile)
	if err != nil {
		return nil, err
	}

	// #nosec G402 - MinVersion is validated (TLS 1.0/1.1 rejected)
	tlsConfig := &tls.Config{
		MinVersion: minVersion,
		RootCAs:    roots,
		ServerName: cfg.ServerName,
	}
	if reloader != nil {
		tlsConfig.GetClientCertificate = reloader.GetClientCertificateFunc()
	}

	return tlsConfig, nil
}

// NewHTTPClient returns an HTTP client for the management server. If a
// client certificate is configured, the returned reloader must be started
// before the first request; it is nil otherwise.
func NewHTTPClient(cfg *config.TLSConfig, timeout time.Duration, logger *slog.Logger) (*http.Client, *CertificateReloader, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("tls config cannot be nil")
	}

	var reloader *CertificateReloader
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, nil, fmt.Errorf("cert_file and key_file must be set together")
		}
		reloader = NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval, logger)
	}

	tlsConfig, err := ClientConfig(cfg, reloader)
	if err != nil {
		return nil, nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return &http.Client{Transport: transport, Timeout: timeout}, reloader, nil
}

// parseTLSVersion converts a version string to a tls.Version constant.
// "" selects TLS 1.2. TLS 1.0 and 1.1 are not supported.
func parseTLSVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q: must be '1.2' or '1.3'", v)
	}
}

// loadRoots returns the system pool extended with the certificates in
// caFile.
func loadRoots(caFile string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if caFile == "" {
		return pool, nil
	}

	// #nosec G304 - CA file path comes from operator configuration
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file %s: %w", caFile, err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA file %s", caFile)
	}
	return pool, nil
}
