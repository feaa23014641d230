package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns a configuration that passes validation.
func validConfig() *Config {
	cfg := Defaults()
	cfg.Policy.PublicKeyPath = "/etc/nextguard/policy.pub"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing public key", func(c *Config) { c.Policy.PublicKeyPath = "" }, "policy.public_key_path"},
		{"watch without dir", func(c *Config) { c.Policy.WatchImport = true }, "policy.import_dir"},
		{"max scan bytes", func(c *Config) { c.Agent.MaxScanBytes = 0 }, "agent.max_scan_bytes"},
		{"sync without url", func(c *Config) { c.Sync.Enabled = true }, "sync.base_url"},
		{"sync bad scheme", func(c *Config) {
			c.Sync.Enabled = true
			c.Sync.BaseURL = "ftp://console.example.com"
		}, "sync.base_url"},
		{"sync no host", func(c *Config) {
			c.Sync.Enabled = true
			c.Sync.BaseURL = "https://"
		}, "sync.base_url"},
		{"upload without url", func(c *Config) { c.Upload.Enabled = true }, "upload.base_url"},
		{"batch size", func(c *Config) { c.Upload.BatchSize = -1 }, "upload.batch_size"},
		{"queue backend", func(c *Config) { c.Upload.QueueBackend = "redis" }, "upload.queue_backend"},
		{"sqlite without path", func(c *Config) { c.Upload.QueuePath = "" }, "upload.queue_path"},
		{"negative retention", func(c *Config) { c.Audit.RetentionDays = -1 }, "audit.retention_days"},
		{"bad prune schedule", func(c *Config) { c.Audit.PruneSchedule = "every hour" }, "audit.prune_schedule"},
		{"segment age", func(c *Config) { c.Audit.MaxSegmentAge = 0 }, "audit.max_segment_age"},
		{"quarantine dir", func(c *Config) {
			c.Quarantine.Enabled = true
			c.Quarantine.Dir = ""
		}, "quarantine.dir"},
		{"log level", func(c *Config) { c.Telemetry.Logging.Level = "verbose" }, "telemetry.logging.level"},
		{"log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"redact pattern", func(c *Config) {
			c.Telemetry.Logging.RedactPatterns = []RedactPattern{{Name: "iban"}}
		}, "telemetry.logging.redact_patterns[0].pattern"},
		{"metrics path", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, "telemetry.metrics.path"},
		{"unsorted buckets", func(c *Config) {
			c.Telemetry.Metrics.ScanDurationBuckets = []float64{0.1, 0.01}
		}, "telemetry.metrics.scan_duration_buckets"},
		{"tracing endpoint", func(c *Config) { c.Telemetry.Tracing.Enabled = true }, "telemetry.tracing.endpoint"},
		{"sampler", func(c *Config) { c.Telemetry.Tracing.Sampler = "sometimes" }, "telemetry.tracing.sampler"},
		{"sample ratio", func(c *Config) { c.Telemetry.Tracing.SampleRatio = 1.5 }, "telemetry.tracing.sample_ratio"},
		{"readiness path", func(c *Config) { c.Telemetry.Health.ReadinessPath = "ready" }, "telemetry.health.readiness_path"},
		{"listen address", func(c *Config) { c.Server.ListenAddress = "" }, "server.listen_address"},
		{"cert without key", func(c *Config) { c.Security.TLS.CertFile = "client.pem" }, "security.tls.cert_file"},
		{"tls version", func(c *Config) { c.Security.TLS.MinVersion = "1.0" }, "security.tls.min_version"},
		{"status auth without keys", func(c *Config) { c.Security.StatusAuth.Enabled = true }, "security.status_auth.keys"},
		{"empty api key", func(c *Config) {
			c.Security.StatusAuth.Keys = []APIKeyConfig{{Name: "ops"}}
		}, "security.status_auth.keys[0].key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range ve.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for field %q, got %v", tt.field, ve.Errors)
			}
		})
	}
}

func TestValidate_DisabledServerSkipsChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Enabled = false
	cfg.Server.ListenAddress = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("expected disabled server to skip validation, got %v", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	single := ValidationError{Errors: []FieldError{{Field: "sync.base_url", Message: "base URL is required"}}}
	if got := single.Error(); got != "configuration validation failed: sync.base_url: base URL is required" {
		t.Errorf("single error message = %q", got)
	}

	multi := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "x"},
		{Field: "b", Message: "y"},
	}}
	msg := multi.Error()
	if !strings.Contains(msg, "2 errors") || !strings.Contains(msg, "  - a: x") || !strings.Contains(msg, "  - b: y") {
		t.Errorf("multi error message = %q", msg)
	}

	if (ValidationError{}).Error() != "configuration validation failed" {
		t.Error("empty ValidationError message changed")
	}
}
