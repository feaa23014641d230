package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "sync.base_url").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateAgent(&cfg.Agent)...)
	errs = append(errs, validatePolicy(&cfg.Policy)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateQuarantine(&cfg.Quarantine)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateAgent(cfg *AgentConfig) []FieldError {
	var errs []FieldError

	if cfg.DataDir == "" {
		errs = append(errs, FieldError{
			Field:   "agent.data_dir",
			Message: "data directory is required",
		})
	}
	if cfg.MaxScanBytes <= 0 {
		errs = append(errs, FieldError{
			Field:   "agent.max_scan_bytes",
			Message: "max scan bytes must be positive",
		})
	}
	if cfg.MasterKeyPath == "" {
		errs = append(errs, FieldError{
			Field:   "agent.master_key_path",
			Message: "master key path is required",
		})
	}

	return errs
}

func validatePolicy(cfg *PolicyConfig) []FieldError {
	var errs []FieldError

	if cfg.PublicKeyPath == "" {
		errs = append(errs, FieldError{
			Field:   "policy.public_key_path",
			Message: "public key path is required to verify policy bundles",
		})
	}
	if cfg.CachePath == "" {
		errs = append(errs, FieldError{
			Field:   "policy.cache_path",
			Message: "cache path is required",
		})
	}
	if cfg.WatchImport && cfg.ImportDir == "" {
		errs = append(errs, FieldError{
			Field:   "policy.import_dir",
			Message: "import directory is required when watch_import is enabled",
		})
	}
	if cfg.ImportDebounce < 0 {
		errs = append(errs, FieldError{
			Field:   "policy.import_debounce",
			Message: "import debounce must not be negative",
		})
	}

	return errs
}

func validateSync(cfg *SyncConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled {
		errs = append(errs, validateBaseURL("sync.base_url", cfg.BaseURL)...)
	}
	if cfg.Interval <= 0 {
		errs = append(errs, FieldError{
			Field:   "sync.interval",
			Message: "sync interval must be positive",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "sync.timeout",
			Message: "sync timeout must be positive",
		})
	}
	if cfg.TriggerInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "sync.trigger_interval",
			Message: "trigger interval must not be negative",
		})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	if cfg.Dir == "" {
		errs = append(errs, FieldError{
			Field:   "audit.dir",
			Message: "audit directory is required",
		})
	}
	if cfg.MaxSegmentBytes <= 0 {
		errs = append(errs, FieldError{
			Field:   "audit.max_segment_bytes",
			Message: "max segment bytes must be positive",
		})
	}
	if cfg.MaxSegmentAge <= 0 {
		errs = append(errs, FieldError{
			Field:   "audit.max_segment_age",
			Message: "max segment age must be positive",
		})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{
			Field:   "audit.retention_days",
			Message: "retention days must be non-negative (0 keeps segments forever)",
		})
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "audit.prune_schedule",
			Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.PruneSchedule, err),
		})
	}

	return errs
}

func validateUpload(cfg *UploadConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled {
		errs = append(errs, validateBaseURL("upload.base_url", cfg.BaseURL)...)
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, FieldError{
			Field:   "upload.batch_size",
			Message: "batch size must be positive",
		})
	}
	if cfg.FlushInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "upload.flush_interval",
			Message: "flush interval must be positive",
		})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "upload.timeout",
			Message: "upload timeout must be positive",
		})
	}

	switch cfg.QueueBackend {
	case "memory":
	case "sqlite":
		if cfg.QueuePath == "" {
			errs = append(errs, FieldError{
				Field:   "upload.queue_path",
				Message: "queue path is required for the sqlite backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "upload.queue_backend",
			Message: fmt.Sprintf("invalid queue backend %q: must be 'memory' or 'sqlite'", cfg.QueueBackend),
		})
	}

	return errs
}

func validateQuarantine(cfg *QuarantineConfig) []FieldError {
	if cfg.Enabled && cfg.Dir == "" {
		return []FieldError{{
			Field:   "quarantine.dir",
			Message: "quarantine directory is required when quarantine is enabled",
		}}
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	// Validate logging format
	validFormats := map[string]bool{"json": true, "text": true}
	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		field := fmt.Sprintf("telemetry.logging.redact_patterns[%d]", i)
		if p.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "pattern name is required"})
		}
		if p.Pattern == "" {
			errs = append(errs, FieldError{Field: field + ".pattern", Message: "pattern is required"})
		}
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Path == "" || cfg.Metrics.Path[0] != '/' {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with /",
			})
		}
		for i := 1; i < len(cfg.Metrics.ScanDurationBuckets); i++ {
			if cfg.Metrics.ScanDurationBuckets[i] <= cfg.Metrics.ScanDurationBuckets[i-1] {
				errs = append(errs, FieldError{
					Field:   "telemetry.metrics.scan_duration_buckets",
					Message: "buckets must be sorted in increasing order",
				})
				break
			}
		}
	}

	// Validate tracing configuration
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true, "parent_ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', 'ratio', or 'parent_ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if cfg.Health.LivenessPath == "" || cfg.Health.LivenessPath[0] != '/' {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.liveness_path",
			Message: "liveness path must start with /",
		})
	}
	if cfg.Health.ReadinessPath == "" || cfg.Health.ReadinessPath[0] != '/' {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.readiness_path",
			Message: "readiness path must start with /",
		})
	}
	if cfg.Health.CheckTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.check_timeout",
			Message: "check timeout must be positive",
		})
	}
	if cfg.Health.MaxPendingUploads < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.health.max_pending_uploads",
			Message: "max pending uploads must not be negative",
		})
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}

	var errs []FieldError
	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}
	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		errs = append(errs, FieldError{
			Field:   "security.tls.cert_file",
			Message: "cert_file and key_file must be set together",
		})
	}
	validVersions := map[string]bool{"1.2": true, "1.3": true}
	if !validVersions[cfg.TLS.MinVersion] {
		errs = append(errs, FieldError{
			Field:   "security.tls.min_version",
			Message: fmt.Sprintf("invalid TLS version %q: must be '1.2' or '1.3'", cfg.TLS.MinVersion),
		})
	}

	if cfg.StatusAuth.Enabled && len(cfg.StatusAuth.Keys) == 0 {
		errs = append(errs, FieldError{
			Field:   "security.status_auth.keys",
			Message: "at least one API key is required when status authentication is enabled",
		})
	}
	for i, k := range cfg.StatusAuth.Keys {
		if k.Key == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("security.status_auth.keys[%d].key", i),
				Message: "key is required",
			})
		}
	}

	return errs
}

func validateBaseURL(field, raw string) []FieldError {
	if raw == "" {
		return []FieldError{{Field: field, Message: "base URL is required"}}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []FieldError{{Field: field, Message: fmt.Sprintf("invalid URL: %v", err)}}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []FieldError{{Field: field, Message: "URL scheme must be http or https"}}
	}
	if u.Host == "" {
		return []FieldError{{Field: field, Message: "URL must include a host"}}
	}
	return nil
}
