package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "NEXTGUARD_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention NEXTGUARD_SECTION_FIELD (e.g., NEXTGUARD_SYNC_BASE_URL).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply environment variable overrides
// 3. Apply default values
// 4. Validate final configuration
//
// Defaults run after the overrides so paths derived from agent.data_dir
// follow an overridden data_dir.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := presets()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// SecretResolver expands ${secret:name} references.
// *secrets.Manager satisfies it.
type SecretResolver interface {
	ResolveReferences(ctx context.Context, input string) (string, error)
}

// ResolveSecrets replaces ${secret:name} references in the credential
// fields (sync and upload tokens, status API keys) with their values.
func ResolveSecrets(ctx context.Context, cfg *Config, r SecretResolver) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"sync.token", &cfg.Sync.Token},
		{"upload.token", &cfg.Upload.Token},
	}
	for i := range cfg.Security.StatusAuth.Keys {
		fields = append(fields, struct {
			name  string
			value *string
		}{fmt.Sprintf("security.status_auth.keys[%d].key", i), &cfg.Security.StatusAuth.Keys[i].Key})
	}

	for _, f := range fields {
		if *f.value == "" {
			continue
		}
		resolved, err := r.ResolveReferences(ctx, *f.value)
		if err != nil {
			return fmt.Errorf("failed to resolve secret in %s: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format NEXTGUARD_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Agent overrides
	envString("AGENT_DEVICE_ID", &cfg.Agent.DeviceID)
	envString("AGENT_DATA_DIR", &cfg.Agent.DataDir)
	envInt64("AGENT_MAX_SCAN_BYTES", &cfg.Agent.MaxScanBytes)
	envBool("AGENT_AUDIT_ALL_SCANS", &cfg.Agent.AuditAllScans)
	envString("AGENT_MASTER_KEY_PATH", &cfg.Agent.MasterKeyPath)

	// Policy overrides
	envString("POLICY_CACHE_PATH", &cfg.Policy.CachePath)
	envString("POLICY_PUBLIC_KEY_PATH", &cfg.Policy.PublicKeyPath)
	envString("POLICY_IMPORT_DIR", &cfg.Policy.ImportDir)
	envBool("POLICY_WATCH_IMPORT", &cfg.Policy.WatchImport)

	// Sync overrides
	envBool("SYNC_ENABLED", &cfg.Sync.Enabled)
	envString("SYNC_BASE_URL", &cfg.Sync.BaseURL)
	envString("SYNC_TOKEN", &cfg.Sync.Token)
	envDuration("SYNC_INTERVAL", &cfg.Sync.Interval)
	envDuration("SYNC_TIMEOUT", &cfg.Sync.Timeout)

	// Audit overrides
	envString("AUDIT_DIR", &cfg.Audit.Dir)
	envInt64("AUDIT_MAX_SEGMENT_BYTES", &cfg.Audit.MaxSegmentBytes)
	envDuration("AUDIT_MAX_SEGMENT_AGE", &cfg.Audit.MaxSegmentAge)
	envInt("AUDIT_RETENTION_DAYS", &cfg.Audit.RetentionDays)
	envString("AUDIT_PRUNE_SCHEDULE", &cfg.Audit.PruneSchedule)
	envString("AUDIT_ARCHIVE_PATH", &cfg.Audit.ArchivePath)

	// Upload overrides
	envBool("UPLOAD_ENABLED", &cfg.Upload.Enabled)
	envString("UPLOAD_BASE_URL", &cfg.Upload.BaseURL)
	envString("UPLOAD_TOKEN", &cfg.Upload.Token)
	envInt("UPLOAD_BATCH_SIZE", &cfg.Upload.BatchSize)
	envDuration("UPLOAD_FLUSH_INTERVAL", &cfg.Upload.FlushInterval)
	envString("UPLOAD_QUEUE_BACKEND", &cfg.Upload.QueueBackend)
	envString("UPLOAD_QUEUE_PATH", &cfg.Upload.QueuePath)

	// Quarantine overrides
	envBool("QUARANTINE_ENABLED", &cfg.Quarantine.Enabled)
	envString("QUARANTINE_DIR", &cfg.Quarantine.Dir)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envString("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
	if val := os.Getenv(EnvPrefix + "TELEMETRY_TRACING_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.Tracing.SampleRatio = f
		}
	}

	// Server overrides
	envBool("SERVER_ENABLED", &cfg.Server.Enabled)
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)

	// Security overrides
	envString("SECURITY_TLS_CA_FILE", &cfg.Security.TLS.CAFile)
	envString("SECURITY_TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	envString("SECURITY_TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)
	envString("SECURITY_SECRETS_FILE_DIR", &cfg.Security.Secrets.FileDir)
}

// Unparsable values are ignored and the file value is kept.

func envString(name string, dst *string) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		*dst = val
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(name string, dst *int64) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
