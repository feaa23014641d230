package config

import "time"

// Config is the root configuration structure for the NextGuard endpoint
// agent. Every component has its own closed section; there are no free-form
// maps.
type Config struct {
	// Agent contains device identity, local state location and scan limits.
	Agent AgentConfig `yaml:"agent"`

	// Policy contains the local policy cache and trust anchor.
	Policy PolicyConfig `yaml:"policy"`

	// Sync contains the policy synchronization client configuration.
	Sync SyncConfig `yaml:"sync"`

	// Audit contains the audit chain and its retention.
	Audit AuditConfig `yaml:"audit"`

	// Upload contains the audit upload client and its pending queue.
	Upload UploadConfig `yaml:"upload"`

	// Quarantine contains the sealed quarantine vault.
	Quarantine QuarantineConfig `yaml:"quarantine"`

	// Telemetry contains logging, metrics, tracing and health settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Server contains the local status server.
	Server ServerConfig `yaml:"server"`

	// Security contains TLS towards the management server, secret
	// providers and status endpoint authentication.
	Security SecurityConfig `yaml:"security"`
}

// AgentConfig contains device-level settings.
type AgentConfig struct {
	// DeviceID identifies this endpoint to the management server.
	// Default: generated on first run and stored in data_dir/device-id
	DeviceID string `yaml:"device_id"`

	// DataDir is the root of all local state: policy cache, audit
	// segments, upload queue, quarantine and keys.
	// Default: "data"
	DataDir string `yaml:"data_dir"`

	// MaxScanBytes bounds the content inspected per scan. Larger content is
	// truncated and the result is flagged.
	// Default: 10485760 (10 MiB)
	MaxScanBytes int64 `yaml:"max_scan_bytes"`

	// AuditAllScans records scans without matches as well.
	// Default: false
	AuditAllScans bool `yaml:"audit_all_scans"`

	// MasterKeyPath is the file holding the local master key from which
	// the audit and quarantine keys are derived.
	// Default: data_dir/master.key
	MasterKeyPath string `yaml:"master_key_path"`
}

// PolicyConfig contains policy storage settings.
type PolicyConfig struct {
	// CachePath is where the last installed bundle is persisted.
	// Default: data_dir/policy-cache.json
	CachePath string `yaml:"cache_path"`

	// PublicKeyPath is the Ed25519 public key trusted to sign bundles.
	// Required.
	PublicKeyPath string `yaml:"public_key_path"`

	// ImportDir is a directory watched for signed bundle files dropped in
	// by an administrator (offline installs).
	// Default: "" (disabled)
	ImportDir string `yaml:"import_dir"`

	// WatchImport enables watching ImportDir.
	// Default: false
	WatchImport bool `yaml:"watch_import"`

	// ImportDebounce is the quiet period after the last file event before
	// an imported bundle is installed.
	// Default: 500ms
	ImportDebounce time.Duration `yaml:"import_debounce"`
}

// SyncConfig contains the policy sync client configuration.
type SyncConfig struct {
	// Enabled turns on periodic policy synchronization.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// BaseURL is the management server base URL.
	// Required when Enabled is true.
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token. Supports ${secret:name} references.
	Token string `yaml:"token"`

	// Interval between sync cycles.
	// Default: 300s
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds one fetch.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// TriggerInterval is the minimum spacing of manual triggers.
	// Default: 10s
	TriggerInterval time.Duration `yaml:"trigger_interval"`
}

// AuditConfig contains audit chain settings.
type AuditConfig struct {
	// Dir holds the segment files.
	// Default: data_dir/audit
	Dir string `yaml:"dir"`

	// MaxSegmentBytes starts a new segment once the active one is this big.
	// Default: 52428800 (50 MiB)
	MaxSegmentBytes int64 `yaml:"max_segment_bytes"`

	// MaxSegmentAge starts a new segment once the active one is this old.
	// Default: 1h
	MaxSegmentAge time.Duration `yaml:"max_segment_age"`

	// RetentionDays deletes segments older than this. 0 keeps them forever.
	// Default: 90
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is the cron expression for retention runs.
	// Default: "0 * * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// ArchivePath receives a copy of each segment before it is deleted.
	// Default: "" (no archive)
	ArchivePath string `yaml:"archive_path"`
}

// UploadConfig contains audit upload settings.
type UploadConfig struct {
	// Enabled turns on uploading audit records to the management server.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// BaseURL is the management server base URL.
	// Default: sync.base_url
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token. Supports ${secret:name} references.
	// Default: sync.token
	Token string `yaml:"token"`

	// BatchSize is the number of records per upload request. Reaching it
	// also triggers a flush.
	// Default: 100
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the periodic flush interval.
	// Default: 300s
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Timeout bounds one upload request.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// QueueBackend selects where pending records are kept.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	QueueBackend string `yaml:"queue_backend"`

	// QueuePath is the SQLite database of the pending queue.
	// Default: data_dir/upload-queue.db
	QueuePath string `yaml:"queue_path"`

	// SigningKeyPath is an Ed25519 private key used to sign each batch
	// (X-Batch-Signature). Optional.
	SigningKeyPath string `yaml:"signing_key_path"`
}

// QuarantineConfig contains quarantine vault settings.
type QuarantineConfig struct {
	// Enabled stores content of quarantined scans in the vault.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Dir holds the sealed files.
	// Default: data_dir/quarantine
	Dir string `yaml:"dir"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII masks card numbers, e-mail addresses, tokens and similar
	// values in every logged string.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains additional redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "nextguard"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "agent"
	Subsystem string `yaml:"subsystem"`

	// ScanDurationBuckets defines histogram buckets for scan duration (seconds).
	// Default: [0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1]
	ScanDurationBuckets []float64 `yaml:"scan_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio", "parent_ratio"
	// Default: "parent_ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP/gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "nextguard-agent"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS for the OTLP connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// HealthConfig contains health endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/healthz"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/readyz"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// MaxPendingUploads marks the agent not ready when the upload queue
	// holds more records. 0 disables the check.
	// Default: 100000
	MaxPendingUploads int `yaml:"max_pending_uploads"`
}

// ServerConfig contains the local status server configuration.
type ServerConfig struct {
	// Enabled starts the status server.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:9477"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// TLS configures connections to the management server.
	TLS TLSConfig `yaml:"tls"`

	// Secrets configures where ${secret:name} references are resolved.
	Secrets SecretsConfig `yaml:"secrets"`

	// StatusAuth protects the status server with API keys.
	StatusAuth StatusAuthConfig `yaml:"status_auth"`
}

// TLSConfig configures the HTTPS client used for sync and upload.
type TLSConfig struct {
	// CAFile is a PEM bundle of CAs trusted for the management server, in
	// addition to the system pool.
	CAFile string `yaml:"ca_file"`

	// CertFile and KeyFile are the device client certificate for mutual
	// TLS. Both or neither must be set.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion is the minimum TLS version.
	// Options: "1.2", "1.3"
	// Default: "1.2"
	MinVersion string `yaml:"min_version"`

	// ServerName overrides the name checked against the server certificate.
	ServerName string `yaml:"server_name"`

	// ReloadInterval is how often the client certificate is checked for
	// changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// SecretsConfig contains secret resolution configuration.
type SecretsConfig struct {
	// EnvPrefix is the environment variable prefix of the env provider.
	// Default: "NEXTGUARD_SECRET_"
	EnvPrefix string `yaml:"env_prefix"`

	// FileDir is a directory with one file per secret. Optional.
	FileDir string `yaml:"file_dir"`

	// CacheTTL is how long resolved secrets are cached.
	// Default: 5m
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// StatusAuthConfig contains API key authentication for the status server.
type StatusAuthConfig struct {
	// Enabled requires an API key on /v1/status.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Keys lists the accepted keys. Values support ${secret:name}.
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig is one accepted status API key.
type APIKeyConfig struct {
	// Key is the API key value.
	Key string `yaml:"key"`

	// Name identifies the key holder in logs.
	Name string `yaml:"name"`

	// Enabled controls whether this key is accepted.
	// Default: true
	Enabled *bool `yaml:"enabled"`
}
