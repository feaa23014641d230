package config

import (
	"path/filepath"
	"time"
)

// Default values for configuration fields.
const (
	// Agent defaults
	DefaultDataDir       = "data"
	DefaultMaxScanBytes  = int64(10 << 20)
	DefaultMasterKeyFile = "master.key"

	// Policy defaults
	DefaultPolicyCacheFile      = "policy-cache.json"
	DefaultPolicyImportDebounce = 500 * time.Millisecond

	// Sync defaults
	DefaultSyncInterval        = 300 * time.Second
	DefaultSyncTimeout         = 30 * time.Second
	DefaultSyncTriggerInterval = 10 * time.Second

	// Audit defaults
	DefaultAuditDirName         = "audit"
	DefaultAuditMaxSegmentBytes = int64(50 << 20)
	DefaultAuditMaxSegmentAge   = time.Hour
	DefaultAuditRetentionDays   = 90
	DefaultAuditPruneSchedule   = "0 * * * *"

	// Upload defaults
	DefaultUploadBatchSize     = 100
	DefaultUploadFlushInterval = 300 * time.Second
	DefaultUploadTimeout       = 30 * time.Second
	DefaultUploadQueueBackend  = "sqlite"
	DefaultUploadQueueFile     = "upload-queue.db"

	// Quarantine defaults
	DefaultQuarantineDirName = "quarantine"

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultLoggingRedactPII    = true
	DefaultMetricsEnabled      = true
	DefaultMetricsPath         = "/metrics"
	DefaultMetricsNamespace    = "nextguard"
	DefaultMetricsSubsystem    = "agent"
	DefaultTracingSampler      = "parent_ratio"
	DefaultTracingSampleRatio  = 0.1
	DefaultTracingServiceName  = "nextguard-agent"
	DefaultTracingTimeout      = 10 * time.Second
	DefaultLivenessPath        = "/healthz"
	DefaultReadinessPath       = "/readyz"
	DefaultHealthCheckTimeout  = 5 * time.Second
	DefaultMaxPendingUploads   = 100000
	DefaultServerEnabled       = true
	DefaultServerListenAddress = "127.0.0.1:9477"
	DefaultServerReadTimeout   = 10 * time.Second
	DefaultServerWriteTimeout  = 10 * time.Second
	DefaultServerShutdown      = 10 * time.Second

	// Security defaults
	DefaultTLSMinVersion     = "1.2"
	DefaultTLSReloadInterval = 5 * time.Minute
	DefaultSecretsEnvPrefix  = "NEXTGUARD_SECRET_"
	DefaultSecretsCacheTTL   = 5 * time.Minute
)

// DefaultScanDurationBuckets are the scan duration histogram buckets in
// seconds.
var DefaultScanDurationBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	cfg := presets()
	ApplyDefaults(cfg)
	return cfg
}

// presets returns a configuration holding only the defaults whose zero
// value is meaningful (true booleans, retention_days). Files are decoded on
// top of it so an explicit false or 0 is kept.
func presets() *Config {
	cfg := &Config{}
	cfg.Telemetry.Logging.RedactPII = DefaultLoggingRedactPII
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Server.Enabled = DefaultServerEnabled
	cfg.Audit.RetentionDays = DefaultAuditRetentionDays
	return cfg
}

// ApplyDefaults sets defaults for fields that have zero values. Paths that
// default to locations under agent.data_dir are derived after data_dir is
// known. It is idempotent.
func ApplyDefaults(cfg *Config) {
	// Agent defaults
	if cfg.Agent.DataDir == "" {
		cfg.Agent.DataDir = DefaultDataDir
	}
	if cfg.Agent.MaxScanBytes == 0 {
		cfg.Agent.MaxScanBytes = DefaultMaxScanBytes
	}
	if cfg.Agent.MasterKeyPath == "" {
		cfg.Agent.MasterKeyPath = filepath.Join(cfg.Agent.DataDir, DefaultMasterKeyFile)
	}

	// Policy defaults
	if cfg.Policy.CachePath == "" {
		cfg.Policy.CachePath = filepath.Join(cfg.Agent.DataDir, DefaultPolicyCacheFile)
	}
	if cfg.Policy.ImportDebounce == 0 {
		cfg.Policy.ImportDebounce = DefaultPolicyImportDebounce
	}

	// Sync defaults
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = DefaultSyncInterval
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = DefaultSyncTimeout
	}
	if cfg.Sync.TriggerInterval == 0 {
		cfg.Sync.TriggerInterval = DefaultSyncTriggerInterval
	}

	// Audit defaults
	if cfg.Audit.Dir == "" {
		cfg.Audit.Dir = filepath.Join(cfg.Agent.DataDir, DefaultAuditDirName)
	}
	if cfg.Audit.MaxSegmentBytes == 0 {
		cfg.Audit.MaxSegmentBytes = DefaultAuditMaxSegmentBytes
	}
	if cfg.Audit.MaxSegmentAge == 0 {
		cfg.Audit.MaxSegmentAge = DefaultAuditMaxSegmentAge
	}
	if cfg.Audit.PruneSchedule == "" {
		cfg.Audit.PruneSchedule = DefaultAuditPruneSchedule
	}

	// Upload defaults
	if cfg.Upload.BaseURL == "" {
		cfg.Upload.BaseURL = cfg.Sync.BaseURL
	}
	if cfg.Upload.Token == "" {
		cfg.Upload.Token = cfg.Sync.Token
	}
	if cfg.Upload.BatchSize == 0 {
		cfg.Upload.BatchSize = DefaultUploadBatchSize
	}
	if cfg.Upload.FlushInterval == 0 {
		cfg.Upload.FlushInterval = DefaultUploadFlushInterval
	}
	if cfg.Upload.Timeout == 0 {
		cfg.Upload.Timeout = DefaultUploadTimeout
	}
	if cfg.Upload.QueueBackend == "" {
		cfg.Upload.QueueBackend = DefaultUploadQueueBackend
	}
	if cfg.Upload.QueuePath == "" {
		cfg.Upload.QueuePath = filepath.Join(cfg.Agent.DataDir, DefaultUploadQueueFile)
	}

	// Quarantine defaults
	if cfg.Quarantine.Dir == "" {
		cfg.Quarantine.Dir = filepath.Join(cfg.Agent.DataDir, DefaultQuarantineDirName)
	}

	applyTelemetryDefaults(&cfg.Telemetry)

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultServerListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdown
	}

	// Security defaults
	if cfg.Security.TLS.MinVersion == "" {
		cfg.Security.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Security.TLS.ReloadInterval == 0 {
		cfg.Security.TLS.ReloadInterval = DefaultTLSReloadInterval
	}
	if cfg.Security.Secrets.EnvPrefix == "" {
		cfg.Security.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}
	if cfg.Security.Secrets.CacheTTL == 0 {
		cfg.Security.Secrets.CacheTTL = DefaultSecretsCacheTTL
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}

	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultMetricsPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.Subsystem == "" {
		t.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(t.Metrics.ScanDurationBuckets) == 0 {
		t.Metrics.ScanDurationBuckets = append([]float64(nil), DefaultScanDurationBuckets...)
	}

	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}

	if t.Health.LivenessPath == "" {
		t.Health.LivenessPath = DefaultLivenessPath
	}
	if t.Health.ReadinessPath == "" {
		t.Health.ReadinessPath = DefaultReadinessPath
	}
	if t.Health.CheckTimeout == 0 {
		t.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
	if t.Health.MaxPendingUploads == 0 {
		t.Health.MaxPendingUploads = DefaultMaxPendingUploads
	}
}
