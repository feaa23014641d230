package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
agent:
  device_id: "laptop-0042"
  data_dir: "/var/lib/nextguard"
  audit_all_scans: true

policy:
  public_key_path: "/etc/nextguard/policy.pub"

sync:
  enabled: true
  base_url: "https://console.example.com"
  token: "${secret:console-token}"
  interval: "60s"

audit:
  retention_days: 0

upload:
  enabled: true
  batch_size: 50

telemetry:
  logging:
    level: "debug"
    format: "text"
    redact_pii: false
  metrics:
    enabled: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Agent.DeviceID != "laptop-0042" || !cfg.Agent.AuditAllScans {
		t.Errorf("agent section = %+v", cfg.Agent)
	}
	if cfg.Sync.Interval != 60*time.Second {
		t.Errorf("expected sync interval 60s, got %v", cfg.Sync.Interval)
	}
	if cfg.Audit.Dir != filepath.Join("/var/lib/nextguard", "audit") {
		t.Errorf("expected audit dir under data dir, got %q", cfg.Audit.Dir)
	}
	if cfg.Audit.RetentionDays != 0 {
		t.Errorf("expected explicit retention 0 to be kept, got %d", cfg.Audit.RetentionDays)
	}
	if cfg.Upload.BaseURL != "https://console.example.com" || cfg.Upload.BatchSize != 50 {
		t.Errorf("upload section = %+v", cfg.Upload)
	}
	if cfg.Telemetry.Logging.RedactPII || cfg.Telemetry.Metrics.Enabled {
		t.Error("expected explicit false values to be kept")
	}
	if !cfg.Server.Enabled {
		t.Error("expected server to stay enabled when not mentioned")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := LoadConfig(writeConfig(t, "agent: [unclosed")); err == nil || !strings.Contains(err.Error(), "parse") {
		t.Errorf("expected parse error, got %v", err)
	}

	_, err := LoadConfig(writeConfig(t, "sync:\n  enabled: true\n"))
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Errors) < 2 {
		t.Errorf("expected missing public key and sync url errors, got %v", ve.Errors)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
policy:
  public_key_path: "/etc/nextguard/policy.pub"
sync:
  base_url: "https://file.example.com"
`)

	t.Setenv("NEXTGUARD_AGENT_DATA_DIR", "/srv/ng")
	t.Setenv("NEXTGUARD_SYNC_ENABLED", "true")
	t.Setenv("NEXTGUARD_SYNC_BASE_URL", "https://env.example.com")
	t.Setenv("NEXTGUARD_UPLOAD_BATCH_SIZE", "25")
	t.Setenv("NEXTGUARD_AUDIT_MAX_SEGMENT_AGE", "30m")
	t.Setenv("NEXTGUARD_TELEMETRY_TRACING_SAMPLE_RATIO", "0.5")
	t.Setenv("NEXTGUARD_UPLOAD_FLUSH_INTERVAL", "not-a-duration")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Sync.BaseURL != "https://env.example.com" || !cfg.Sync.Enabled {
		t.Errorf("sync overrides not applied: %+v", cfg.Sync)
	}
	if cfg.Upload.BaseURL != "https://env.example.com" {
		t.Errorf("expected upload to follow overridden sync URL, got %q", cfg.Upload.BaseURL)
	}
	if cfg.Audit.Dir != filepath.Join("/srv/ng", "audit") {
		t.Errorf("expected derived paths to follow overridden data dir, got %q", cfg.Audit.Dir)
	}
	if cfg.Upload.BatchSize != 25 || cfg.Audit.MaxSegmentAge != 30*time.Minute {
		t.Error("numeric overrides not applied")
	}
	if cfg.Telemetry.Tracing.SampleRatio != 0.5 {
		t.Errorf("expected sample ratio 0.5, got %v", cfg.Telemetry.Tracing.SampleRatio)
	}
	if cfg.Upload.FlushInterval != DefaultUploadFlushInterval {
		t.Errorf("expected invalid override to be ignored, got %v", cfg.Upload.FlushInterval)
	}
}

type mapResolver map[string]string

func (m mapResolver) ResolveReferences(ctx context.Context, input string) (string, error) {
	if strings.HasPrefix(input, "${secret:") {
		name := strings.TrimSuffix(strings.TrimPrefix(input, "${secret:"), "}")
		v, ok := m[name]
		if !ok {
			return "", errors.New("secret not found: " + name)
		}
		return v, nil
	}
	return input, nil
}

func TestResolveSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.Token = "${secret:console-token}"
	cfg.Upload.Token = "literal"
	cfg.Security.StatusAuth.Keys = []APIKeyConfig{{Key: "${secret:status-key}", Name: "ops"}}

	r := mapResolver{"console-token": "tok-1", "status-key": "key-1"}
	if err := ResolveSecrets(context.Background(), cfg, r); err != nil {
		t.Fatalf("ResolveSecrets() failed: %v", err)
	}
	if cfg.Sync.Token != "tok-1" || cfg.Upload.Token != "literal" || cfg.Security.StatusAuth.Keys[0].Key != "key-1" {
		t.Errorf("resolved = %q %q %q", cfg.Sync.Token, cfg.Upload.Token, cfg.Security.StatusAuth.Keys[0].Key)
	}

	cfg.Upload.Token = "${secret:missing}"
	err := ResolveSecrets(context.Background(), cfg, r)
	if err == nil || !strings.Contains(err.Error(), "upload.token") {
		t.Errorf("expected error naming upload.token, got %v", err)
	}
}
