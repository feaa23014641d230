package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
)

// newTestCommand returns a bare command whose output is captured.
func newTestCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetContext(context.Background())
	return cmd, &out
}

// writeKeyPair writes an Ed25519 keypair into dir and returns the paths.
func writeKeyPair(t *testing.T, dir string) (pubPath, privPath string) {
	t.Helper()
	pub, priv, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() failed: %v", err)
	}
	pubPath = filepath.Join(dir, "policy.pub")
	privPath = filepath.Join(dir, "policy.key")
	if err := keys.SavePublicKey(pubPath, pub); err != nil {
		t.Fatal(err)
	}
	if err := keys.SavePrivateKey(privPath, priv); err != nil {
		t.Fatal(err)
	}
	return pubPath, privPath
}

// useTestConfig writes a minimal agent config into a temp dir and points
// --config at it for the duration of the test.
func useTestConfig(t *testing.T) (dataDir, privPath string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	pubPath, privPath := writeKeyPair(t, dir)

	path := filepath.Join(dir, "agent.yaml")
	content := fmt.Sprintf(`
agent:
  data_dir: %q
policy:
  public_key_path: %q
upload:
  queue_backend: memory
telemetry:
  logging:
    level: error
  metrics:
    enabled: false
server:
  enabled: false
`, dataDir, pubPath)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	orig := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = orig })
	return dataDir, privPath
}
