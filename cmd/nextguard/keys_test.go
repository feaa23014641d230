package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
)

func TestGenerateKeys(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	orig := keysFlags
	keysFlags.output, keysFlags.name, keysFlags.force = dir, "test-key", false
	t.Cleanup(func() { keysFlags = orig })

	cmd, out := newTestCommand(t)
	if err := generateKeys(cmd, nil); err != nil {
		t.Fatalf("generateKeys() error = %v", err)
	}
	if !strings.Contains(out.String(), "Keys generated successfully") {
		t.Errorf("unexpected output: %s", out.String())
	}

	pubPath := filepath.Join(dir, "test-key.pub")
	privPath := filepath.Join(dir, "test-key.key")

	info, err := os.Stat(privPath)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("private key permissions = %o, want 0600", mode)
	}

	signer, err := keys.LoadPrivateKey(privPath)
	if err != nil {
		t.Fatalf("LoadPrivateKey() failed: %v", err)
	}
	verifier, err := keys.LoadPublicKey(pubPath)
	if err != nil {
		t.Fatalf("LoadPublicKey() failed: %v", err)
	}
	sig, err := signer.Sign([]byte("bundle"))
	if err != nil {
		t.Fatal(err)
	}
	if !verifier.Verify([]byte("bundle"), sig) {
		t.Error("generated keys do not form a pair")
	}

	// Existing files are kept unless forced.
	if err := generateKeys(cmd, nil); err == nil {
		t.Error("expected error when keys already exist")
	}
	keysFlags.force = true
	if err := generateKeys(cmd, nil); err != nil {
		t.Errorf("generateKeys() with --force error = %v", err)
	}
}
