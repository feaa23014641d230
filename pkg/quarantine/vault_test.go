package quarantine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
)

func newVault(t *testing.T) *Vault {
	t.Helper()
	key, err := keys.GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey() failed: %v", err)
	}
	sealer, err := keys.NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer() failed: %v", err)
	}
	v, err := New(t.TempDir(), sealer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return v
}

func TestVault_PutGet(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()
	id := uuid.NewString()
	content := []byte("card 4111111111111111 exp 12/29")

	path, err := v.Put(ctx, id, content)
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sealed file: %v", err)
	}
	if bytes.Contains(raw, []byte("4111111111111111")) {
		t.Error("sealed file contains plaintext")
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := v.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Get() = %q", got)
	}

	ids, err := v.List()
	if err != nil || len(ids) != 1 || ids[0] != id {
		t.Errorf("List() = %v, %v", ids, err)
	}

	if err := v.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := v.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete = %v, want ErrNotFound", err)
	}
	if err := v.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() = %v, want ErrNotFound", err)
	}
}

func TestVault_InvalidID(t *testing.T) {
	v := newVault(t)
	for _, id := range []string{"", "../../etc/passwd", "not-a-uuid"} {
		if _, err := v.Put(context.Background(), id, []byte("x")); err == nil {
			t.Errorf("Put(%q) succeeded", id)
		}
	}
}

func TestVault_TamperedFile(t *testing.T) {
	v := newVault(t)
	id := uuid.NewString()
	path, err := v.Put(context.Background(), id, []byte("payroll.xlsx"))
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	raw, _ := os.ReadFile(path)
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := v.Get(context.Background(), id); !errors.Is(err, keys.ErrOpenFailed) {
		t.Errorf("Get() = %v, want ErrOpenFailed", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New("", nil, nil); err == nil {
		t.Error("expected error for empty dir")
	}
	if _, err := New(t.TempDir(), nil, nil); err == nil {
		t.Error("expected error for nil sealer")
	}
}
