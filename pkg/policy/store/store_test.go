package store

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSigner(t *testing.T) *keys.Signer {
	t.Helper()
	_, priv, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() failed: %v", err)
	}
	s, err := keys.NewSigner(priv)
	if err != nil {
		t.Fatalf("NewSigner() failed: %v", err)
	}
	return s
}

func signedBundle(t *testing.T, signer *keys.Signer, version int64) *policy.Bundle {
	t.Helper()
	b := &policy.Bundle{
		Version: version,
		Rules: []policy.Rule{
			{
				ID:       "pci",
				Name:     "Card number",
				Patterns: []string{`\b4[0-9]{15}\b`},
				Severity: policy.SeverityCritical,
				Action:   policy.ActionBlock,
				Channels: []policy.Channel{policy.ChannelFile, policy.ChannelUSB},
				Enabled:  true,
				Schedule: &policy.Schedule{Days: []int{1, 2, 3, 4, 5}, Start: "09:00", End: "18:00", Timezone: "Asia/Hong_Kong"},
			},
			{
				ID:        "kw",
				Keywords:  []string{"secret"},
				Severity:  policy.SeverityLow,
				Action:    policy.ActionAudit,
				Enabled:   true,
				Threshold: 2,
			},
		},
	}
	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	return b
}

func openStore(t *testing.T, signer *keys.Signer, cachePath string) *Store {
	t.Helper()
	s, err := Open(Config{CachePath: cachePath, Verifier: signer.Public()}, quietLogger())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func TestOpen_BuiltinDefaults(t *testing.T) {
	signer := testSigner(t)
	s := openStore(t, signer, filepath.Join(t.TempDir(), "policy-cache.json"))

	if s.Version() != 0 {
		t.Errorf("Version() = %d, want 0", s.Version())
	}
	if s.Origin() != OriginBuiltin {
		t.Errorf("Origin() = %q, want builtin", s.Origin())
	}
	if len(s.Current().Rules) == 0 {
		t.Error("expected built-in rules")
	}
	for _, r := range s.Current().Rules {
		if err := r.Validate(); err != nil {
			t.Errorf("built-in rule invalid: %v", err)
		}
	}
}

func TestOpen_NilVerifier(t *testing.T) {
	if _, err := Open(Config{}, nil); err == nil {
		t.Fatal("expected error for nil verifier")
	}
}

func TestInstall_RoundTrip(t *testing.T) {
	signer := testSigner(t)
	s := openStore(t, signer, "")

	original := signedBundle(t, signer, 3)
	if err := s.Install(original); err != nil {
		t.Fatalf("Install() failed: %v", err)
	}

	got := s.Current()
	if got.Version != 3 {
		t.Errorf("Version = %d, want 3", got.Version)
	}
	if !reflect.DeepEqual(got.Rules, original.Rules) {
		t.Errorf("installed rules differ:\n got %+v\nwant %+v", got.Rules, original.Rules)
	}
	if got == original {
		t.Error("store should keep its own copy of the bundle")
	}

	original.Rules[0].Action = policy.ActionAllow
	if s.Current().Rules[0].Action != policy.ActionBlock {
		t.Error("mutating the candidate changed the installed bundle")
	}
}

func TestInstall_StaleVersion(t *testing.T) {
	signer := testSigner(t)
	s := openStore(t, signer, "")

	if err := s.Install(signedBundle(t, signer, 7)); err != nil {
		t.Fatalf("Install(v7) failed: %v", err)
	}

	err := s.Install(signedBundle(t, signer, 5))
	if !errors.Is(err, policy.ErrStaleVersion) {
		t.Fatalf("Install(v5) error = %v, want stale version", err)
	}
	var re *policy.RejectError
	if !errors.As(err, &re) || re.Candidate != 5 || re.Current != 7 {
		t.Errorf("RejectError = %+v", re)
	}
	if s.Version() != 7 {
		t.Errorf("Version() = %d, want 7", s.Version())
	}

	// Re-installing the same version is rejected, not re-applied.
	calls := 0
	s.OnInstall(func(prev, next *policy.Bundle) { calls++ })
	if err := s.Install(signedBundle(t, signer, 7)); !errors.Is(err, policy.ErrStaleVersion) {
		t.Errorf("re-install error = %v, want stale version", err)
	}
	if calls != 0 {
		t.Errorf("listener called %d times for a rejected bundle", calls)
	}
}

func TestInstall_InvalidSignature(t *testing.T) {
	signer := testSigner(t)
	other := testSigner(t)
	s := openStore(t, signer, "")

	forged := signedBundle(t, other, 2)
	if err := s.Install(forged); policy.ReasonOf(err) != policy.RejectInvalidSignature {
		t.Errorf("forged bundle: reason = %v, want invalid_signature", policy.ReasonOf(err))
	}

	tampered := signedBundle(t, signer, 2)
	tampered.Rules[1].Action = policy.ActionAllow
	if err := s.Install(tampered); !errors.Is(err, policy.ErrInvalidSignature) {
		t.Errorf("tampered bundle error = %v", err)
	}

	unsigned := signedBundle(t, signer, 2)
	unsigned.Signature = ""
	if err := s.Install(unsigned); !errors.Is(err, policy.ErrInvalidSignature) {
		t.Errorf("unsigned bundle error = %v", err)
	}

	if s.Version() != 0 {
		t.Errorf("Version() = %d, want 0", s.Version())
	}
}

func TestInstall_ValidationOrder(t *testing.T) {
	signer := testSigner(t)
	s := openStore(t, signer, "")
	if err := s.Install(signedBundle(t, signer, 7)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		bundle *policy.Bundle
		want   policy.RejectReason
	}{
		{"nil bundle", nil, policy.RejectMalformedBundle},
		{
			// Malformed wins over stale and unsigned.
			name:   "malformed stale unsigned",
			bundle: &policy.Bundle{Version: 3, Rules: []policy.Rule{{ID: ""}}},
			want:   policy.RejectMalformedBundle,
		},
		{
			// Stale wins over unsigned.
			name:   "stale unsigned",
			bundle: &policy.Bundle{Version: 3, Rules: []policy.Rule{{ID: "a", Keywords: []string{"x"}}}},
			want:   policy.RejectStaleVersion,
		},
		{
			name:   "newer unsigned",
			bundle: &policy.Bundle{Version: 9, Rules: []policy.Rule{{ID: "a", Keywords: []string{"x"}}}},
			want:   policy.RejectInvalidSignature,
		},
		{
			name:   "duplicate ids",
			bundle: &policy.Bundle{Version: 9, Rules: []policy.Rule{{ID: "a", Keywords: []string{"x"}}, {ID: "a", Keywords: []string{"y"}}}},
			want:   policy.RejectMalformedBundle,
		},
		{
			name: "unknown timezone",
			bundle: func() *policy.Bundle {
				b := signedBundle(t, signer, 9)
				b.Rules[0].Schedule.Timezone = "Asia/Hong_Kongg"
				if err := b.Sign(signer); err != nil {
					t.Fatalf("Sign() failed: %v", err)
				}
				return b
			}(),
			want: policy.RejectMalformedBundle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.ReasonOf(s.Install(tt.bundle)); got != tt.want {
				t.Errorf("reason = %v, want %v", got, tt.want)
			}
			if s.Version() != 7 {
				t.Errorf("Version() = %d, want 7", s.Version())
			}
		})
	}
}

func TestInstall_PersistAndReopen(t *testing.T) {
	signer := testSigner(t)
	cachePath := filepath.Join(t.TempDir(), "state", "policy-cache.json")

	s := openStore(t, signer, cachePath)
	b := signedBundle(t, signer, 4)
	if err := s.Install(b); err != nil {
		t.Fatalf("Install() failed: %v", err)
	}

	reopened := openStore(t, signer, cachePath)
	if reopened.Version() != 4 {
		t.Fatalf("reopened Version() = %d, want 4", reopened.Version())
	}
	if reopened.Origin() != OriginCache {
		t.Errorf("Origin() = %q, want cache", reopened.Origin())
	}
	if !reflect.DeepEqual(reopened.Current().Rules, b.Rules) {
		t.Error("cached rules differ from installed rules")
	}

	entries, err := os.ReadDir(filepath.Dir(cachePath))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("cache directory has %d entries, want only the cache file", len(entries))
	}
}

func TestOpen_TamperedCacheFallsBack(t *testing.T) {
	signer := testSigner(t)
	cachePath := filepath.Join(t.TempDir(), "policy-cache.json")

	s := openStore(t, signer, cachePath)
	if err := s.Install(signedBundle(t, signer, 4)); err != nil {
		t.Fatal(err)
	}

	b, err := policy.DecodeBundle(mustRead(t, cachePath))
	if err != nil {
		t.Fatal(err)
	}
	b.Rules[0].Enabled = false
	data, err := policy.EncodeBundle(b)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cachePath, data, 0600); err != nil {
		t.Fatal(err)
	}

	reopened := openStore(t, signer, cachePath)
	if reopened.Origin() != OriginBuiltin || reopened.Version() != 0 {
		t.Errorf("tampered cache: origin %q version %d, want builtin 0", reopened.Origin(), reopened.Version())
	}

	if err := os.WriteFile(cachePath, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if openStore(t, signer, cachePath).Origin() != OriginBuiltin {
		t.Error("corrupt cache should fall back to built-in rules")
	}
}

func TestInstall_Listeners(t *testing.T) {
	signer := testSigner(t)
	s := openStore(t, signer, "")

	var gotPrev, gotNext int64 = -1, -1
	s.OnInstall(func(prev, next *policy.Bundle) {
		gotPrev, gotNext = prev.Version, next.Version
		if s.Version() != next.Version {
			t.Error("listener ran before the swap")
		}
	})

	if err := s.Install(signedBundle(t, signer, 2)); err != nil {
		t.Fatal(err)
	}
	if gotPrev != 0 || gotNext != 2 {
		t.Errorf("listener got (%d, %d), want (0, 2)", gotPrev, gotNext)
	}
}

func TestInstall_ConcurrentReaders(t *testing.T) {
	signer := testSigner(t)
	s := openStore(t, signer, "")

	bundles := make([]*policy.Bundle, 20)
	for i := range bundles {
		bundles[i] = signedBundle(t, signer, int64(i+1))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := int64(0)
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := s.Current().Version
				if v < last {
					t.Errorf("version went backwards: %d after %d", v, last)
					return
				}
				last = v
			}
		}()
	}

	for _, b := range bundles {
		if err := s.Install(b); err != nil {
			t.Errorf("Install(v%d) failed: %v", b.Version, err)
		}
	}
	close(stop)
	wg.Wait()

	if s.Version() != 20 {
		t.Errorf("Version() = %d, want 20", s.Version())
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
