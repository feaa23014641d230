package policy

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type edSigner struct{ priv ed25519.PrivateKey }

func (s edSigner) Sign(msg []byte) ([]byte, error) { return ed25519.Sign(s.priv, msg), nil }

type edVerifier struct{ pub ed25519.PublicKey }

func (v edVerifier) Verify(msg, sig []byte) bool { return ed25519.Verify(v.pub, msg, sig) }

func testKeys(t *testing.T) (edSigner, edVerifier) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}
	return edSigner{priv}, edVerifier{pub}
}

func sampleBundle() *Bundle {
	return &Bundle{
		Version: 3,
		Rules: []Rule{
			{
				ID:         "pci",
				Name:       "Card <number>",
				Patterns:   []string{`\b4[0-9]{15}\b`},
				Severity:   SeverityCritical,
				Action:     ActionBlock,
				Enabled:    true,
				Compliance: "PCI-DSS",
			},
			{
				ID:        "usb-archives",
				Kind:      KindFileType,
				FileTypes: []string{"zip"},
				Channels:  []Channel{ChannelUSB},
				Severity:  SeverityMedium,
				Action:    ActionAudit,
				Enabled:   true,
			},
		},
	}
}

func TestBundle_SignVerify(t *testing.T) {
	signer, verifier := testKeys(t)
	b := sampleBundle()

	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	if err := b.VerifySignature(verifier); err != nil {
		t.Fatalf("VerifySignature() failed: %v", err)
	}

	// Wire round trip keeps the signature valid.
	data, err := EncodeBundle(b)
	if err != nil {
		t.Fatalf("EncodeBundle() failed: %v", err)
	}
	decoded, err := DecodeBundle(data)
	if err != nil {
		t.Fatalf("DecodeBundle() failed: %v", err)
	}
	if err := decoded.VerifySignature(verifier); err != nil {
		t.Errorf("round-tripped bundle failed verification: %v", err)
	}

	decoded.Rules[0].Action = ActionAllow
	if err := decoded.VerifySignature(verifier); err == nil {
		t.Error("expected verification failure after tampering")
	}
}

func TestBundle_VerifyWrongKey(t *testing.T) {
	signer, _ := testKeys(t)
	_, other := testKeys(t)
	b := sampleBundle()
	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	if err := b.VerifySignature(other); err == nil {
		t.Error("expected verification failure with a different key")
	}
}

func TestBundle_VerifyUnsigned(t *testing.T) {
	_, verifier := testKeys(t)
	b := sampleBundle()
	if err := b.VerifySignature(verifier); err == nil {
		t.Error("expected error for unsigned bundle")
	}
	b.Signature = "%%%"
	if err := b.VerifySignature(verifier); err == nil {
		t.Error("expected error for undecodable signature")
	}
}

func TestCanonicalRules(t *testing.T) {
	empty, err := CanonicalRules(nil)
	if err != nil {
		t.Fatalf("CanonicalRules(nil) failed: %v", err)
	}
	if string(empty) != "[]" {
		t.Errorf("CanonicalRules(nil) = %q, want []", empty)
	}

	out, err := CanonicalRules(sampleBundle().Rules)
	if err != nil {
		t.Fatalf("CanonicalRules() failed: %v", err)
	}
	if !strings.Contains(string(out), `"Card <number>"`) {
		t.Errorf("expected unescaped html characters, got %s", out)
	}
	if strings.HasSuffix(string(out), "\n") {
		t.Error("canonical form must not end with a newline")
	}
	if !strings.Contains(string(out), `"severity":"critical"`) {
		t.Errorf("expected severity by name, got %s", out)
	}
}

func TestBundle_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(b *Bundle)
		wantErr string
	}{
		{"valid", func(b *Bundle) {}, ""},
		{"zero version", func(b *Bundle) { b.Version = 0 }, "version must be positive"},
		{"duplicate ids", func(b *Bundle) { b.Rules[1].ID = "pci" }, "duplicate rule id"},
		{"missing id", func(b *Bundle) { b.Rules[0].ID = " " }, "rule id is required"},
		{"content rule without detectors", func(b *Bundle) { b.Rules[0].Patterns = nil }, "at least one pattern or keyword"},
		{"unknown channel", func(b *Bundle) { b.Rules[1].Channels = []Channel{"fax"} }, "unknown channel"},
		{"unknown kind", func(b *Bundle) { b.Rules[1].Kind = "entropy" }, "unknown kind"},
		{"bad schedule day", func(b *Bundle) { b.Rules[0].Schedule = &Schedule{Days: []int{0}} }, "out of range"},
		{"bad schedule clock", func(b *Bundle) { b.Rules[0].Schedule = &Schedule{Start: "25:00", End: "06:00"} }, "schedule"},
		{"unknown timezone", func(b *Bundle) {
			b.Rules[0].Schedule = &Schedule{Start: "09:00", End: "18:00", Timezone: "Asia/Hong_Kongg"}
		}, "unknown timezone"},
		{"known timezone", func(b *Bundle) {
			b.Rules[0].Schedule = &Schedule{Start: "09:00", End: "18:00", Timezone: "Asia/Hong_Kong"}
		}, ""},
		{"bad pattern accepted", func(b *Bundle) { b.Rules[0].Patterns = []string{"("} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := sampleBundle()
			tt.mutate(b)
			err := b.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	var nilBundle *Bundle
	if err := nilBundle.Validate(); err == nil {
		t.Error("expected error for nil bundle")
	}
}

func TestDecodeBundle_WireFormat(t *testing.T) {
	data := []byte(`{
		"version": 12,
		"policies": [
			{"id": "kw", "name": "Keyword", "keywords": ["secret"], "severity": "high", "action": "notify", "enabled": true, "channels": ["email", "clipboard"]}
		],
		"signature": "c2ln"
	}`)
	b, err := DecodeBundle(data)
	if err != nil {
		t.Fatalf("DecodeBundle() failed: %v", err)
	}
	if b.Version != 12 || len(b.Rules) != 1 || b.Signature != "c2ln" {
		t.Fatalf("unexpected bundle: %+v", b)
	}
	r := b.Rules[0]
	if r.Severity != SeverityHigh || r.Action != ActionNotify || !r.AppliesTo(ChannelEmail) || r.AppliesTo(ChannelUSB) {
		t.Errorf("unexpected rule: %+v", r)
	}
	if _, ok := b.Rule("kw"); !ok {
		t.Error("Rule(kw) not found")
	}

	if _, err := DecodeBundle([]byte(`{"version": 1, "policies": [{"severity": "apocalyptic"}]}`)); err == nil {
		t.Error("expected error for unknown severity")
	}
	if _, err := DecodeBundle([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestRejectError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("install: %w", &RejectError{Reason: RejectStaleVersion, Candidate: 5, Current: 7, Cause: cause})

	if !errors.Is(err, ErrStaleVersion) {
		t.Error("expected errors.Is(ErrStaleVersion)")
	}
	if errors.Is(err, ErrInvalidSignature) {
		t.Error("unexpected match on ErrInvalidSignature")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be unwrapped")
	}
	if ReasonOf(err) != RejectStaleVersion {
		t.Errorf("ReasonOf() = %v", ReasonOf(err))
	}
	if ReasonOf(cause) != 0 {
		t.Error("ReasonOf() of plain error should be zero")
	}
	if !strings.Contains(err.Error(), "reason=stale_version") {
		t.Errorf("Error() = %q", err.Error())
	}
}
