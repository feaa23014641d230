package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Signer produces a signature over a message.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// Verifier checks a signature over a message against a trusted key.
type Verifier interface {
	Verify(message, signature []byte) bool
}

// Bundle is a versioned, signed collection of rules. The JSON form is the
// wire format served by the management server and the format of the local
// policy cache.
type Bundle struct {
	Version   int64     `json:"version"`
	Rules     []Rule    `json:"policies"`
	Signature string    `json:"signature,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
}

// CanonicalRules returns the canonical serialization of a rule slice, the
// byte string that bundle signatures cover.
func CanonicalRules(rules []Rule) ([]byte, error) {
	if rules == nil {
		rules = []Rule{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rules); err != nil {
		return nil, fmt.Errorf("canonicalize rules: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Digest returns the SHA-256 digest of the canonical rule serialization.
func (b *Bundle) Digest() ([]byte, error) {
	canonical, err := CanonicalRules(b.Rules)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}

// Validate checks that the bundle is structurally sound: a positive version
// and valid rules with unique identifiers.
func (b *Bundle) Validate() error {
	if b == nil {
		return errors.New("bundle is nil")
	}
	if b.Version <= 0 {
		return fmt.Errorf("bundle version must be positive, got %d", b.Version)
	}
	seen := make(map[string]struct{}, len(b.Rules))
	for i, r := range b.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("policies[%d]: %w", i, err)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("policies[%d]: duplicate rule id %q", i, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// Sign computes the bundle signature with signer and stores it base64
// encoded in Signature.
func (b *Bundle) Sign(signer Signer) error {
	digest, err := b.Digest()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return fmt.Errorf("sign bundle: %w", err)
	}
	b.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// VerifySignature checks the bundle signature against verifier.
func (b *Bundle) VerifySignature(verifier Verifier) error {
	if b.Signature == "" {
		return errors.New("bundle is not signed")
	}
	sig, err := base64.StdEncoding.DecodeString(b.Signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	digest, err := b.Digest()
	if err != nil {
		return err
	}
	if !verifier.Verify(digest, sig) {
		return errors.New("signature does not match policies")
	}
	return nil
}

// Rule returns the rule with the given id.
func (b *Bundle) Rule(id string) (Rule, bool) {
	for _, r := range b.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// DecodeBundle parses a wire-format bundle.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &b, nil
}

// EncodeBundle serializes a bundle in wire format.
func EncodeBundle(b *Bundle) ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	return data, nil
}
