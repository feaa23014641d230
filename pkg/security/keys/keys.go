// Package keys provides the signing and sealing capabilities the agent
// depends on: Ed25519 signatures for policy bundles and upload batches,
// AES-256-GCM sealing for quarantined content, and HKDF derivation of
// purpose-bound keys from a device master key.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// PEM block types.
const (
	PublicKeyBlock  = "PUBLIC KEY"
	PrivateKeyBlock = "PRIVATE KEY"
)

// Signer signs messages with an Ed25519 private key.
type Signer struct {
	key ed25519.PrivateKey
}

// NewSigner wraps an Ed25519 private key.
func NewSigner(key ed25519.PrivateKey) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key size %d", len(key))
	}
	return &Signer{key: key}, nil
}

// Sign returns the Ed25519 signature of message.
func (s *Signer) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(s.key, message), nil
}

// Public returns the verifier for the signer's public key.
func (s *Signer) Public() *Verifier {
	return &Verifier{key: s.key.Public().(ed25519.PublicKey)}
}

// Verifier checks Ed25519 signatures against a trusted public key.
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier wraps an Ed25519 public key.
func NewVerifier(key ed25519.PublicKey) (*Verifier, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid ed25519 public key size %d", len(key))
	}
	return &Verifier{key: key}, nil
}

// Verify reports whether signature is a valid signature of message.
func (v *Verifier) Verify(message, signature []byte) bool {
	return len(signature) == ed25519.SignatureSize && ed25519.Verify(v.key, message, signature)
}

// Key returns the public key.
func (v *Verifier) Key() ed25519.PublicKey {
	return v.key
}

// GenerateKeyPair creates a new Ed25519 key pair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return pub, priv, nil
}

// SavePublicKey writes key as a PEM file readable by everyone.
func SavePublicKey(path string, key ed25519.PublicKey) error {
	return writePEM(path, &pem.Block{Type: PublicKeyBlock, Bytes: key}, 0644)
}

// SavePrivateKey writes key as a PEM file readable only by the owner.
func SavePrivateKey(path string, key ed25519.PrivateKey) error {
	return writePEM(path, &pem.Block{Type: PrivateKeyBlock, Bytes: key}, 0600)
}

func writePEM(path string, block *pem.Block, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	// #nosec G304 - key paths come from operator configuration.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(file, block); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// LoadPublicKey reads an Ed25519 public key from a PEM file. Both raw keys
// and PKIX-encoded keys are accepted.
func LoadPublicKey(path string) (*Verifier, error) {
	block, err := readPEM(path, PublicKeyBlock)
	if err != nil {
		return nil, err
	}
	if len(block.Bytes) == ed25519.PublicKeySize {
		return NewVerifier(ed25519.PublicKey(block.Bytes))
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	pub, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key %s is not ed25519", path)
	}
	return NewVerifier(pub)
}

// LoadPrivateKey reads an Ed25519 private key from a PEM file. Both raw keys
// and PKCS#8-encoded keys are accepted.
func LoadPrivateKey(path string) (*Signer, error) {
	block, err := readPEM(path, PrivateKeyBlock)
	if err != nil {
		return nil, err
	}
	if len(block.Bytes) == ed25519.PrivateKeySize {
		return NewSigner(ed25519.PrivateKey(block.Bytes))
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", path, err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key %s is not ed25519", path)
	}
	return NewSigner(priv)
}

func readPEM(path, blockType string) (*pem.Block, error) {
	// #nosec G304 - key paths come from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found in " + path)
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("unexpected PEM block %q in %s, want %q", block.Type, path, blockType)
	}
	return block, nil
}
