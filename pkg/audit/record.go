package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
)

// GenesisHash is the link hash the first record of a chain links to.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Category classifies an audit record.
type Category string

const (
	CategoryScan       Category = "dlp.scan"
	CategoryUnscanned  Category = "dlp.unscanned"
	CategoryConfig     Category = "config.change"
	CategorySync       Category = "policy.sync"
	CategoryLifecycle  Category = "agent.lifecycle"
	CategoryQuarantine Category = "quarantine"
)

// Outcomes recorded for non-scan events. Scan records use the action name.
const (
	OutcomeUnscanned = "unscanned"
	OutcomeInstalled = "installed"
	OutcomeRejected  = "rejected"
	OutcomeStarted   = "started"
	OutcomeStopped   = "stopped"
	OutcomeStored    = "stored"
	OutcomeFailed    = "failed"
)

// Draft is an audit record before it joins the chain.
type Draft struct {
	// Timestamp defaults to the chain clock when zero.
	Timestamp     time.Time
	Category      Category
	Severity      policy.Severity
	Outcome       string
	Actor         string
	Description   string
	Metadata      map[string]string
	ContentHash   string
	PolicyVersion int64
	RuleIDs       []string
}

// Record is one entry of the audit chain. Records are written as one JSON
// line each and never modified after they are appended.
type Record struct {
	ID            uint64            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Category      Category          `json:"category"`
	Severity      policy.Severity   `json:"severity"`
	Outcome       string            `json:"outcome"`
	Actor         string            `json:"actor,omitempty"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ContentHash   string            `json:"content_hash,omitempty"`
	PolicyVersion int64             `json:"policy_version,omitempty"`
	RuleIDs       []string          `json:"rule_ids,omitempty"`

	// LinkHash chains the record to its predecessor:
	// HMAC-SHA256(key, prev.LinkHash || decimal(ID)).
	LinkHash string `json:"link_hash"`

	// BodyHash is HMAC-SHA256(key, record JSON without the two hashes).
	BodyHash string `json:"body_hash"`
}

// Hasher computes the keyed chain hashes.
type Hasher struct {
	key []byte
}

// NewHasher creates a hasher with the chain key.
func NewHasher(key []byte) (*Hasher, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("audit chain key cannot be empty")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Hasher{key: k}, nil
}

// Link returns the link hash of record id following prev.
func (h *Hasher) Link(prev string, id uint64) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(prev))
	mac.Write([]byte(strconv.FormatUint(id, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Body returns the body hash of r.
func (h *Hasher) Body(r Record) (string, error) {
	r.LinkHash = ""
	r.BodyHash = ""
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal record body: %w", err)
	}
	mac := hmac.New(sha256.New, h.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Seal fills in the link and body hashes of r following prev.
func (h *Hasher) Seal(r *Record, prev string) error {
	body, err := h.Body(*r)
	if err != nil {
		return err
	}
	r.LinkHash = h.Link(prev, r.ID)
	r.BodyHash = body
	return nil
}

// Check verifies the hashes of r against prev.
func (h *Hasher) Check(r Record, prev string) error {
	if want := h.Link(prev, r.ID); !hmac.Equal([]byte(want), []byte(r.LinkHash)) {
		return fmt.Errorf("link hash mismatch for record %d", r.ID)
	}
	body, err := h.Body(r)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(body), []byte(r.BodyHash)) {
		return fmt.Errorf("body hash mismatch for record %d", r.ID)
	}
	return nil
}
