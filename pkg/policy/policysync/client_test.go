package policysync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/store"
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

func wireBundle(t *testing.T, signer *keys.Signer, version int64) []byte {
	t.Helper()
	b := &policy.Bundle{
		Version: version,
		Rules: []policy.Rule{{
			ID:       "hkid",
			Name:     "HKID number",
			Patterns: []string{`[A-Z]{1,2}[0-9]{6}\([0-9A]\)`},
			Severity: policy.SeverityHigh,
			Action:   policy.ActionBlock,
			Enabled:  true,
		}},
	}
	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	data, err := policy.EncodeBundle(b)
	if err != nil {
		t.Fatalf("EncodeBundle() failed: %v", err)
	}
	return data
}

type recordingAuditor struct {
	mu     sync.Mutex
	drafts []audit.Draft
}

func (a *recordingAuditor) Append(ctx context.Context, d audit.Draft) (audit.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.drafts = append(a.drafts, d)
	return audit.Record{ID: uint64(len(a.drafts))}, nil
}

func (a *recordingAuditor) all() []audit.Draft {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Draft(nil), a.drafts...)
}

type fixture struct {
	store   *store.Store
	auditor *recordingAuditor
	client  *Client
}

func newFixture(t *testing.T, signer *keys.Signer, handler http.Handler, mutate func(*Config)) *fixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	st, err := store.Open(store.Config{Verifier: signer.Public()}, quietLogger())
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	auditor := &recordingAuditor{}

	cfg := Config{
		BaseURL:  srv.URL,
		Token:    "sync-token",
		DeviceID: "device-7",
		Timeout:  2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := New(cfg, st, auditor, nil, quietLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return &fixture{store: st, auditor: auditor, client: client}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://console"}, nil, nil, nil, nil); err == nil {
		t.Error("expected error for nil store")
	}
	st, _ := store.Open(store.Config{Verifier: testSigner(t).Public()}, quietLogger())
	if _, err := New(Config{}, st, nil, nil, nil); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestSync_Installed(t *testing.T) {
	signer := testSigner(t)
	body := wireBundle(t, signer, 3)

	var (
		mu     sync.Mutex
		gotReq *http.Request
	)
	f := newFixture(t, signer, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotReq = r.Clone(context.Background())
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}), nil)

	state, err := f.client.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	if state != StateInstalled {
		t.Fatalf("state = %v, want installed", state)
	}
	if f.store.Version() != 3 {
		t.Errorf("store version = %d, want 3", f.store.Version())
	}

	mu.Lock()
	defer mu.Unlock()
	if gotReq.URL.Path != PoliciesPath || gotReq.URL.Query().Get("current_version") != "0" {
		t.Errorf("request = %s", gotReq.URL)
	}
	if got := gotReq.Header.Get("Authorization"); got != "Bearer sync-token" {
		t.Errorf("Authorization = %q", got)
	}
	if got := gotReq.Header.Get(HeaderDeviceID); got != "device-7" {
		t.Errorf("%s = %q", HeaderDeviceID, got)
	}

	status := f.client.Status()
	if status.State != StateIdle || status.LastOutcome != StateInstalled || status.LastSuccess.IsZero() {
		t.Errorf("Status() = %+v", status)
	}
	if len(f.auditor.all()) != 0 {
		t.Error("successful install should not write a rejection record")
	}
}

func TestSync_NotModified(t *testing.T) {
	for _, code := range []int{http.StatusNotModified, http.StatusNoContent} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			f := newFixture(t, testSigner(t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
			}), nil)

			state, err := f.client.Sync(context.Background())
			if err != nil || state != StateNotModified {
				t.Fatalf("Sync() = %v, %v", state, err)
			}
			if f.store.Version() != 0 {
				t.Errorf("store version = %d, want 0", f.store.Version())
			}
		})
	}
}

func TestSync_Failed(t *testing.T) {
	f := newFixture(t, testSigner(t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}), nil)

	state, err := f.client.Sync(context.Background())
	if state != StateFailed {
		t.Fatalf("state = %v, want failed", state)
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("error = %v, want *FetchError with 503", err)
	}
	if f.client.Status().LastError == "" {
		t.Error("expected LastError to be recorded")
	}
	if len(f.auditor.all()) != 0 {
		t.Error("transport failures are not audited")
	}
}

func TestSync_Timeout(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, testSigner(t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), func(c *Config) { c.Timeout = 50 * time.Millisecond })
	defer close(release)

	state, err := f.client.Sync(context.Background())
	var fetchErr *FetchError
	if state != StateFailed || !errors.As(err, &fetchErr) || fetchErr.StatusCode != 0 {
		t.Fatalf("Sync() = %v, %v", state, err)
	}
}

func TestSync_Rejected(t *testing.T) {
	trusted := testSigner(t)
	rogue := testSigner(t)

	tests := []struct {
		name       string
		preinstall int64
		body       func(t *testing.T) []byte
		wantReason policy.RejectReason
	}{
		{
			name:       "invalid signature",
			body:       func(t *testing.T) []byte { return wireBundle(t, rogue, 5) },
			wantReason: policy.RejectInvalidSignature,
		},
		{
			name:       "stale version",
			preinstall: 5,
			body:       func(t *testing.T) []byte { return wireBundle(t, trusted, 4) },
			wantReason: policy.RejectStaleVersion,
		},
		{
			name:       "malformed body",
			body:       func(t *testing.T) []byte { return []byte(`{"version":`) },
			wantReason: policy.RejectMalformedBundle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body(t)
			f := newFixture(t, trusted, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(body)
			}), nil)

			if tt.preinstall > 0 {
				b, _ := policy.DecodeBundle(wireBundle(t, trusted, tt.preinstall))
				if err := f.store.Install(b); err != nil {
					t.Fatalf("Install() failed: %v", err)
				}
			}
			before := f.store.Version()

			state, err := f.client.Sync(context.Background())
			if state != StateRejected {
				t.Fatalf("state = %v, want rejected (err %v)", state, err)
			}
			if policy.ReasonOf(err) != tt.wantReason {
				t.Errorf("reason = %v, want %v", policy.ReasonOf(err), tt.wantReason)
			}
			if f.store.Version() != before {
				t.Errorf("store version changed to %d", f.store.Version())
			}

			drafts := f.auditor.all()
			if len(drafts) != 1 {
				t.Fatalf("got %d audit drafts, want 1", len(drafts))
			}
			d := drafts[0]
			if d.Category != audit.CategoryConfig || d.Severity != policy.SeverityCritical || d.Outcome != audit.OutcomeRejected {
				t.Errorf("draft = %+v", d)
			}
			if d.Metadata["reason"] != tt.wantReason.String() {
				t.Errorf("reason metadata = %q", d.Metadata["reason"])
			}
		})
	}
}

func TestSync_SingleFlight(t *testing.T) {
	signer := testSigner(t)
	body := wireBundle(t, signer, 2)
	entered := make(chan struct{})
	release := make(chan struct{})

	f := newFixture(t, signer, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write(body)
	}), nil)

	done := make(chan State)
	go func() {
		state, _ := f.client.Sync(context.Background())
		done <- state
	}()

	<-entered
	if f.client.State() != StateFetching {
		t.Errorf("State() = %v, want fetching", f.client.State())
	}
	if _, err := f.client.Sync(context.Background()); !errors.Is(err, ErrInProgress) {
		t.Errorf("overlapping Sync() error = %v, want ErrInProgress", err)
	}

	close(release)
	if state := <-done; state != StateInstalled {
		t.Errorf("first Sync() = %v", state)
	}
	if f.client.State() != StateIdle {
		t.Errorf("State() after cycle = %v, want idle", f.client.State())
	}
}

func TestTrigger_RateLimited(t *testing.T) {
	var requests atomic.Int32
	f := newFixture(t, testSigner(t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotModified)
	}), func(c *Config) { c.TriggerInterval = time.Hour })

	if _, err := f.client.Trigger(context.Background()); err != nil {
		t.Fatalf("first Trigger() failed: %v", err)
	}
	if _, err := f.client.Trigger(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second Trigger() error = %v, want ErrRateLimited", err)
	}
	if requests.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", requests.Load())
	}
}

func TestStartStop(t *testing.T) {
	var requests atomic.Int32
	f := newFixture(t, testSigner(t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotModified)
	}), func(c *Config) { c.Interval = time.Hour })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.client.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !f.client.IsRunning() {
		t.Fatal("expected client to be running")
	}
	if next := f.client.NextRun(); next == nil || time.Until(*next) < 59*time.Minute {
		t.Errorf("NextRun() = %v", next)
	}

	deadline := time.Now().Add(5 * time.Second)
	for requests.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial cycle did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.client.Stop()
	if f.client.IsRunning() {
		t.Error("expected client to be stopped")
	}
	if f.client.NextRun() != nil {
		t.Error("NextRun() should be nil when stopped")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:        "idle",
		StateFetching:    "fetching",
		StateVerifying:   "verifying",
		StateInstalled:   "installed",
		StateRejected:    "rejected",
		StateNotModified: "not_modified",
		StateFailed:      "failed",
		State(42):        "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
