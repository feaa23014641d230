package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/agent"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/policysync"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/server/middleware"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/health"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/metrics"
)

type fakeAgent struct {
	status   agent.Status
	err      error
	state    policysync.State
	syncErr  error
	flushErr error
	flushed  int
}

func (f *fakeAgent) Status(ctx context.Context) (agent.Status, error) {
	return f.status, f.err
}

func (f *fakeAgent) TriggerSync(ctx context.Context) (policysync.State, error) {
	return f.state, f.syncErr
}

func (f *fakeAgent) FlushPending(ctx context.Context) error {
	f.flushed++
	return f.flushErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Agent.DataDir = "/var/lib/nextguard"
	config.ApplyDefaults(cfg)
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Server.ListenAddress = "127.0.0.1:0"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, ag Agent) *Server {
	t.Helper()
	checker := health.New(time.Second)
	checker.RegisterCheck(health.CheckPolicy, health.PolicyCheck(func() int64 { return 3 }))
	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	s, err := New(cfg, ag, checker, collector, BuildInfo{Version: "1.2.3", Commit: "abc123"}, quietLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

func do(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil, &fakeAgent{}, nil, nil, BuildInfo{}, nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(testConfig(), nil, nil, nil, BuildInfo{}, nil); err == nil {
		t.Error("expected error for nil agent")
	}

	cfg := testConfig()
	cfg.Security.StatusAuth.Enabled = true
	if _, err := New(cfg, &fakeAgent{}, nil, nil, BuildInfo{}, nil); err == nil {
		t.Error("expected error for status auth without keys")
	}
}

func TestStatus(t *testing.T) {
	ag := &fakeAgent{status: agent.Status{
		DeviceID:       "dev-1",
		PolicyVersion:  7,
		PendingUploads: 12,
		SyncState:      "idle",
	}}
	h := newTestServer(t, testConfig(), ag).Handler()

	w := do(h, http.MethodGet, StatusPath, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["policy_version"] != float64(7) || body["pending_uploads"] != float64(12) || body["sync_state"] != "idle" {
		t.Errorf("body = %v", body)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}

	if w := do(h, http.MethodPost, StatusPath, nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", w.Code)
	}

	ag.err = errors.New("queue closed")
	if w := do(h, http.MethodGet, StatusPath, nil); w.Code != http.StatusInternalServerError {
		t.Errorf("status on error = %d", w.Code)
	}
}

func TestSync(t *testing.T) {
	tests := []struct {
		name     string
		state    policysync.State
		err      error
		wantCode int
		wantBody string
	}{
		{"installed", policysync.StateInstalled, nil, http.StatusOK, `"state":"installed"`},
		{"not modified", policysync.StateNotModified, nil, http.StatusOK, `"state":"not_modified"`},
		{"disabled", policysync.StateIdle, agent.ErrSyncDisabled, http.StatusConflict, "disabled"},
		{"rate limited", policysync.StateIdle, policysync.ErrRateLimited, http.StatusTooManyRequests, "rate limited"},
		{"in progress", policysync.StateIdle, policysync.ErrInProgress, http.StatusConflict, "in progress"},
		{"rejected", policysync.StateRejected, errors.New("stale policy version"), http.StatusBadGateway, `"state":"rejected"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, testConfig(), &fakeAgent{state: tt.state, syncErr: tt.err}).Handler()
			w := do(h, http.MethodPost, SyncPath, nil)
			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestFlush(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"flushed", nil, http.StatusNoContent},
		{"disabled", agent.ErrUploadDisabled, http.StatusConflict},
		{"server down", errors.New("connection refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ag := &fakeAgent{flushErr: tt.err}
			h := newTestServer(t, testConfig(), ag).Handler()
			if w := do(h, http.MethodPost, FlushPath, nil); w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if ag.flushed != 1 {
				t.Errorf("FlushPending called %d times", ag.flushed)
			}
		})
	}
}

func TestStatusAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security.StatusAuth = config.StatusAuthConfig{
		Enabled: true,
		Keys:    []config.APIKeyConfig{{Key: "s3cret", Name: "ops"}},
	}
	h := newTestServer(t, cfg, &fakeAgent{}).Handler()

	tests := []struct {
		name     string
		method   string
		path     string
		header   http.Header
		wantCode int
	}{
		{"status without key", http.MethodGet, StatusPath, nil, http.StatusUnauthorized},
		{"status wrong key", http.MethodGet, StatusPath, http.Header{"X-Api-Key": {"nope"}}, http.StatusUnauthorized},
		{"status bearer", http.MethodGet, StatusPath, http.Header{"Authorization": {"Bearer s3cret"}}, http.StatusOK},
		{"sync without key", http.MethodPost, SyncPath, nil, http.StatusUnauthorized},
		{"flush with key", http.MethodPost, FlushPath, http.Header{"X-Api-Key": {"s3cret"}}, http.StatusNoContent},
		{"health stays open", http.MethodGet, "/healthz", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(h, tt.method, tt.path, tt.header); w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestProbesAndMetrics(t *testing.T) {
	h := newTestServer(t, testConfig(), &fakeAgent{}).Handler()

	if w := do(h, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	w := do(h, http.MethodGet, "/readyz", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ready"`) {
		t.Errorf("readyz = %d %s", w.Code, w.Body.String())
	}
	w = do(h, http.MethodGet, VersionPath, nil)
	if !strings.Contains(w.Body.String(), `"version":"1.2.3"`) {
		t.Errorf("version = %s", w.Body.String())
	}
	if w := do(h, http.MethodGet, "/metrics", nil); w.Code != http.StatusOK {
		t.Errorf("metrics = %d", w.Code)
	}

	cfg := testConfig()
	cfg.Telemetry.Metrics.Enabled = false
	h = newTestServer(t, cfg, &fakeAgent{}).Handler()
	if w := do(h, http.MethodGet, "/metrics", nil); w.Code != http.StatusNotFound {
		t.Errorf("metrics disabled = %d, want 404", w.Code)
	}
}

func TestStartShutdown(t *testing.T) {
	s := newTestServer(t, testConfig(), &fakeAgent{status: agent.Status{PolicyVersion: 2}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + s.Addr() + StatusPath)
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if !s.IsRunning() {
		t.Error("expected running server")
	}
	if err := s.Start(ctx); err == nil {
		t.Error("expected error starting twice")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if s.IsRunning() {
		t.Error("server still running")
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestStart_ListenError(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ListenAddress = "256.0.0.1:99999"
	s := newTestServer(t, cfg, &fakeAgent{})
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected listen error")
	}
}
