package policysync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/metrics"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/tracing"
)

// PoliciesPath is the management server endpoint bundles are fetched from.
const PoliciesPath = "/api/v1/policies"

// HeaderDeviceID identifies the agent to the management server.
const HeaderDeviceID = "X-Device-ID"

// MaxBundleBytes caps the size of a fetched bundle.
const MaxBundleBytes = 16 << 20

// Defaults for Config.
const (
	DefaultInterval        = 300 * time.Second
	DefaultTimeout         = 30 * time.Second
	DefaultTriggerInterval = 10 * time.Second
)

// Installer is the policy store as seen by the sync client.
type Installer interface {
	Install(candidate *policy.Bundle) error
	Version() int64
}

// Auditor records rejected bundles.
type Auditor interface {
	Append(ctx context.Context, d audit.Draft) (audit.Record, error)
}

// Config contains configuration for the sync client.
type Config struct {
	// BaseURL is the management server base URL.
	BaseURL string

	// Token is the bearer token. Empty sends no Authorization header.
	Token string

	// DeviceID is sent as X-Device-ID.
	DeviceID string

	// Interval between scheduled cycles.
	// Default: 300s
	Interval time.Duration

	// Timeout bounds one fetch.
	// Default: 30s
	Timeout time.Duration

	// TriggerInterval is the minimum spacing of manual triggers.
	// Default: 10s
	TriggerInterval time.Duration

	// Client is the HTTP client.
	// Default: http.Client with no timeout of its own
	Client *http.Client

	// Clock returns the current time.
	// Default: time.Now
	Clock func() time.Time
}

// Client synchronizes the policy store with the management server.
type Client struct {
	config  Config
	url     string
	store   Installer
	auditor Auditor
	metrics *metrics.Collector
	logger  *slog.Logger
	limiter *rate.Limiter

	state    atomic.Int32
	inFlight atomic.Bool

	mu      sync.Mutex
	status  Status
	cron    *cron.Cron
	running bool
}

// New creates a sync client installing into store. auditor and collector
// may be nil.
func New(config Config, store Installer, auditor Auditor, collector *metrics.Collector, logger *slog.Logger) (*Client, error) {
	if store == nil {
		return nil, errors.New("policy store cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, errors.New("sync base URL cannot be empty")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.TriggerInterval <= 0 {
		config.TriggerInterval = DefaultTriggerInterval
	}
	if config.Client == nil {
		config.Client = &http.Client{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:  config,
		url:     strings.TrimRight(config.BaseURL, "/") + PoliciesPath,
		store:   store,
		auditor: auditor,
		metrics: collector,
		logger:  logger.With("component", "policy.sync"),
		limiter: rate.NewLimiter(rate.Every(config.TriggerInterval), 1),
		cron:    cron.New(),
	}, nil
}

// State returns the current cycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Status returns the current state and the result of the last cycle.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.State = c.State()
	return s
}

// Trigger runs a cycle now unless one ran less than TriggerInterval ago.
func (c *Client) Trigger(ctx context.Context) (State, error) {
	if !c.limiter.Allow() {
		return StateIdle, ErrRateLimited
	}
	return c.Sync(ctx)
}

// Sync runs one cycle and returns its outcome: StateInstalled,
// StateNotModified, StateRejected or StateFailed. It returns ErrInProgress
// without doing anything when another cycle is running.
func (c *Client) Sync(ctx context.Context) (State, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return StateIdle, ErrInProgress
	}
	defer c.inFlight.Store(false)
	defer c.setState(StateIdle)

	ctx, span := tracing.Start(ctx, "policy.Sync")
	start := c.config.Clock()

	outcome, err := c.cycle(ctx)
	duration := c.config.Clock().Sub(start)

	span.SetAttributes(
		tracing.AttrSyncOutcome.String(outcome.String()),
		tracing.AttrPolicyVersion.Int64(c.store.Version()),
	)
	tracing.End(span, err)
	c.metrics.RecordSync(outcome.String(), duration)
	c.record(outcome, start, err)

	return outcome, err
}

func (c *Client) cycle(ctx context.Context) (State, error) {
	current := c.store.Version()

	c.setState(StateFetching)
	bundle, err := c.fetch(ctx, current)
	if err != nil {
		var reject *policy.RejectError
		if errors.As(err, &reject) {
			c.rejected(ctx, reject)
			return StateRejected, err
		}
		c.logger.Warn("policy fetch failed", "current_version", current, "error", err)
		return StateFailed, err
	}
	if bundle == nil {
		c.logger.Debug("policy not modified", "current_version", current)
		return StateNotModified, nil
	}

	c.setState(StateVerifying)
	if err := c.store.Install(bundle); err != nil {
		var reject *policy.RejectError
		if errors.As(err, &reject) {
			c.rejected(ctx, reject)
			return StateRejected, err
		}
		return StateFailed, err
	}

	c.logger.Info("policy synchronized",
		"version", bundle.Version,
		"previous_version", current,
	)
	return StateInstalled, nil
}

// fetch returns the offered bundle, or nil when the server has nothing
// newer than current.
func (c *Client) fetch(ctx context.Context, current int64) (*policy.Bundle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	u := c.url + "?" + url.Values{"current_version": {strconv.FormatInt(current, 10)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
	if c.config.DeviceID != "" {
		req.Header.Set(HeaderDeviceID, c.config.DeviceID)
	}
	tracing.Inject(ctx, req.Header)

	resp, err := c.config.Client.Do(req)
	if err != nil {
		return nil, &FetchError{Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified || resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("unexpected response %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBundleBytes+1))
	if err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Cause: err}
	}
	if len(body) > MaxBundleBytes {
		return nil, &policy.RejectError{
			Reason:  policy.RejectMalformedBundle,
			Current: current,
			Cause:   fmt.Errorf("bundle exceeds %d bytes", MaxBundleBytes),
		}
	}

	bundle, err := policy.DecodeBundle(body)
	if err != nil {
		return nil, &policy.RejectError{
			Reason:  policy.RejectMalformedBundle,
			Current: current,
			Cause:   err,
		}
	}
	return bundle, nil
}

// rejected writes the critical audit record for a refused bundle.
func (c *Client) rejected(ctx context.Context, reject *policy.RejectError) {
	c.logger.Error("policy bundle from server rejected",
		"reason", reject.Reason.String(),
		"candidate_version", reject.Candidate,
		"current_version", reject.Current,
	)
	if c.auditor == nil {
		return
	}

	_, err := c.auditor.Append(ctx, audit.Draft{
		Category:      audit.CategoryConfig,
		Severity:      policy.SeverityCritical,
		Outcome:       audit.OutcomeRejected,
		Actor:         "policy-sync",
		Description:   "policy bundle rejected: " + reject.Reason.String(),
		PolicyVersion: reject.Current,
		Metadata: map[string]string{
			"reason":            reject.Reason.String(),
			"candidate_version": strconv.FormatInt(reject.Candidate, 10),
			"source":            c.url,
		},
	})
	if err != nil {
		c.logger.Error("failed to audit policy rejection", "error", err)
	}
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Client) record(outcome State, at time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.LastOutcome = outcome
	c.status.LastAttempt = at
	c.status.LastError = ""
	if err != nil {
		c.status.LastError = err.Error()
	}
	if outcome == StateInstalled || outcome == StateNotModified {
		c.status.LastSuccess = at
	}
}

// Start runs a first cycle in the background and then one every Interval
// until ctx is cancelled or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.cron = cron.New()
	spec := fmt.Sprintf("@every %s", c.config.Interval)
	if _, err := c.cron.AddFunc(spec, func() { c.scheduled(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule policy sync: %w", err)
	}
	c.cron.Start()
	c.running = true

	c.logger.Info("policy sync started",
		"endpoint", c.url,
		"interval", c.config.Interval,
	)

	go c.scheduled(ctx)
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	return nil
}

func (c *Client) scheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := c.Sync(ctx); errors.Is(err, ErrInProgress) {
		c.logger.Debug("skipping policy sync, previous cycle still running")
	}
}

// Stop stops the schedule and waits for a running scheduled cycle.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stopped := c.cron.Stop()
	c.mu.Unlock()

	<-stopped.Done()
	c.logger.Info("policy sync stopped")
}

// IsRunning returns true if the schedule is active.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// NextRun returns the next scheduled cycle, or nil when not running.
func (c *Client) NextRun() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	entries := c.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
