package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/metrics"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/tracing"
)

// EventsPath is the management server endpoint records are posted to.
const EventsPath = "/api/v1/audit/events"

// Request headers.
const (
	HeaderDeviceID       = "X-Device-ID"
	HeaderBatchSignature = "X-Batch-Signature"
)

// Defaults for Config.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 300 * time.Second
	DefaultTimeout       = 30 * time.Second
)

// Config contains configuration for the uploader.
type Config struct {
	// BaseURL is the management server base URL.
	BaseURL string

	// Token is the bearer token. Empty sends no Authorization header.
	Token string

	// DeviceID is sent as X-Device-ID.
	DeviceID string

	// BatchSize is the maximum number of records per request. Reaching
	// it also triggers a background flush.
	// Default: 100
	BatchSize int

	// FlushInterval is the periodic flush interval.
	// Default: 300s
	FlushInterval time.Duration

	// Timeout bounds one upload request.
	// Default: 30s
	Timeout time.Duration

	// Signer signs each request body. Optional.
	Signer *keys.Signer

	// Client is the HTTP client.
	// Default: http.Client with no timeout of its own
	Client *http.Client
}

// Uploader batches audit records and posts them to the management server.
type Uploader struct {
	config  Config
	url     string
	queue   Queue
	metrics *metrics.Collector
	logger  *slog.Logger

	flushMu sync.Mutex // one batch in flight at a time
	signal  chan struct{}

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates an uploader draining queue. The queue is owned by the caller.
func New(config Config, queue Queue, collector *metrics.Collector, logger *slog.Logger) (*Uploader, error) {
	if queue == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, errors.New("upload base URL cannot be empty")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Client == nil {
		config.Client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	u := &Uploader{
		config:  config,
		url:     strings.TrimRight(config.BaseURL, "/") + EventsPath,
		queue:   queue,
		metrics: collector,
		logger:  logger.With("component", "upload"),
		signal:  make(chan struct{}, 1),
		cron:    cron.New(),
	}
	if n, err := queue.Len(context.Background()); err == nil {
		u.metrics.SetUploadPending(n)
	}
	return u, nil
}

// Enqueue adds records to the pending queue. It never waits on the network;
// once the queue holds a full batch a background flush is signalled.
func (u *Uploader) Enqueue(records ...audit.Record) {
	ctx := context.Background()
	if err := u.queue.Push(ctx, records...); err != nil {
		u.logger.Error("failed to queue audit records for upload",
			"count", len(records),
			"error", err,
		)
		return
	}

	n, err := u.queue.Len(ctx)
	if err != nil {
		return
	}
	u.metrics.SetUploadPending(n)
	if n >= u.config.BatchSize {
		u.Signal()
	}
}

// Signal requests a background flush. It never blocks.
func (u *Uploader) Signal() {
	select {
	case u.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of records waiting for upload.
func (u *Uploader) Pending(ctx context.Context) (int, error) {
	return u.queue.Len(ctx)
}

// FlushPending uploads one batch of up to BatchSize records from the front
// of the queue. The batch is removed only after a 2xx response; on any
// other outcome it stays at the front and an *UploadError is returned.
func (u *Uploader) FlushPending(ctx context.Context) error {
	_, err := u.flush(ctx)
	return err
}

// Drain uploads batches until the queue is empty or an upload fails.
func (u *Uploader) Drain(ctx context.Context) error {
	for {
		sent, err := u.flush(ctx)
		if err != nil || sent == 0 {
			return err
		}
	}
}

func (u *Uploader) flush(ctx context.Context) (int, error) {
	u.flushMu.Lock()
	defer u.flushMu.Unlock()

	batch, err := u.queue.Peek(ctx, u.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	ctx, span := tracing.Start(ctx, "upload.Flush")
	span.SetAttributes(tracing.AttrUploadRecords.Int(len(batch)))

	start := time.Now()
	err = u.post(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		u.metrics.RecordUploadBatch("failure", len(batch), duration)
		u.logger.Warn("audit upload failed, batch kept for retry",
			"records", len(batch),
			"first_id", batch[0].ID,
			"error", err,
		)
		tracing.End(span, err)
		return 0, err
	}

	// The server has the batch; removal must not be cut short by ctx.
	if err := u.queue.Remove(context.WithoutCancel(ctx), len(batch)); err != nil {
		tracing.End(span, err)
		return 0, err
	}

	u.metrics.RecordUploadBatch("success", len(batch), duration)
	if n, err := u.queue.Len(ctx); err == nil {
		u.metrics.SetUploadPending(n)
	}
	u.logger.Debug("audit batch uploaded",
		"records", len(batch),
		"first_id", batch[0].ID,
		"last_id", batch[len(batch)-1].ID,
		"duration", duration,
	)
	tracing.End(span, nil)
	return len(batch), nil
}

func (u *Uploader) post(ctx context.Context, batch []audit.Record) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return &UploadError{Records: len(batch), Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, u.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return &UploadError{Records: len(batch), Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if u.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.config.Token)
	}
	if u.config.DeviceID != "" {
		req.Header.Set(HeaderDeviceID, u.config.DeviceID)
	}
	if u.config.Signer != nil {
		sig, err := u.config.Signer.Sign(body)
		if err != nil {
			return &UploadError{Records: len(batch), Cause: fmt.Errorf("sign batch: %w", err)}
		}
		req.Header.Set(HeaderBatchSignature, base64.StdEncoding.EncodeToString(sig))
	}
	tracing.Inject(ctx, req.Header)

	resp, err := u.config.Client.Do(req)
	if err != nil {
		return &UploadError{Records: len(batch), Cause: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UploadError{
			StatusCode: resp.StatusCode,
			Records:    len(batch),
			Cause:      fmt.Errorf("unexpected response %s", resp.Status),
		}
	}
	return nil
}

// Start runs the background flush worker and the periodic flush schedule
// until ctx is cancelled or Stop is called.
func (u *Uploader) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.running {
		return nil
	}

	u.cron = cron.New()
	spec := fmt.Sprintf("@every %s", u.config.FlushInterval)
	if _, err := u.cron.AddFunc(spec, u.Signal); err != nil {
		return fmt.Errorf("failed to schedule upload flush: %w", err)
	}

	stop := make(chan struct{})
	u.stop = stop
	u.wg.Add(1)
	go u.worker(ctx, stop)

	u.cron.Start()
	u.running = true

	u.logger.Info("audit uploader started",
		"endpoint", u.url,
		"batch_size", u.config.BatchSize,
		"flush_interval", u.config.FlushInterval,
	)

	go func() {
		select {
		case <-ctx.Done():
			u.Stop()
		case <-stop:
		}
	}()

	return nil
}

func (u *Uploader) worker(ctx context.Context, stop <-chan struct{}) {
	defer u.wg.Done()

	// Abandoned requests are cancelled; their batch stays queued.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.signal:
			if err := u.Drain(ctx); err != nil {
				u.logger.Debug("background flush stopped", "error", err)
			}
		}
	}
}

// Stop stops the schedule and the worker. An upload in flight is
// cancelled and its batch stays queued.
func (u *Uploader) Stop() {
	u.mu.Lock()
	if !u.running {
		u.mu.Unlock()
		return
	}
	u.running = false
	<-u.cron.Stop().Done()
	close(u.stop)
	u.mu.Unlock()

	u.wg.Wait()
	u.logger.Info("audit uploader stopped")
}

// IsRunning returns true if the background worker is running.
func (u *Uploader) IsRunning() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.running
}
