package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit/retention"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit/upload"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/engine"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/policysync"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/store"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/policy/watcher"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/quarantine"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/keys"
	ngtls "github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/security/tls"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/health"
	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/telemetry/metrics"
)

// Actor names used in agent-generated audit records.
const (
	ActorAgent       = "agent"
	ActorPolicyStore = "policy-store"
)

var (
	// ErrUploadDisabled is returned by FlushPending when upload is off.
	ErrUploadDisabled = errors.New("audit upload is disabled")

	// ErrSyncDisabled is returned by TriggerSync when sync is off.
	ErrSyncDisabled = errors.New("policy sync is disabled")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("agent is closed")
)

// Agent wires the inspection engine, the policy store and its feeders, the
// audit chain and its uploader into the two calls channel monitors make:
// Scan and Append.
type Agent struct {
	config   *config.Config
	deviceID string
	logger   *slog.Logger
	metrics  *metrics.Collector

	store    *store.Store
	engine   *engine.Engine
	chain    *audit.Chain
	pruner   *retention.Pruner
	health   *health.Checker
	queue    upload.Queue
	uploader *upload.Uploader
	sync     *policysync.Client
	watcher  *watcher.Watcher
	vault    *quarantine.Vault
	reloader *ngtls.CertificateReloader

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an agent from cfg. cfg must have defaults applied. collector
// may be nil.
func New(cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) (a *Agent, err error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Policy.PublicKeyPath == "" {
		return nil, errors.New("policy.public_key_path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a = &Agent{
		config:  cfg,
		logger:  logger.With("component", "agent"),
		metrics: collector,
	}
	defer func() {
		if err != nil {
			_ = a.closeResources()
		}
	}()

	if err := os.MkdirAll(cfg.Agent.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	a.deviceID = cfg.Agent.DeviceID
	if a.deviceID == "" {
		if a.deviceID, err = LoadOrCreateDeviceID(cfg.Agent.DataDir); err != nil {
			return nil, err
		}
	}

	master, err := keys.LoadOrCreateMasterKey(cfg.Agent.MasterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key: %w", err)
	}
	defer keys.Zero(master)

	auditKey, err := keys.DeriveKey(master, keys.PurposeAuditChain)
	if err != nil {
		return nil, err
	}

	verifier, err := keys.LoadPublicKey(cfg.Policy.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy public key: %w", err)
	}

	if a.store, err = store.Open(store.Config{
		CachePath: cfg.Policy.CachePath,
		Verifier:  verifier,
	}, logger); err != nil {
		return nil, err
	}

	if a.engine, err = engine.New(a.store, &engine.Config{
		MaxScanBytes: cfg.Agent.MaxScanBytes,
		RiskWeights:  engine.DefaultRiskWeights(),
	}, logger); err != nil {
		return nil, err
	}

	if a.chain, err = audit.Open(audit.Config{
		Dir:             cfg.Audit.Dir,
		Key:             auditKey,
		MaxSegmentBytes: cfg.Audit.MaxSegmentBytes,
		MaxSegmentAge:   cfg.Audit.MaxSegmentAge,
	}, logger); err != nil {
		return nil, err
	}

	a.store.OnInstall(a.onInstall)
	a.metrics.SetPolicyVersion(a.store.Version())

	if a.pruner, err = retention.NewPruner(a.chain, &retention.Config{
		RetentionDays:       cfg.Audit.RetentionDays,
		PruneSchedule:       cfg.Audit.PruneSchedule,
		ArchiveBeforeDelete: cfg.Audit.ArchivePath != "",
		ArchivePath:         cfg.Audit.ArchivePath,
	}, logger); err != nil {
		return nil, err
	}

	var client *http.Client
	if cfg.Sync.Enabled || cfg.Upload.Enabled {
		if client, a.reloader, err = ngtls.NewHTTPClient(&cfg.Security.TLS, 0, logger); err != nil {
			return nil, fmt.Errorf("failed to configure management server TLS: %w", err)
		}
	}

	if cfg.Upload.Enabled {
		if err := a.setupUpload(client, logger); err != nil {
			return nil, err
		}
	}

	if cfg.Sync.Enabled {
		if a.sync, err = policysync.New(policysync.Config{
			BaseURL:         cfg.Sync.BaseURL,
			Token:           cfg.Sync.Token,
			DeviceID:        a.deviceID,
			Interval:        cfg.Sync.Interval,
			Timeout:         cfg.Sync.Timeout,
			TriggerInterval: cfg.Sync.TriggerInterval,
			Client:          client,
		}, a.store, a, collector, logger); err != nil {
			return nil, err
		}
	}

	if cfg.Policy.WatchImport && cfg.Policy.ImportDir != "" {
		if a.watcher, err = watcher.New(watcher.Config{
			Dir:      cfg.Policy.ImportDir,
			Debounce: cfg.Policy.ImportDebounce,
		}, a.store, a, logger); err != nil {
			return nil, err
		}
	}

	if cfg.Quarantine.Enabled {
		sealKey, err := keys.DeriveKey(master, keys.PurposeQuarantine)
		if err != nil {
			return nil, err
		}
		sealer, err := keys.NewSealer(sealKey)
		keys.Zero(sealKey)
		if err != nil {
			return nil, err
		}
		if a.vault, err = quarantine.New(cfg.Quarantine.Dir, sealer, logger); err != nil {
			return nil, err
		}
	}

	a.health = health.New(cfg.Telemetry.Health.CheckTimeout)
	a.health.RegisterCheck(health.CheckPolicy, health.PolicyCheck(a.store.Version))
	a.health.RegisterCheck(health.CheckAudit, health.AuditCheck(a.chain.Healthy))
	if a.uploader != nil {
		a.health.RegisterCheck(health.CheckUploadQueue,
			health.UploadQueueCheck(a.uploader.Pending, cfg.Telemetry.Health.MaxPendingUploads))
	}

	a.logger.Info("agent initialized",
		"device_id", a.deviceID,
		"policy_version", a.store.Version(),
		"policy_origin", a.store.Origin(),
		"sync", a.sync != nil,
		"upload", a.uploader != nil,
		"import_watch", a.watcher != nil,
		"quarantine", a.vault != nil,
	)
	return a, nil
}

func (a *Agent) setupUpload(client *http.Client, logger *slog.Logger) error {
	cfg := a.config.Upload

	var signer *keys.Signer
	if cfg.SigningKeyPath != "" {
		var err error
		if signer, err = keys.LoadPrivateKey(cfg.SigningKeyPath); err != nil {
			return fmt.Errorf("failed to load upload signing key: %w", err)
		}
	}

	queue, err := upload.OpenQueue(cfg.QueueBackend, cfg.QueuePath, logger)
	if err != nil {
		return err
	}
	a.queue = queue

	if a.uploader, err = upload.New(upload.Config{
		BaseURL:       cfg.BaseURL,
		Token:         cfg.Token,
		DeviceID:      a.deviceID,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		Timeout:       cfg.Timeout,
		Signer:        signer,
		Client:        client,
	}, queue, a.metrics, logger); err != nil {
		return err
	}
	a.chain.SetSink(a.uploader)
	return nil
}

// onInstall runs after every successful policy install.
func (a *Agent) onInstall(prev, next *policy.Bundle) {
	a.engine.Prepare(next)
	a.metrics.SetPolicyVersion(next.Version)

	var prevVersion int64
	if prev != nil {
		prevVersion = prev.Version
	}
	_, _ = a.Append(context.Background(), audit.Draft{
		Category:      audit.CategoryConfig,
		Severity:      policy.SeverityInfo,
		Outcome:       audit.OutcomeInstalled,
		Actor:         ActorPolicyStore,
		Description:   fmt.Sprintf("policy bundle %d installed", next.Version),
		PolicyVersion: next.Version,
		Metadata: map[string]string{
			"previous_version": strconv.FormatInt(prevVersion, 10),
			"rules":            strconv.Itoa(len(next.Rules)),
		},
	})
}

// Start launches the background components: certificate reload, audit
// upload, policy sync, the import watcher and retention. They run until
// ctx is cancelled or Close is called.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.reloader != nil {
		if err := a.reloader.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("failed to load device certificate: %w", err)
		}
	}
	if a.uploader != nil {
		if err := a.uploader.Start(ctx); err != nil {
			cancel()
			return err
		}
	}
	if a.sync != nil {
		if err := a.sync.Start(ctx); err != nil {
			cancel()
			return err
		}
	}
	if err := a.pruner.Start(ctx); err != nil {
		cancel()
		return err
	}
	if a.watcher != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := a.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("policy import watcher stopped", "error", err)
			}
		}()
	}

	a.started = true
	a.lifecycle(ctx, audit.OutcomeStarted)
	a.logger.Info("agent started", "device_id", a.deviceID)
	return nil
}

// Close stops the background components and closes the audit chain and
// upload queue. Records still pending upload stay in the queue.
func (a *Agent) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	started := a.started
	a.mu.Unlock()

	if started {
		if a.sync != nil {
			a.sync.Stop()
		}
		if a.watcher != nil {
			_ = a.watcher.Stop()
		}
		a.pruner.Stop()
		if a.uploader != nil {
			a.uploader.Stop()
		}
		a.cancel()
		a.wg.Wait()
		a.lifecycle(context.Background(), audit.OutcomeStopped)
	}

	err := a.closeResources()
	a.logger.Info("agent stopped")
	return err
}

// closeResources closes what New opened. Components that were never
// created are nil.
func (a *Agent) closeResources() error {
	var errs []error
	if a.chain != nil {
		if err := a.chain.Close(); err != nil && !errors.Is(err, audit.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close audit chain: %w", err))
		}
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close upload queue: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *Agent) lifecycle(ctx context.Context, outcome string) {
	_, _ = a.Append(ctx, audit.Draft{
		Category:      audit.CategoryLifecycle,
		Severity:      policy.SeverityInfo,
		Outcome:       outcome,
		Actor:         ActorAgent,
		Description:   "agent " + outcome,
		PolicyVersion: a.store.Version(),
		Metadata:      map[string]string{"device_id": a.deviceID},
	})
}

// DeviceID returns the id this endpoint reports to the management server.
func (a *Agent) DeviceID() string {
	return a.deviceID
}

// Health returns the readiness checker.
func (a *Agent) Health() *health.Checker {
	return a.health
}

// Store returns the policy store.
func (a *Agent) Store() *store.Store {
	return a.store
}

// Chain returns the audit chain.
func (a *Agent) Chain() *audit.Chain {
	return a.chain
}

// Vault returns the quarantine vault, or nil when quarantine is disabled.
func (a *Agent) Vault() *quarantine.Vault {
	return a.vault
}
