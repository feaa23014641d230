package metrics

import (
	"sync"
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// OtherLabel replaces rule ids once the cardinality limit is reached.
const OtherLabel = "other"

// Collector is the main orchestrator for all Prometheus metrics of the
// agent. It manages metric registration and provides one entry point for
// recording metrics across components.
//
// A nil *Collector is valid and records nothing, so components can take an
// optional collector without checking it at every call site.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	scanMetrics   *ScanMetrics
	policyMetrics *PolicyMetrics
	auditMetrics  *AuditMetrics

	// Cardinality tracking for per-rule series
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a new private registry with
// the Go runtime and process collectors is used.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "nextguard",
//		Subsystem: "agent",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.ScanDurationBuckets) == 0 {
		cfg.ScanDurationBuckets = append([]float64(nil), config.DefaultScanDurationBuckets...)
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.scanMetrics = NewScanMetrics(cfg, registry)
	c.policyMetrics = NewPolicyMetrics(cfg, registry)
	c.auditMetrics = NewAuditMetrics(cfg, registry)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordScan records one completed scan.
//
// Parameters:
//   - channel: Channel the content was observed on ("file", "clipboard", ...)
//   - action: Final action of the scan ("allow", "block", ...)
//   - duration: Time spent inspecting the content
//   - bytes: Number of bytes inspected
//   - truncated: Whether the content exceeded the scan limit
func (c *Collector) RecordScan(channel, action string, duration time.Duration, bytes int, truncated bool) {
	if !c.enabled() {
		return
	}

	c.scanMetrics.RecordScan(channel, action, duration, bytes, truncated)
}

// RecordUnscanned records content that could not be inspected (unreadable
// or unsupported file).
func (c *Collector) RecordUnscanned(channel, reason string) {
	if !c.enabled() {
		return
	}

	c.scanMetrics.RecordUnscanned(channel, reason)
}

// RecordRuleHit records that a rule matched during a scan. Rule ids beyond
// the cardinality limit are aggregated into "other".
func (c *Collector) RecordRuleHit(ruleID, action string) {
	if !c.enabled() {
		return
	}

	if !c.cardinalityLimiter.Allow(ruleID) {
		ruleID = OtherLabel
	}
	c.policyMetrics.RecordHit(ruleID, action)
}

// SetPolicyVersion updates the installed policy version gauge.
func (c *Collector) SetPolicyVersion(version int64) {
	if !c.enabled() {
		return
	}

	c.policyMetrics.SetVersion(version)
}

// RecordSync records the outcome of one policy sync attempt.
//
// Parameters:
//   - outcome: "installed", "not_modified", "rejected" or "failed"
//   - duration: Time from request to outcome
func (c *Collector) RecordSync(outcome string, duration time.Duration) {
	if !c.enabled() {
		return
	}

	c.policyMetrics.RecordSync(outcome, duration)
}

// RecordAuditAppend records a record appended to the audit chain.
func (c *Collector) RecordAuditAppend(category string) {
	if !c.enabled() {
		return
	}

	c.auditMetrics.RecordAppend(category)
}

// RecordAuditFailure records an audit write that did not reach disk.
func (c *Collector) RecordAuditFailure() {
	if !c.enabled() {
		return
	}

	c.auditMetrics.RecordFailure()
}

// RecordSegmentsPruned records segments removed by retention.
func (c *Collector) RecordSegmentsPruned(n int) {
	if !c.enabled() {
		return
	}

	c.auditMetrics.RecordPruned(n)
}

// RecordUploadBatch records one upload request.
//
// Parameters:
//   - status: "success" or "failure"
//   - records: Number of records in the batch
//   - duration: Request duration
func (c *Collector) RecordUploadBatch(status string, records int, duration time.Duration) {
	if !c.enabled() {
		return
	}

	c.auditMetrics.RecordUpload(status, records, duration)
}

// SetUploadPending updates the pending upload queue gauge.
func (c *Collector) SetUploadPending(n int) {
	if !c.enabled() {
		return
	}

	c.auditMetrics.SetPending(n)
}

// Registry returns the Prometheus registry used by this collector.
// This can be used to create an HTTP handler for the /metrics endpoint:
//
//	http.Handle("/metrics", promhttp.HandlerFor(
//		collector.Registry(),
//		promhttp.HandlerOpts{},
//	))
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label value is allowed. Returns true if the value
// already exists or if we haven't reached the cardinality limit yet.
// Returns false if adding this value would exceed the limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[labelSet]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
