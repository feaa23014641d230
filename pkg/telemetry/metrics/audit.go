package metrics

import (
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// AuditMetrics tracks the audit chain and its upload.
//
// Metrics:
//   - nextguard_agent_audit_records_total: Records appended, by category
//   - nextguard_agent_audit_write_failures_total: Appends that did not reach disk
//   - nextguard_agent_audit_segments_pruned_total: Segments removed by retention
//   - nextguard_agent_upload_batches_total: Upload requests, by status
//   - nextguard_agent_upload_records_total: Records delivered
//   - nextguard_agent_upload_duration_seconds: Upload request duration
//   - nextguard_agent_upload_pending: Records waiting for upload
type AuditMetrics struct {
	appendsTotal  *prometheus.CounterVec
	failuresTotal prometheus.Counter
	prunedTotal   prometheus.Counter

	batchesTotal   *prometheus.CounterVec
	recordsTotal   prometheus.Counter
	uploadDuration prometheus.Histogram
	pending        prometheus.Gauge
}

// NewAuditMetrics creates and registers audit metrics with the provided registry.
func NewAuditMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *AuditMetrics {
	am := &AuditMetrics{
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_records_total",
				Help:      "Total number of audit records appended",
			},
			[]string{"category"},
		),

		failuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_write_failures_total",
				Help:      "Total number of audit records that could not be written",
			},
		),

		prunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "audit_segments_pruned_total",
				Help:      "Total number of audit segments removed by retention",
			},
		),

		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upload_batches_total",
				Help:      "Total number of audit upload requests",
			},
			[]string{"status"},
		),

		recordsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upload_records_total",
				Help:      "Total number of audit records delivered",
			},
		),

		uploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upload_duration_seconds",
				Help:      "Duration of audit upload requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "upload_pending",
				Help:      "Number of audit records waiting for upload",
			},
		),
	}

	registry.MustRegister(
		am.appendsTotal,
		am.failuresTotal,
		am.prunedTotal,
		am.batchesTotal,
		am.recordsTotal,
		am.uploadDuration,
		am.pending,
	)

	return am
}

// RecordAppend records an appended audit record.
func (am *AuditMetrics) RecordAppend(category string) {
	am.appendsTotal.WithLabelValues(category).Inc()
}

// RecordFailure records a failed audit write.
func (am *AuditMetrics) RecordFailure() {
	am.failuresTotal.Inc()
}

// RecordPruned records removed segments.
func (am *AuditMetrics) RecordPruned(n int) {
	am.prunedTotal.Add(float64(n))
}

// RecordUpload records an upload request. Records only count as delivered
// on success.
func (am *AuditMetrics) RecordUpload(status string, records int, duration time.Duration) {
	am.batchesTotal.WithLabelValues(status).Inc()
	am.uploadDuration.Observe(duration.Seconds())
	if status == "success" {
		am.recordsTotal.Add(float64(records))
	}
}

// SetPending sets the pending record count.
func (am *AuditMetrics) SetPending(n int) {
	am.pending.Set(float64(n))
}
