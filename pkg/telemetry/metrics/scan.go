package metrics

import (
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ScanMetrics tracks content inspection.
//
// Metrics:
//   - nextguard_agent_scans_total: Scans by channel and final action
//   - nextguard_agent_scan_duration_seconds: Inspection time by channel
//   - nextguard_agent_scanned_bytes_total: Bytes inspected by channel
//   - nextguard_agent_scans_truncated_total: Scans cut at the size limit
//   - nextguard_agent_unscanned_total: Content that could not be inspected
type ScanMetrics struct {
	scansTotal     *prometheus.CounterVec
	scanDuration   *prometheus.HistogramVec
	bytesTotal     *prometheus.CounterVec
	truncatedTotal *prometheus.CounterVec
	unscannedTotal *prometheus.CounterVec
}

// NewScanMetrics creates and registers scan metrics with the provided registry.
func NewScanMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ScanMetrics {
	sm := &ScanMetrics{
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "scans_total",
				Help:      "Total number of content scans",
			},
			[]string{"channel", "action"},
		),

		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "scan_duration_seconds",
				Help:      "Duration of content inspection in seconds",
				Buckets:   cfg.ScanDurationBuckets,
			},
			[]string{"channel"},
		),

		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "scanned_bytes_total",
				Help:      "Total number of bytes inspected",
			},
			[]string{"channel"},
		),

		truncatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "scans_truncated_total",
				Help:      "Total number of scans truncated at the size limit",
			},
			[]string{"channel"},
		),

		unscannedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "unscanned_total",
				Help:      "Total number of items that could not be inspected",
			},
			[]string{"channel", "reason"},
		),
	}

	registry.MustRegister(
		sm.scansTotal,
		sm.scanDuration,
		sm.bytesTotal,
		sm.truncatedTotal,
		sm.unscannedTotal,
	)

	return sm
}

// RecordScan records a completed scan.
func (sm *ScanMetrics) RecordScan(channel, action string, duration time.Duration, bytes int, truncated bool) {
	sm.scansTotal.WithLabelValues(channel, action).Inc()
	sm.scanDuration.WithLabelValues(channel).Observe(duration.Seconds())
	sm.bytesTotal.WithLabelValues(channel).Add(float64(bytes))
	if truncated {
		sm.truncatedTotal.WithLabelValues(channel).Inc()
	}
}

// RecordUnscanned records an item that was not inspected.
func (sm *ScanMetrics) RecordUnscanned(channel, reason string) {
	sm.unscannedTotal.WithLabelValues(channel, reason).Inc()
}
