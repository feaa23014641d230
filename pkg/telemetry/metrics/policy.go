package metrics

import (
	"time"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// PolicyMetrics tracks rule matches and policy distribution.
//
// Metrics:
//   - nextguard_agent_rule_hits_total: Number of times a rule matched, by action
//   - nextguard_agent_policy_version: Version of the installed policy bundle
//   - nextguard_agent_policy_syncs_total: Sync attempts by outcome
//   - nextguard_agent_policy_sync_duration_seconds: Sync attempt duration
type PolicyMetrics struct {
	// Policy rule hits (rule matched during a scan)
	hitsTotal *prometheus.CounterVec

	version prometheus.Gauge

	syncsTotal   *prometheus.CounterVec
	syncDuration prometheus.Histogram
}

// NewPolicyMetrics creates and registers policy metrics with the provided registry.
func NewPolicyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PolicyMetrics {
	pm := &PolicyMetrics{
		hitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_hits_total",
				Help:      "Total number of policy rule matches",
			},
			[]string{"rule_id", "action"},
		),

		version: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_version",
				Help:      "Version of the installed policy bundle",
			},
		),

		syncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_syncs_total",
				Help:      "Total number of policy sync attempts",
			},
			[]string{"outcome"},
		),

		syncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_sync_duration_seconds",
				Help:      "Duration of policy sync attempts in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}

	registry.MustRegister(
		pm.hitsTotal,
		pm.version,
		pm.syncsTotal,
		pm.syncDuration,
	)

	return pm
}

// RecordHit records when a policy rule matched.
func (pm *PolicyMetrics) RecordHit(ruleID, action string) {
	pm.hitsTotal.WithLabelValues(ruleID, action).Inc()
}

// SetVersion sets the installed policy version.
func (pm *PolicyMetrics) SetVersion(version int64) {
	pm.version.Set(float64(version))
}

// RecordSync records a sync attempt.
func (pm *PolicyMetrics) RecordSync(outcome string, duration time.Duration) {
	pm.syncsTotal.WithLabelValues(outcome).Inc()
	pm.syncDuration.Observe(duration.Seconds())
}
