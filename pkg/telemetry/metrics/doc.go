// Package metrics provides Prometheus metrics collection for the NextGuard
// endpoint agent.
//
// # Metrics Categories
//
//   - Scan Metrics: Scan count by channel and action, inspection time, bytes
//   - Policy Metrics: Rule hits, installed version, sync outcomes
//   - Audit Metrics: Appends, write failures, pruning, upload batches and
//     the pending queue
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	collector.RecordScan("clipboard", "block", 300*time.Microsecond, 2048, false)
//	collector.RecordRuleHit("pci-card-numbers", "block")
//	collector.RecordSync("installed", 120*time.Millisecond)
//
// A nil *Collector is accepted everywhere and records nothing.
//
// # Cardinality Management
//
// Rule ids come from server-distributed policy. The collector tracks at
// most 1,000 distinct ids; further ids are reported as "other".
//
// # Prometheus Endpoint
//
// Metrics use a private registry and are exposed by the local status server:
//
//	# HELP nextguard_agent_scans_total Total number of content scans
//	# TYPE nextguard_agent_scans_total counter
//	nextguard_agent_scans_total{channel="clipboard",action="block"} 12
package metrics
