// Package telemetry groups the agent's observability packages.
//
// # Components
//
//   - logging: structured slog logging with PII redaction
//   - metrics: Prometheus collectors for scans, policy sync and the audit
//     pipeline
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness and readiness checks served by the status server
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordScan("file", "block", time.Since(start), len(content), false)
//
//	ctx, span := tracing.Start(ctx, "agent.Scan")
//	defer span.End()
//
// # PII Protection
//
// Log attributes are redacted before they are written:
//
//   - Emails: user@example.com → ***@example.com
//   - Card, SSN and HKID numbers are masked
//   - Bearer tokens, AWS keys and passwords are replaced
//
// Inspected content never reaches logs, metrics labels or span attributes.
// Custom redaction patterns can be configured.
package telemetry
