// Package health provides the agent's liveness and readiness probes.
//
// Liveness only says the process is running. Readiness runs the registered
// component checks concurrently, each bounded by the check timeout, and
// reports "degraded" with HTTP 503 when any of them fails. The agent
// registers three checks:
//
//   - policy: a policy bundle is active
//   - audit: the last audit append was persisted
//   - upload_queue: the upload backlog is below telemetry.health.max_pending_uploads
//
// Usage:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck(health.CheckPolicy, health.PolicyCheck(store.Version))
//	checker.RegisterCheck(health.CheckAudit, health.AuditCheck(chain.Healthy))
//	health.Register(mux, checker, &cfg.Telemetry.Health)
package health
