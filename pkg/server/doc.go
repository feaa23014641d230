// Package server provides the agent's local status server.
//
// The server listens on loopback (127.0.0.1:9477 by default) and exposes:
//
//	GET  /healthz     liveness
//	GET  /readyz      readiness: policy loaded, audit chain writable, upload backlog
//	GET  /metrics     Prometheus metrics, when telemetry.metrics.enabled
//	GET  /version     build information
//	GET  /v1/status   policy version, sync state and pending uploads
//	POST /v1/sync     run a policy sync cycle now (rate limited)
//	POST /v1/flush    upload one batch of pending audit records now
//
// The /v1 routes require an API key when security.status_auth.enabled is
// set. Every request gets an X-Request-ID, a log line and a trace span.
//
//	srv, err := server.New(cfg, agent, agent.Health(), collector, build, logger)
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx) // returns after ctx is cancelled
package server
