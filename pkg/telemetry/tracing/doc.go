// Package tracing provides OpenTelemetry tracing for the agent.
//
// New installs a tracer provider exporting over OTLP/gRPC as the global
// provider. Components start spans with Start, which always resolves the
// global provider, and inject W3C trace context into requests sent to the
// management server with Inject. When tracing is disabled the global noop
// provider stays in place.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracing.Start(ctx, "sync.Run")
//	defer span.End()
package tracing
