package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Sampling strategies.
const (
	// SamplerAlways samples all traces
	SamplerAlways = "always"

	// SamplerNever samples no traces
	SamplerNever = "never"

	// SamplerRatio samples a fraction of root traces, ignoring the parent
	SamplerRatio = "ratio"

	// SamplerParentRatio follows the parent's decision and samples a
	// fraction of root traces
	SamplerParentRatio = "parent_ratio"
)

// createSampler creates a sampler based on the strategy and ratio.
//
// The agent starts most traces itself (scans, sync and upload cycles), so
// "ratio" and "parent_ratio" only differ for spans continued from an
// extracted remote context.
//
//	telemetry:
//	  tracing:
//	    sampler: parent_ratio
//	    sample_ratio: 0.1
func createSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	switch strategy {
	case SamplerAlways:
		return sdktrace.AlwaysSample(), nil
	case SamplerNever:
		return sdktrace.NeverSample(), nil
	case SamplerRatio, SamplerParentRatio:
		if ratio < 0.0 || ratio > 1.0 {
			return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
		}
		if strategy == SamplerRatio {
			return sdktrace.TraceIDRatioBased(ratio), nil
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio)), nil
	default:
		return nil, fmt.Errorf("unknown sampler strategy: %s (valid: always, never, ratio, parent_ratio)", strategy)
	}
}
