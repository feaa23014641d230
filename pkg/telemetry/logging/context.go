package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// ScanIDKey is the context key for scan identifiers.
	ScanIDKey contextKey = "scan_id"

	// DeviceIDKey is the context key for the device identifier.
	DeviceIDKey contextKey = "device_id"

	// OperationKey is the context key for the agent operation
	// ("scan", "sync", "upload", "prune").
	OperationKey contextKey = "operation"
)

// WithScanID adds a scan ID to the context.
func WithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, ScanIDKey, scanID)
}

// GetScanID retrieves the scan ID from the context.
func GetScanID(ctx context.Context) string {
	if id, ok := ctx.Value(ScanIDKey).(string); ok {
		return id
	}
	return ""
}

// WithDeviceID adds the device ID to the context.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, DeviceIDKey, deviceID)
}

// GetDeviceID retrieves the device ID from the context.
func GetDeviceID(ctx context.Context) string {
	if id, ok := ctx.Value(DeviceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithOperation adds the operation name to the context.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, OperationKey, op)
}

// GetOperation retrieves the operation name from the context.
func GetOperation(ctx context.Context) string {
	if op, ok := ctx.Value(OperationKey).(string); ok {
		return op
	}
	return ""
}

// contextAttrs extracts common fields from context, including the trace
// and span ids of an active OpenTelemetry span.
func contextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if id := GetScanID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(ScanIDKey), id))
	}
	if id := GetDeviceID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(DeviceIDKey), id))
	}
	if op := GetOperation(ctx); op != "" {
		attrs = append(attrs, slog.String(string(OperationKey), op))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return attrs
}
