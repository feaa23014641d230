// Package logging provides structured logging with PII redaction.
//
// # Overview
//
// The logging package builds a standard *slog.Logger whose handler:
//   - Writes JSON or text output at a configurable level
//   - Adds scan_id, device_id, operation and the active trace/span ids
//     from the context of *Context calls
//   - Redacts card numbers, e-mail addresses, HKID and SSN numbers,
//     bearer tokens, AWS access keys and passwords from every string
//   - Replaces values under sensitive keys ("token", "content",
//     "snippet", ...) entirely
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//
//	ctx = logging.WithScanID(ctx, scanID)
//	logger.InfoContext(ctx, "scan blocked",
//	    "channel", "clipboard",
//	    "token", bearer, // replaced entirely
//	)
//
// # PII Redaction
//
//   - Cards: 4111 1111 1111 1111 → ****-****-****-****
//   - Emails: alice@example.com → ***@example.com
//   - HKID: A123456(7) → *******(*)
//   - Tokens: Bearer abc.def → Bearer ***
package logging
