// Package middleware provides the HTTP middleware of the local status
// server: request ids, request logging and panic recovery.
//
// Recovery sits inside Logging so that recovered panics are logged with
// their 500 status and request id:
//
//	var h http.Handler = mux
//	h = tracing.HTTPMiddleware(h)
//	h = middleware.Recovery(logger)(h)
//	h = middleware.Logging(logger, "/healthz", "/readyz", "/metrics")(h)
//	h = middleware.RequestID(h)
package middleware
