// Package ctxkey defines context key types shared across packages.
// It must not import other internal packages.
package ctxkey

// LoggerKey is the context key type for the request-scoped logger.
type LoggerKey struct{}

// RequestIDKey is the context key type for the request ID.
type RequestIDKey struct{}
