// Package logging provides a minimal logging interface and adapters for prismmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the multiplexer, unit cores and links use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MeshLogger with unit/request context and pulse/refraction helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mux := multiplexer.New(reg, func(o *multiplexer.Options) { o.Logger = logger })
//
// Args passed to the logging methods are slog style key/value pairs.
package logging
