// Package logging provides a minimal logging interface and slog based
// adapters for evalmesh.
//
// The Logger interface takes a message plus alternating key/value pairs and
// is what the dispatcher, agent loop and runner accept. This package includes:
//
//   - Logger interface for dependency injection
//   - StructuredLogger with component and run scoping plus helpers for model
//     calls, tool executions and loop runs
//   - NoOpLogger for silent operation
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	d := dispatch.New(catalog, factories, func(o *dispatch.Options) { o.Logger = logger })
package logging
