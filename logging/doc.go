// Package logging provides a minimal logging interface and adapters for atlasforge.
//
// The Logger interface defines the leveled key/value methods (Debug, Info, Warn,
// Error) that the broker, runtimes, router and orchestrator use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ForgeLogger with component/session scoping and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	b := broker.New(func(o *broker.Options) { o.Logger = logger })
//
// Every component accepts a nil logger and substitutes NoOpLogger via Ensure.
package logging
