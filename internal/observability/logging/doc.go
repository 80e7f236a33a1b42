// Package logging provides structured logging utilities with context propagation.
//
// This package wraps the standard library's log/slog package with helper functions
// for common logging patterns used throughout pushl.
//
// Key features:
//   - JSON and text output formats
//   - Task correlation ID propagation
//   - Context-aware logging
//   - Configurable log levels
//
// Example usage:
//
//	import "pushl/internal/observability/logging"
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("run started", slog.String("version", "1.0"))
//	}
//
//	func runTask(ctx context.Context) {
//	    logger := logging.WithTaskID(ctx, slog.Default())
//	    logger.Info("processing task")
//	}
package logging
