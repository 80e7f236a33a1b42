// Package observability provides production-grade observability infrastructure
// including structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// This package centralizes observability concerns to enable:
//   - Task tracing across the scheduler's concurrent task graph
//   - Structured logging with context propagation
//   - Prometheus metrics for monitoring a run
//   - Performance profiling and debugging
//
// Subpackages:
//   - logging: Structured logging utilities with slog
//   - metrics: Prometheus metrics registry and recorders
//   - tracing: OpenTelemetry tracing integration
//
// Example usage:
//
//	import (
//	    "pushl/internal/observability/logging"
//	    "pushl/internal/observability/metrics"
//	)
//
//	func main() {
//	    logger := logging.NewLogger()
//	    logger.Info("run started")
//
//	    metrics.RecordFetch("example.com", "success")
//	}
package observability
