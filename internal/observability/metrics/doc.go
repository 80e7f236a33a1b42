// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all pushl run metrics including:
//   - Cache hit/miss and conditional-GET outcomes
//   - Fetch counts and latencies per host
//   - Task graph submissions, completions, and failures
//   - Ping dispatch outcomes (WebSub, Webmention, Wayback) per kind
//
// All metrics are registered with the Prometheus default registry and, when
// --metrics-addr is set, exposed via the /metrics endpoint for the duration
// of the run.
//
// Example usage:
//
//	import "pushl/internal/observability/metrics"
//
//	func fetchOne(host string) {
//	    start := time.Now()
//	    // ... fetch ...
//	    metrics.RecordFetch(host, "success")
//	    metrics.RecordFetchDuration(host, time.Since(start))
//	}
package metrics
