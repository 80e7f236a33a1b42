// Package tracing provides OpenTelemetry tracing integration.
//
// The scheduler wraps every task it runs in its own span, named after the
// task's kind, so a run's fetch/parse/ping fan-out shows up in whatever
// backend Init is pointed at. Call Init once at process startup to turn
// GetTracer's spans from no-ops into something actually exported; without
// it spans are still created (so task code can unconditionally start child
// spans) but go nowhere.
//
// Example usage:
//
//	import "pushl/internal/observability/tracing"
//
//	func runTask(ctx context.Context) {
//	    ctx, span := tracing.GetTracer().Start(ctx, "fetch-feed")
//	    defer span.End()
//	    // ... fetch feed ...
//	}
package tracing
