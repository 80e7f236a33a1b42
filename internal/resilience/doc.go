// Package resilience provides reliability and fault tolerance patterns for pushl.
// It includes implementations of circuit breakers and retry logic layered on
// top of the per-host concurrency caps in internal/fetch and internal/ping,
// so that an unreachable origin degrades gracefully instead of exhausting a
// run's concurrency budget.
//
// The package supports:
//   - Circuit breakers for remote hosts (feed/entry fetches, WebSub/Webmention/Wayback pings)
//   - Retry logic with exponential backoff and jitter
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.DefaultConfig("my-service"))
//	result, err := cb.Execute(func() (interface{}, error) {
//	    return callExternalService()
//	})
//
//	retryConfig := retry.DefaultConfig()
//	err = retry.WithBackoff(ctx, retryConfig, func() error {
//	    return performOperation()
//	})
package resilience
