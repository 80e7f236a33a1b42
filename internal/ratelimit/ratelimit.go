// Package ratelimit smooths outbound request bursts per remote host on top
// of the fetcher's FIFO concurrency caps. It is purely additive: a limiter
// can only delay a request that already holds a concurrency slot, never
// deny it outright, so it cannot violate the at-most-once-per-key fetch
// guarantee or the FIFO acquisition order those caps provide.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Registry lazily creates and caches one rate.Limiter per host.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewRegistry returns a Registry whose limiters allow rps requests per
// second per host, with the given burst size. A zero rps disables limiting
// entirely: Wait becomes a no-op.
func NewRegistry(rps float64, burst int) *Registry {
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until a request to host is permitted to proceed, or ctx is
// done. When the registry was constructed with rps <= 0, Wait always
// returns immediately.
func (r *Registry) Wait(ctx context.Context, host string) error {
	if r.rps <= 0 {
		return nil
	}
	return r.limiterFor(host).Wait(ctx)
}

func (r *Registry) limiterFor(host string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[host]; ok {
		return l
	}
	l := rate.NewLimiter(r.rps, r.burst)
	r.limiters[host] = l
	return l
}
