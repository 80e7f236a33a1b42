package circuitbreaker

import "sync"

// Registry lazily creates and caches one CircuitBreaker per host, mirroring
// the per-host semaphore pool in the fetcher (spec.md
// section 9: "per-host caps are a map from host to semaphore, lazily
// created under a mutex").
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	newCfg   func(host string) Config
}

// NewRegistry returns a Registry that builds breakers with newCfg on first
// use for a given host.
func NewRegistry(newCfg func(host string) Config) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		newCfg:   newCfg,
	}
}

// For returns the breaker for host, creating it if this is the first
// request for that host.
func (r *Registry) For(host string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[host]; ok {
		return cb
	}
	cb := New(r.newCfg(host))
	r.breakers[host] = cb
	return cb
}
