package fetch

import (
	"context"
	"sync"
)

// hostLimiter enforces the global and per-host concurrency caps from spec
// section 5: a global cap on simultaneous outbound requests, and a per-host
// cap so no single origin can monopolize it. Both are FIFO channel
// semaphores; per-host semaphores are created lazily under a mutex, per the
// guidance in spec section 9.
type hostLimiter struct {
	global chan struct{}

	mu      sync.Mutex
	perHost map[string]chan struct{}
	hostCap int
}

func newHostLimiter(globalCap, hostCap int) *hostLimiter {
	return &hostLimiter{
		global:  make(chan struct{}, globalCap),
		perHost: make(map[string]chan struct{}),
		hostCap: hostCap,
	}
}

// acquire blocks until both a global slot and a slot for host are free, or
// ctx is done. It returns a release func that must be called exactly once.
func (l *hostLimiter) acquire(ctx context.Context, host string) (func(), error) {
	select {
	case l.global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	hostSem := l.semFor(host)
	select {
	case hostSem <- struct{}{}:
	case <-ctx.Done():
		<-l.global
		return nil, ctx.Err()
	}

	release := func() {
		<-hostSem
		<-l.global
	}
	return release, nil
}

func (l *hostLimiter) semFor(host string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sem, ok := l.perHost[host]; ok {
		return sem
	}
	sem := make(chan struct{}, l.hostCap)
	l.perHost[host] = sem
	return sem
}
