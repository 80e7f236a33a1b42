package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestRegistry_DisabledWhenZeroRPS(t *testing.T) {
	r := NewRegistry(0, 1)

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := r.Wait(context.Background(), "example.com"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("expected disabled limiter to never block")
	}
}

func TestRegistry_PerHostIsolation(t *testing.T) {
	r := NewRegistry(1000, 1)

	a := r.limiterFor("a.example.com")
	b := r.limiterFor("b.example.com")
	aAgain := r.limiterFor("a.example.com")

	if a == b {
		t.Error("expected distinct limiters per host")
	}
	if a != aAgain {
		t.Error("expected same limiter instance for repeated host lookups")
	}
}

func TestRegistry_WaitRespectsContextCancellation(t *testing.T) {
	r := NewRegistry(0.001, 1)
	_ = r.Wait(context.Background(), "slow.example.com") // consume the initial burst token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx, "slow.example.com")
	if err == nil {
		t.Error("expected Wait to report context deadline exceeded")
	}
}
