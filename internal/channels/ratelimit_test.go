package channels

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAllowsBurst(t *testing.T) {
	limiter := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Fatalf("Allow() #%d = false, want burst of 3", i)
		}
	}
	if limiter.Allow() {
		t.Fatal("Allow() = true after burst exhausted")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	limiter := NewRateLimiter(1000, 1)

	if !limiter.Allow() {
		t.Fatal("initial token missing")
	}
	time.Sleep(5 * time.Millisecond)
	if !limiter.Allow() {
		t.Fatal("Allow() = false after refill window")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1)
	limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait() = nil with empty bucket and expired context")
	}
}
