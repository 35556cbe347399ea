package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// With rate.NewLimiter(10, 2), the limiter starts with 2 tokens in the bucket
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("acct-a") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("acct-a") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("acct-a") {
		t.Error("Third request should be rate limited")
	}

	// Keys are independent
	if !limiter.Allow("acct-b") {
		t.Error("Other key should have its own bucket")
	}

	// Wait for token refill (10 req/s = 100ms per token)
	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("acct-a") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestWaitRespectsContext(t *testing.T) {
	limiter := NewLimiter(0.001, 1)
	limiter.Allow("acct-a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "acct-a"); err == nil {
		t.Error("Wait should fail when the next token is beyond the deadline")
	}
}

func TestDisabledLimiter(t *testing.T) {
	limiter := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("acct-a") {
			t.Fatalf("request %d limited by a disabled limiter", i)
		}
	}
}

func TestCleanupOldLimiters(t *testing.T) {
	limiter := NewLimiter(10, 2)
	limiter.Allow("acct-a")
	time.Sleep(20 * time.Millisecond)
	limiter.Allow("acct-b")

	if removed := limiter.CleanupOldLimiters(10 * time.Millisecond); removed != 1 {
		t.Errorf("CleanupOldLimiters() removed %d, want 1", removed)
	}
}
