package ratelimiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestNew verifies rate limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		bytesPerSecond uint
		burst          uint
	}{
		{name: "standard rate", bytesPerSecond: 1024, burst: 2048},
		{name: "default burst", bytesPerSecond: 4096, burst: 0},
		{name: "unlimited (zero rate)", bytesPerSecond: 0, burst: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.bytesPerSecond, tt.burst)
			if limiter == nil || limiter.limiter == nil {
				t.Fatal("New() returned an uninitialized limiter")
			}
		})
	}
}

// TestAllow verifies that Allow() enforces the byte budget.
func TestAllow(t *testing.T) {
	limiter := New(100, 100)

	if !limiter.Allow(100) {
		t.Fatal("first 100 bytes should be allowed (within burst)")
	}
	if limiter.Allow(50) {
		t.Fatal("bucket should be empty after burst exhausted")
	}
}

// TestUnlimited verifies a zero rate never throttles.
func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 1000; i++ {
		if !limiter.Allow(1 << 20) {
			t.Fatalf("unlimited limiter rejected request %d", i)
		}
	}
	if err := limiter.WaitN(context.Background(), 1<<30); err != nil {
		t.Fatalf("WaitN on unlimited limiter: %v", err)
	}
}

// TestWaitNSplitsLargeRequests verifies requests larger than the burst still succeed.
func TestWaitNSplitsLargeRequests(t *testing.T) {
	limiter := New(10_000, 1_000)

	start := time.Now()
	if err := limiter.WaitN(context.Background(), 2_500); err != nil {
		t.Fatalf("WaitN failed: %v", err)
	}

	// 1000 bytes come from the full bucket, the remaining 1500 need ~150ms.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("WaitN returned too early: %v", elapsed)
	}
}

// TestWaitNCancelled verifies context cancellation aborts a wait.
func TestWaitNCancelled(t *testing.T) {
	limiter := New(1, 1)
	_ = limiter.Allow(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.WaitN(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitN should fail with a deadline error, got %v", err)
	}
}

// TestWaitNCancelledBeforeWait verifies an already cancelled context is reported as such.
func TestWaitNCancelledBeforeWait(t *testing.T) {
	limiter := New(1, 1)
	_ = limiter.Allow(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.WaitN(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitN should fail with context.Canceled, got %v", err)
	}
}

// TestSetLimit verifies dynamic rate adjustment.
func TestSetLimit(t *testing.T) {
	limiter := New(10, 10)
	limiter.SetLimit(0)
	if !limiter.Allow(1 << 20) {
		t.Fatal("limit removal should allow any request")
	}
}
