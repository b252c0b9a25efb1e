package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles byte throughput using the token bucket algorithm.
//
// One token is one byte. This implementation wraps golang.org/x/time/rate to provide:
//   - Token bucket limiting (allows bursts while enforcing the sustained rate)
//   - Context-aware waiting (respects cancellation)
//   - Transparent splitting of requests larger than the bucket
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a new RateLimiter with the specified rate and burst capacity.
//
// Parameters:
//   - bytesPerSecond: Maximum sustained rate (tokens added per second)
//   - burst: Maximum burst size (bucket capacity in bytes)
//
// Special cases:
//   - bytesPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: Burst defaults to one second worth of tokens
//
// Example:
//
//	// 10 MiB/s sustained, 20 MiB burst
//	limiter := New(10<<20, 20<<20)
func New(bytesPerSecond, burst uint) *RateLimiter {
	if bytesPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = bytesPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
	}
}

// Allow reports whether n bytes may pass right now, consuming the tokens if so.
func (r *RateLimiter) Allow(n int) bool {
	return r.limiter.AllowN(time.Now(), n)
}

// WaitN blocks until n bytes worth of tokens are available or ctx is cancelled.
//
// Requests larger than the burst are split into burst-sized waits, so a single
// large transfer is smoothed over time instead of failing.
//
// Returns:
//   - nil when all tokens were acquired
//   - the context error if ctx was cancelled while waiting, or an error
//     wrapping context.DeadlineExceeded if the wait would outlast its deadline
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r.limiter.Limit() == rate.Inf {
		return ctx.Err()
	}

	burst := r.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := r.limiter.WaitN(ctx, step); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The limiter refuses waits that cannot finish before the deadline.
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		n -= step
	}
	return nil
}

// SetLimit updates the sustained rate. Zero removes the limit.
func (r *RateLimiter) SetLimit(bytesPerSecond uint) {
	if bytesPerSecond == 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Limit(bytesPerSecond))
	if r.limiter.Burst() == 0 {
		r.limiter.SetBurst(int(bytesPerSecond))
	}
}

// Tokens returns the current number of available tokens.
//
// This is primarily useful for monitoring and debugging.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}
