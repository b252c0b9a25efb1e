package randomaccess

import (
	"context"

	"github.com/marmos91/dittovfs/internal/ratelimiter"
)

// Throttled limits the read and write bandwidth of a RandomAccess[byte].
//
// Reads and writes wait for len(buf) tokens before reaching the target; every
// other operation passes straight through.
type Throttled struct {
	target  RandomAccess[byte]
	limiter *ratelimiter.RateLimiter
}

// NewThrottled wraps target with a limit of bytesPerSecond (0 = unlimited) and
// a burst of burst bytes (0 = one second worth).
func NewThrottled(target RandomAccess[byte], bytesPerSecond, burst uint) *Throttled {
	return NewThrottledShared(target, ratelimiter.New(bytesPerSecond, burst))
}

// NewThrottledShared wraps target with an existing limiter. Stores wrapped with
// the same limiter share one bandwidth budget.
func NewThrottledShared(target RandomAccess[byte], limiter *ratelimiter.RateLimiter) *Throttled {
	return &Throttled{target: target, limiter: limiter}
}

func (t *Throttled) ReadRandom(ctx context.Context, position int64, buf []byte) (int, error) {
	if err := t.limiter.WaitN(ctx, len(buf)); err != nil {
		return 0, err
	}
	return t.target.ReadRandom(ctx, position, buf)
}

func (t *Throttled) WriteRandom(ctx context.Context, position int64, data []byte) error {
	if err := t.limiter.WaitN(ctx, len(data)); err != nil {
		return err
	}
	return t.target.WriteRandom(ctx, position, data)
}

func (t *Throttled) Append(ctx context.Context, data []byte) error {
	if err := t.limiter.WaitN(ctx, len(data)); err != nil {
		return err
	}
	return t.target.Append(ctx, data)
}

func (t *Throttled) GetFileSize(ctx context.Context, refresh bool) (int64, error) {
	return t.target.GetFileSize(ctx, refresh)
}

func (t *Throttled) SetFileSize(ctx context.Context, size int64) error {
	return t.target.SetFileSize(ctx, size)
}

func (t *Throttled) GetPhysicalSize(ctx context.Context) (int64, error) {
	return t.target.GetPhysicalSize(ctx)
}

func (t *Throttled) Flush(ctx context.Context) error {
	return t.target.Flush(ctx)
}

func (t *Throttled) SharedLock() *Lock {
	return t.target.SharedLock()
}
