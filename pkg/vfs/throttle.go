package vfs

import (
	"context"

	"github.com/marmos91/dittovfs/internal/ratelimiter"
	"github.com/marmos91/dittovfs/pkg/randomaccess"
)

// RateLimitOptions bounds the backend bandwidth of a FileSystem. Reads and
// writes of every FileObject of the filesystem draw from one token bucket.
type RateLimitOptions struct {
	// BytesPerSecond is the sustained rate. Zero disables the limit.
	BytesPerSecond uint

	// Burst is the bucket capacity in bytes. Zero means one second worth.
	Burst uint
}

// Enabled reports whether a limit is configured.
func (o RateLimitOptions) Enabled() bool { return o.BytesPerSecond > 0 }

func (o RateLimitOptions) newLimiter() *ratelimiter.RateLimiter {
	if !o.Enabled() {
		return nil
	}
	return ratelimiter.New(o.BytesPerSecond, o.Burst)
}

// implAccess exposes the data path of a FileImpl as a
// randomaccess.RandomAccess[byte], so byte level wrappers can sit between a
// FileObject and its backend. Only ReadRandom and WriteRandom are called by
// FileObject.
type implAccess struct {
	impl FileImpl
	lock *randomaccess.Lock
}

var _ randomaccess.RandomAccess[byte] = implAccess{}

// newFileAccess returns the data path of impl, throttled by limiter when set.
func newFileAccess(impl FileImpl, lock *randomaccess.Lock, limiter *ratelimiter.RateLimiter) randomaccess.RandomAccess[byte] {
	access := implAccess{impl: impl, lock: lock}
	if limiter == nil {
		return access
	}
	return randomaccess.NewThrottledShared(access, limiter)
}

func (a implAccess) ReadRandom(ctx context.Context, position int64, buf []byte) (int, error) {
	return a.impl.ReadRandomImpl(ctx, position, buf)
}

func (a implAccess) WriteRandom(ctx context.Context, position int64, data []byte) error {
	if position == randomaccess.AppendPosition {
		return a.Append(ctx, data)
	}
	return a.impl.WriteRandomImpl(ctx, position, data)
}

func (a implAccess) Append(ctx context.Context, data []byte) error {
	size, err := a.impl.GetFileSizeImpl(ctx)
	if err != nil {
		return err
	}
	return a.impl.WriteRandomImpl(ctx, size, data)
}

func (a implAccess) GetFileSize(ctx context.Context, _ bool) (int64, error) {
	return a.impl.GetFileSizeImpl(ctx)
}

func (a implAccess) SetFileSize(ctx context.Context, size int64) error {
	return a.impl.SetFileSizeImpl(ctx, size)
}

func (a implAccess) GetPhysicalSize(ctx context.Context) (int64, error) {
	if ps, ok := a.impl.(PhysicalSizer); ok {
		return ps.GetPhysicalSizeImpl(ctx)
	}
	return a.impl.GetFileSizeImpl(ctx)
}

func (a implAccess) Flush(ctx context.Context) error {
	return a.impl.FlushImpl(ctx)
}

func (a implAccess) SharedLock() *randomaccess.Lock {
	return a.lock
}
