package randomaccess

import (
	"context"
	"errors"
	"sync"
)

// Concurrent serializes every operation on a target store through the target's
// SharedLock, so one store can safely be shared by many goroutines.
//
// Concurrent is fail-sticky: the first error returned by the target is cached and
// returned by every later call without touching the target again, until
// ClearError is called. Context cancellation is not a target failure and is
// never cached.
type Concurrent[T any] struct {
	target RandomAccess[T]

	mu      sync.Mutex
	lastErr error
}

// NewConcurrent wraps target.
func NewConcurrent[T any](target RandomAccess[T]) *Concurrent[T] {
	return &Concurrent[T]{target: target}
}

// Target returns the wrapped store.
func (c *Concurrent[T]) Target() RandomAccess[T] {
	return c.target
}

// LastError returns the cached error, if any.
func (c *Concurrent[T]) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ClearError forgets the cached error so the target is tried again.
func (c *Concurrent[T]) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
}

func (c *Concurrent[T]) record(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.mu.Lock()
	if c.lastErr == nil {
		c.lastErr = err
	}
	c.mu.Unlock()
	return err
}

func (c *Concurrent[T]) enter(ctx context.Context) (func(), error) {
	if err := c.LastError(); err != nil {
		return nil, err
	}
	lock := c.target.SharedLock()
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return lock.Unlock, nil
}

func (c *Concurrent[T]) ReadRandom(ctx context.Context, position int64, buf []T) (int, error) {
	unlock, err := c.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	n, err := c.target.ReadRandom(ctx, position, buf)
	return n, c.record(err)
}

func (c *Concurrent[T]) WriteRandom(ctx context.Context, position int64, data []T) error {
	unlock, err := c.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return c.record(c.target.WriteRandom(ctx, position, data))
}

func (c *Concurrent[T]) Append(ctx context.Context, data []T) error {
	unlock, err := c.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return c.record(c.target.Append(ctx, data))
}

func (c *Concurrent[T]) GetFileSize(ctx context.Context, refresh bool) (int64, error) {
	unlock, err := c.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	size, err := c.target.GetFileSize(ctx, refresh)
	return size, c.record(err)
}

func (c *Concurrent[T]) SetFileSize(ctx context.Context, size int64) error {
	unlock, err := c.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return c.record(c.target.SetFileSize(ctx, size))
}

func (c *Concurrent[T]) GetPhysicalSize(ctx context.Context) (int64, error) {
	unlock, err := c.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	size, err := c.target.GetPhysicalSize(ctx)
	return size, c.record(err)
}

func (c *Concurrent[T]) Flush(ctx context.Context) error {
	unlock, err := c.enter(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return c.record(c.target.Flush(ctx))
}

func (c *Concurrent[T]) SharedLock() *Lock {
	return c.target.SharedLock()
}
