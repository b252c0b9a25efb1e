package randomaccess

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Lock is a mutual-exclusion lock whose acquisition honors context cancellation.
//
// Unlike sync.Mutex, a goroutine blocked in Lock returns as soon as its context
// is cancelled, which lets every blocking operation in DittoVFS stay cancellable
// even while it waits for another operation on the same object.
type Lock struct {
	sem *semaphore.Weighted
}

// NewLock returns an unlocked Lock.
func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Lock blocks until the lock is held or ctx is done.
func (l *Lock) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryLock acquires the lock only if it is free.
func (l *Lock) TryLock() bool {
	return l.sem.TryAcquire(1)
}

// Unlock releases the lock. Unlocking an unlocked Lock panics.
func (l *Lock) Unlock() {
	l.sem.Release(1)
}
