package randomaccess

import (
	"context"
	"fmt"
	"sync"
)

// SequentialWritable is an append-only sink.
type SequentialWritable[T any] interface {
	// CurrentPosition returns how many elements have been written so far.
	CurrentPosition() int64

	// Write appends data.
	Write(ctx context.Context, data []T) error

	// Flush pushes buffered data to the backing resource.
	Flush(ctx context.Context) error

	// Complete flushes and finalizes the sink. A second call returns ErrCompleted.
	Complete(ctx context.Context) error

	// IsCompleted reports whether Complete has been called.
	IsCompleted() bool
}

// SequentialWritableBased adapts an append-only sink into a RandomAccess.
//
// The adapter only accepts writes exactly at the current logical end of the
// sink; anything else fails with ErrOutOfOrderWrite. Reads and resizes are not
// supported.
type SequentialWritableBased[T any] struct {
	target SequentialWritable[T]
	lock   *Lock
}

// NewSequentialWritableBased wraps target.
func NewSequentialWritableBased[T any](target SequentialWritable[T]) *SequentialWritableBased[T] {
	return &SequentialWritableBased[T]{target: target, lock: NewLock()}
}

func (s *SequentialWritableBased[T]) ReadRandom(context.Context, int64, []T) (int, error) {
	return 0, fmt.Errorf("read from sequential writer: %w", ErrNotSupported)
}

func (s *SequentialWritableBased[T]) WriteRandom(ctx context.Context, position int64, data []T) error {
	current := s.target.CurrentPosition()
	if position != AppendPosition && position != current {
		return fmt.Errorf("write at %d, current end is %d: %w", position, current, ErrOutOfOrderWrite)
	}
	if len(data) == 0 {
		return nil
	}
	return s.target.Write(ctx, data)
}

func (s *SequentialWritableBased[T]) Append(ctx context.Context, data []T) error {
	return s.WriteRandom(ctx, AppendPosition, data)
}

func (s *SequentialWritableBased[T]) GetFileSize(ctx context.Context, _ bool) (int64, error) {
	return s.target.CurrentPosition(), ctx.Err()
}

func (s *SequentialWritableBased[T]) SetFileSize(context.Context, int64) error {
	return fmt.Errorf("resize sequential writer: %w", ErrNotSupported)
}

func (s *SequentialWritableBased[T]) GetPhysicalSize(ctx context.Context) (int64, error) {
	return s.GetFileSize(ctx, false)
}

func (s *SequentialWritableBased[T]) Flush(ctx context.Context) error {
	return s.target.Flush(ctx)
}

func (s *SequentialWritableBased[T]) SharedLock() *Lock {
	return s.lock
}

// Appender is an append-only SequentialWritable over any RandomAccess.
//
// The starting position is the target's size when the Appender is created; each
// Write lands immediately after the previous one.
type Appender[T any] struct {
	target RandomAccess[T]

	mu        sync.Mutex
	position  int64
	completed bool
}

// NewAppender positions a new Appender at the current end of target.
func NewAppender[T any](ctx context.Context, target RandomAccess[T]) (*Appender[T], error) {
	size, err := target.GetFileSize(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("get initial size: %w", err)
	}
	return &Appender[T]{target: target, position: size}, nil
}

func (a *Appender[T]) CurrentPosition() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

func (a *Appender[T]) Write(ctx context.Context, data []T) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.completed {
		return ErrCompleted
	}
	if err := a.target.WriteRandom(ctx, a.position, data); err != nil {
		return err
	}
	a.position += int64(len(data))
	return nil
}

func (a *Appender[T]) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.completed {
		return ErrCompleted
	}
	return a.target.Flush(ctx)
}

func (a *Appender[T]) Complete(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.completed {
		return ErrCompleted
	}
	a.completed = true
	return a.target.Flush(ctx)
}

func (a *Appender[T]) IsCompleted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}
