package randomaccess

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an unbounded, growable in-memory RandomAccess store.
//
// Sparse semantics apply:
//   - Writing past the end extends the store, the gap reads back as zero values
//   - SetFileSize shrinks by dropping trailing elements and grows with zero values
//
// Thread Safety:
// All operations are protected by a sync.RWMutex; data is copied in and out so
// callers never alias the internal buffer.
type Memory[T any] struct {
	mu   sync.RWMutex
	data []T
	lock *Lock
}

// NewMemory creates a store holding a copy of initial (which may be nil).
func NewMemory[T any](initial []T) *Memory[T] {
	data := make([]T, len(initial))
	copy(data, initial)
	return &Memory[T]{data: data, lock: NewLock()}
}

func (m *Memory[T]) ReadRandom(ctx context.Context, position int64, buf []T) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if position < 0 {
		return 0, fmt.Errorf("read at %d: %w", position, ErrNegativePosition)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if position >= int64(len(m.data)) {
		return 0, nil
	}
	return copy(buf, m.data[position:]), nil
}

func (m *Memory[T]) WriteRandom(ctx context.Context, position int64, data []T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if position == AppendPosition {
		position = int64(len(m.data))
	}
	if position < 0 {
		return fmt.Errorf("write at %d: %w", position, ErrNegativePosition)
	}

	end := position + int64(len(data))
	if end > int64(len(m.data)) {
		m.growLocked(end)
	}
	copy(m.data[position:], data)
	return nil
}

func (m *Memory[T]) Append(ctx context.Context, data []T) error {
	return m.WriteRandom(ctx, AppendPosition, data)
}

func (m *Memory[T]) GetFileSize(ctx context.Context, _ bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data)), nil
}

func (m *Memory[T]) SetFileSize(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("set size %d: %w", size, ErrNegativePosition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if size <= int64(len(m.data)) {
		var zero T
		// Clear the dropped tail so a later regrow reads zeros.
		for i := size; i < int64(len(m.data)); i++ {
			m.data[i] = zero
		}
		m.data = m.data[:size]
		return nil
	}
	m.growLocked(size)
	return nil
}

func (m *Memory[T]) GetPhysicalSize(ctx context.Context) (int64, error) {
	return m.GetFileSize(ctx, false)
}

func (m *Memory[T]) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory[T]) SharedLock() *Lock {
	return m.lock
}

// Len returns the current number of elements.
func (m *Memory[T]) Len() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// Bytes returns a copy of the current contents.
func (m *Memory[T]) Bytes() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, len(m.data))
	copy(out, m.data)
	return out
}

// Reset replaces the contents with a copy of data.
func (m *Memory[T]) Reset(data []T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make([]T, len(data))
	copy(m.data, data)
}

func (m *Memory[T]) growLocked(size int64) {
	if size <= int64(cap(m.data)) {
		m.data = m.data[:size]
		return
	}
	newCap := max(size, int64(cap(m.data))*2)
	grown := make([]T, size, newCap)
	copy(grown, m.data)
	m.data = grown
}
