// Package randomaccess defines the positioned read/write contract that every
// DittoVFS storage primitive implements, together with the wrappers and
// adapters used to compose them.
//
// The central type is RandomAccess[T], a positioned store of T elements (bytes
// in practice) supporting random reads and writes, appends, resizing and
// flushing. Around it the package provides:
//
//   - Lock: a context-aware mutex shared between a store and its callers
//   - Concurrent: serializes a store through its shared lock, fail-sticky
//   - SequentialWritableBased / Appender: bridges to and from append-only sinks
//   - SeekableStream / Stream: bridges to and from io streams
//   - Memory: an unbounded in-memory store
//   - Throttled: bandwidth limiting
//   - ProcessMicroOperations: bounded chunking of huge transfers
package randomaccess

import (
	"context"
	"errors"
)

// AppendPosition passed as position to WriteRandom means "write at the current end".
const AppendPosition int64 = -1

var (
	// ErrNotSupported indicates the store cannot perform the requested operation.
	ErrNotSupported = errors.New("operation not supported")

	// ErrOutOfOrderWrite indicates a write that does not start exactly at the
	// current end of an append-only store.
	ErrOutOfOrderWrite = errors.New("write position is not the current end of the stream")

	// ErrNegativePosition indicates a negative position or size argument.
	ErrNegativePosition = errors.New("negative position or size")

	// ErrCompleted indicates a sequential writer that was already completed.
	ErrCompleted = errors.New("sequential writer already completed")

	// ErrClosed indicates the store was closed.
	ErrClosed = errors.New("random access store is closed")
)

// RandomAccess is a positioned store of T elements.
//
// Implementations must be safe to call from one goroutine at a time; callers that
// share a store between goroutines coordinate through SharedLock (see Concurrent).
type RandomAccess[T any] interface {
	// ReadRandom reads up to len(buf) elements starting at position and returns
	// how many were read. Reading at or past the end returns 0 without error.
	ReadRandom(ctx context.Context, position int64, buf []T) (int, error)

	// WriteRandom writes data at position, growing the store if needed.
	// AppendPosition writes at the current end.
	WriteRandom(ctx context.Context, position int64, data []T) error

	// Append writes data at the current end.
	Append(ctx context.Context, data []T) error

	// GetFileSize returns the current size. refresh forces a re-query of the
	// backing resource instead of any cached value.
	GetFileSize(ctx context.Context, refresh bool) (int64, error)

	// SetFileSize truncates or zero-extends the store.
	SetFileSize(ctx context.Context, size int64) error

	// GetPhysicalSize returns the space actually consumed by the backing resource.
	GetPhysicalSize(ctx context.Context) (int64, error)

	// Flush makes previously written data durable w.r.t. the backing resource.
	Flush(ctx context.Context) error

	// SharedLock returns the lock external callers use to coordinate with the
	// store's own serialization.
	SharedLock() *Lock
}
