package metrics

import (
	"context"
	"errors"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// FileSystemMetrics provides observability for FileObject operations and
// handle bookkeeping of a vfs.FileSystem.
//
// This interface is optional - a FileSystem without a listener reports
// nothing, and NewNoopFileSystemMetrics returns an implementation with zero
// overhead.
//
// Example usage:
//
//	m := prometheus.NewFileSystemMetrics()
//	fs := vfs.New(backend, vfs.Options{Listener: metrics.NewEventListener(m)})
type FileSystemMetrics interface {
	// RecordOperation records one FileObject operation.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "read", "write", "set_size")
	//   - bytes: Requested byte count for reads and writes, 0 otherwise
	//   - err: nil when the operation starts, the failure otherwise
	RecordOperation(operation string, bytes int64, err error)

	// SetOpenHandles updates the number of FileObjects currently open.
	SetOpenHandles(count int)

	// SetPooledHandles updates the number of entries of a handle pool.
	//
	// Parameters:
	//   - pool: "read" or "write"
	//   - count: Current number of pooled handles
	SetPooledHandles(pool string, count int)
}

// NewNoopFileSystemMetrics returns a FileSystemMetrics that discards
// everything.
func NewNoopFileSystemMetrics() FileSystemMetrics {
	return noopFileSystemMetrics{}
}

// noopFileSystemMetrics is a no-op implementation of FileSystemMetrics with zero overhead.
type noopFileSystemMetrics struct{}

func (noopFileSystemMetrics) RecordOperation(operation string, bytes int64, err error) {}
func (noopFileSystemMetrics) SetOpenHandles(count int)                                 {}
func (noopFileSystemMetrics) SetPooledHandles(pool string, count int)                  {}

// ============================================================================
// Event Listener
// ============================================================================

// eventListener forwards FileSystem events to a FileSystemMetrics.
type eventListener struct {
	m FileSystemMetrics
}

var (
	_ vfs.EventListener = (*eventListener)(nil)
	_ vfs.PoolListener  = (*eventListener)(nil)
)

// NewEventListener adapts m into a vfs.EventListener that also tracks handle
// counts. A nil m yields the no-op implementation.
func NewEventListener(m FileSystemMetrics) vfs.EventListener {
	if m == nil {
		m = NewNoopFileSystemMetrics()
	}
	return &eventListener{m: m}
}

func (l *eventListener) OnFileEvent(ev vfs.FileEvent) {
	var bytes int64
	switch ev.Type {
	case vfs.EventRead, vfs.EventWrite, vfs.EventAppend:
		if ev.Err == nil {
			bytes = ev.Length
		}
	}
	l.m.RecordOperation(ev.Type.String(), bytes, ev.Err)
}

func (l *eventListener) OnOpenHandles(n int) {
	l.m.SetOpenHandles(n)
}

func (l *eventListener) OnPooledHandles(pool string, n int) {
	l.m.SetPooledHandles(pool, n)
}

// ErrorCode maps err to a short label value. Unknown errors become "other".
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, vfs.ErrNotFound):
		return "not_found"
	case errors.Is(err, vfs.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, vfs.ErrNotEmpty):
		return "not_empty"
	case errors.Is(err, vfs.ErrClosed):
		return "closed"
	case errors.Is(err, vfs.ErrReadOnly):
		return "read_only"
	case errors.Is(err, vfs.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, vfs.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, vfs.ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, vfs.ErrBusy):
		return "busy"
	case errors.Is(err, vfs.ErrNotSupported):
		return "not_supported"
	case errors.Is(err, vfs.ErrPartialRead):
		return "partial_read"
	case errors.Is(err, vfs.ErrInvalidBackendState):
		return "invalid_state"
	case errors.Is(err, vfs.ErrIsDirectory):
		return "is_directory"
	case errors.Is(err, vfs.ErrNotDirectory):
		return "not_directory"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "other"
	}
}
