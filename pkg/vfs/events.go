package vfs

import "github.com/google/uuid"

// EventType identifies the FileObject operation an event is about.
type EventType int

const (
	EventOpen EventType = iota
	EventRead
	EventWrite
	EventAppend
	EventSeek
	EventGetSize
	EventSetSize
	EventFlush
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventAppend:
		return "append"
	case EventSeek:
		return "seek"
	case EventGetSize:
		return "get_size"
	case EventSetSize:
		return "set_size"
	case EventFlush:
		return "flush"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// FileEvent describes one FileObject operation.
//
// A listener receives an event with Err == nil when the operation starts, and
// a second event carrying Err when it fails. Length is the requested byte
// count for reads and writes, the target size for EventSetSize and the new
// offset for EventSeek.
type FileEvent struct {
	Type     EventType
	Handle   uuid.UUID
	Path     string
	Position int64
	Length   int64
	Err      error
}

// EventListener observes FileObject operations. Implementations must be fast
// and safe for concurrent use: they run inline on the I/O path.
type EventListener interface {
	OnFileEvent(ev FileEvent)
}

// EventListenerFunc adapts a function into an EventListener.
type EventListenerFunc func(ev FileEvent)

func (f EventListenerFunc) OnFileEvent(ev FileEvent) { f(ev) }

// PoolListener is optionally implemented by an EventListener that also wants
// to track handle counts.
type PoolListener interface {
	// OnOpenHandles reports the number of FileObjects currently open.
	OnOpenHandles(n int)

	// OnPooledHandles reports the number of entries of the named pool.
	OnPooledHandles(pool string, n int)
}
