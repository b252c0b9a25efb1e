package vfs

import (
	"errors"
	"fmt"
)

// ============================================================================
// Standard FileSystem Errors
// ============================================================================

// These errors give every backend a common vocabulary for failure conditions.
// Backends wrap them with the affected path so callers can test with errors.Is
// while still getting a useful message:
//
//	if _, err := os.Stat(p); os.IsNotExist(err) {
//	    return nil, vfs.NewError("open", path, vfs.ErrNotFound)
//	}

var (
	// ErrNotFound indicates the file or directory does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entry with the same path already exists.
	//
	// Returned by CreateNew and by directory creation when a file occupies the
	// requested path.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotEmpty indicates a non-recursive delete of a directory that still
	// has entries.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrClosed indicates an operation on a closed FileObject or FileSystem.
	ErrClosed = errors.New("closed")

	// ErrReadOnly indicates a mutating operation on a read-only FileSystem.
	ErrReadOnly = errors.New("filesystem is read-only")

	// ErrAccessDenied indicates the handle lacks the access bit the operation
	// needs (e.g. Write on a handle opened with AccessRead).
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidArgument indicates a malformed path, flag combination or
	// negative size.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfRange indicates a cursor or position outside [0, size].
	ErrOutOfRange = errors.New("position out of range")

	// ErrBusy indicates the entry cannot be deleted or replaced while it has
	// open handles.
	ErrBusy = errors.New("in use")

	// ErrNotSupported indicates the backend does not implement the operation.
	ErrNotSupported = errors.New("not supported")

	// ErrPartialRead indicates a read returned fewer bytes than requested on a
	// handle opened with FlagNoPartialRead.
	ErrPartialRead = errors.New("partial read")

	// ErrInvalidBackendState indicates a backend broke one of its contracts,
	// for example by returning a duplicate name from EnumDirectoryImpl.
	ErrInvalidBackendState = errors.New("invalid backend state")

	// ErrIsDirectory indicates a file operation was attempted on a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotDirectory indicates a directory operation was attempted on a file.
	ErrNotDirectory = errors.New("not a directory")
)

// Error is the error type returned by FileSystem and FileObject operations.
//
// It records the operation and the path involved so that every failure
// surfaces with the affected path in its message. Err is usually one of the
// sentinel errors above, or the raw backend error for I/O failures.
type Error struct {
	// Op is the operation that failed (e.g. "open", "write", "enum")
	Op string

	// Path is the path the operation was applied to
	Path string

	// Err is the underlying cause
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with op and path. A nil err yields nil, and an err that
// is already an *Error for the same path is returned unchanged so that layered
// backends do not repeat the path.
func NewError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Path == path {
		return err
	}
	return &Error{Op: op, Path: path, Err: err}
}

// IsNotFound reports whether err means a missing file or directory.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
