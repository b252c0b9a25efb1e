package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/randomaccess"
)

// FileImpl is the contract a backend implements for one open file.
//
// The base FileObject owns every piece of bookkeeping (cursor, cached size,
// locking, access checks, chunking). Impl methods are only ever called one at
// a time per FileObject, so they can be written as plain blocking I/O.
type FileImpl interface {
	// ReadRandomImpl reads up to len(buf) bytes at position. Reading at or
	// past the end returns 0 and no error.
	ReadRandomImpl(ctx context.Context, position int64, buf []byte) (int, error)

	// WriteRandomImpl writes all of data at position. position is never past
	// the current size: the base grows the file first.
	WriteRandomImpl(ctx context.Context, position int64, data []byte) error

	// GetFileSizeImpl returns the current size from the backend.
	GetFileSizeImpl(ctx context.Context) (int64, error)

	// SetFileSizeImpl truncates or zero-extends the file.
	SetFileSizeImpl(ctx context.Context, size int64) error

	// FlushImpl pushes buffered data to the backend.
	FlushImpl(ctx context.Context) error

	// CloseImpl releases backend resources. It is called exactly once.
	CloseImpl(ctx context.Context) error
}

// WritePlanner is implemented by FileImpls whose placement of a write depends
// on the whole write rather than on each micro-operation.
type WritePlanner interface {
	// CheckWrite validates the whole write before anything is written. An
	// error rejects the write and leaves the file untouched.
	CheckWrite(position int64, length int) error

	// PadWrite writes whatever must precede the data and returns its length.
	// The data is then written at position plus that length.
	PadWrite(ctx context.Context, position int64, length int) (int64, error)
}

// PhysicalSizer is implemented by FileImpls that can report the space a file
// occupies on the backend, which may differ from its logical size.
type PhysicalSizer interface {
	GetPhysicalSizeImpl(ctx context.Context) (int64, error)
}

// SeekOrigin is the reference point of Seek.
type SeekOrigin int

const (
	SeekBegin SeekOrigin = iota
	SeekCurrent
	SeekEnd
)

// FileObject is an open file handle.
//
// FileObject turns a FileImpl into a position-tracked handle. Every operation
// follows the same protocol:
//
//  1. notify the EventListener
//  2. return early on empty buffers
//  3. combine the caller's context with the handle's own context, so that
//     Close cancels in-flight operations
//  4. acquire the per-handle lock (operations never overlap)
//  5. verify the handle is open, healthy and has the required access
//  6. for cursor based I/O verify position <= size, refreshing the size once
//  7. call the FileImpl in chunks of at most the micro-operation size,
//     waiting on the filesystem rate limit when one is set
//  8. update cursor and size bookkeeping
//  9. record backend failures as the sticky LastError
//
// Once a backend error has been recorded every later call fails with it
// immediately. Usage errors (bad arguments, access violations) and context
// cancellation are returned but not recorded.
//
// A FileObject implements randomaccess.RandomAccess[byte], so it can be
// wrapped by the randomaccess adapters (e.g. Concurrent, Stream).
type FileObject struct {
	id       uuid.UUID
	fs       *FileSystem
	params   FileParameters
	impl     FileImpl
	access   randomaccess.RandomAccess[byte]
	microOp  int
	listener EventListener

	ctx    context.Context
	cancel context.CancelFunc

	opLock     *randomaccess.Lock
	sharedLock *randomaccess.Lock

	// Guarded by opLock
	position int64
	size     int64
	lastErr  error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ randomaccess.RandomAccess[byte] = (*FileObject)(nil)

func newFileObject(fs *FileSystem, params FileParameters, impl FileImpl, size int64) *FileObject {
	ctx, cancel := context.WithCancel(context.Background())
	f := &FileObject{
		id:         uuid.New(),
		fs:         fs,
		params:     params,
		impl:       impl,
		microOp:    fs.opts.MicroOperationSize,
		listener:   fs.opts.Listener,
		ctx:        ctx,
		cancel:     cancel,
		opLock:     randomaccess.NewLock(),
		sharedLock: randomaccess.NewLock(),
		size:       size,
	}
	f.access = newFileAccess(impl, f.sharedLock, fs.limiter)
	if params.IsAppend() {
		f.position = size
	}
	return f
}

// ID returns the unique identifier of this handle.
func (f *FileObject) ID() uuid.UUID { return f.id }

// Path returns the normalized path the handle was opened with.
func (f *FileObject) Path() string { return f.params.Path }

// Params returns the parameters the handle was opened with.
func (f *FileObject) Params() FileParameters { return f.params }

// FileSystem returns the owning FileSystem.
func (f *FileObject) FileSystem() *FileSystem { return f.fs }

// Impl returns the backend implementation behind the handle.
func (f *FileObject) Impl() FileImpl { return f.impl }

// SharedLock returns a lock external callers may use to coordinate multi-call
// sequences on this handle. It is distinct from the lock serializing single
// operations, so holding it does not block the handle itself.
func (f *FileObject) SharedLock() *randomaccess.Lock { return f.sharedLock }

// IsClosed reports whether Close has been called.
func (f *FileObject) IsClosed() bool { return f.closed.Load() }

// LastError returns the sticky backend error, if any.
func (f *FileObject) LastError() error {
	if err := f.opLock.Lock(context.Background()); err != nil {
		return err
	}
	defer f.opLock.Unlock()
	return f.lastErr
}

// Position returns the current cursor.
func (f *FileObject) Position() int64 {
	if err := f.opLock.Lock(context.Background()); err != nil {
		return 0
	}
	defer f.opLock.Unlock()
	return f.position
}

// ============================================================================
// Operation protocol
// ============================================================================

func (f *FileObject) notify(t EventType, position, length int64, err error) {
	if f.listener == nil {
		return
	}
	f.listener.OnFileEvent(FileEvent{
		Type:     t,
		Handle:   f.id,
		Path:     f.params.Path,
		Position: position,
		Length:   length,
		Err:      err,
	})
}

// begin runs steps 3 to 5 of the protocol. The returned function releases the
// lock and the combined context.
func (f *FileObject) begin(ctx context.Context, op string, access FileAccess) (context.Context, func(), error) {
	combined, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(f.ctx, func() { cancel(ErrClosed) })
	release := func() {
		stop()
		cancel(nil)
	}

	if err := f.opLock.Lock(combined); err != nil {
		release()
		return nil, nil, f.wrap(op, contextError(combined, err))
	}
	done := func() {
		f.opLock.Unlock()
		release()
	}

	if f.closed.Load() {
		done()
		return nil, nil, f.wrap(op, ErrClosed)
	}
	if f.lastErr != nil {
		err := f.lastErr
		done()
		return nil, nil, err
	}
	if access&AccessWrite != 0 && !f.params.CanWrite() {
		done()
		return nil, nil, f.wrap(op, ErrAccessDenied)
	}
	return combined, done, nil
}

// contextError prefers the cancellation cause so that operations interrupted
// by Close report ErrClosed.
func contextError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && errors.Is(err, ctx.Err()) {
		if errors.Is(cause, ErrClosed) {
			return fmt.Errorf("%w: %w", ErrClosed, context.Canceled)
		}
		return err
	}
	return err
}

// fail wraps a backend error, records it as sticky unless it is a
// cancellation or a rejected argument, and notifies the listener.
func (f *FileObject) fail(ctx context.Context, t EventType, op string, position, length int64, err error) error {
	err = f.wrap(op, contextError(ctx, err))
	if !isCancellation(err) && !isRejection(err) && f.lastErr == nil {
		f.lastErr = err
	}
	f.notify(t, position, length, err)
	return err
}

func (f *FileObject) usage(t EventType, op string, position, length int64, err error) error {
	err = f.wrap(op, err)
	f.notify(t, position, length, err)
	return err
}

func (f *FileObject) wrap(op string, err error) error {
	return NewError(op, f.params.Path, err)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isRejection reports errors a backend returns before touching any data.
func isRejection(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrOutOfRange)
}

// ensureWithinSize implements step 6: position must not exceed the cached size;
// a stale cache is refreshed once before failing.
func (f *FileObject) ensureWithinSize(ctx context.Context, position int64) error {
	if position < 0 {
		return fmt.Errorf("position %d: %w", position, ErrOutOfRange)
	}
	if position <= f.size || f.params.Flags.Has(FlagNoCheckFileSize) {
		return nil
	}
	size, err := f.impl.GetFileSizeImpl(ctx)
	if err != nil {
		return err
	}
	f.size = size
	if position > size {
		return fmt.Errorf("position %d beyond size %d: %w", position, size, ErrOutOfRange)
	}
	return nil
}

func (f *FileObject) readChunks(ctx context.Context, position int64, buf []byte) (int, error) {
	return randomaccess.ProcessMicroOperations(ctx, len(buf), f.microOp, func(ctx context.Context, offset, length int) (int, error) {
		return f.access.ReadRandom(ctx, position+int64(offset), buf[offset:offset+length])
	})
}

// writeChunks writes data in micro-operations.
func (f *FileObject) writeChunks(ctx context.Context, position int64, data []byte) error {
	var scratch []byte
	skipUnchanged := f.params.Flags.Has(FlagWriteOnlyIfChanged)

	_, err := randomaccess.ProcessMicroOperations(ctx, len(data), f.microOp, func(ctx context.Context, offset, length int) (int, error) {
		at := position + int64(offset)
		chunk := data[offset : offset+length]

		if skipUnchanged && at+int64(length) <= f.size {
			if cap(scratch) < length {
				scratch = make([]byte, length)
			}
			existing := scratch[:length]
			n, err := f.access.ReadRandom(ctx, at, existing)
			if err != nil {
				return 0, err
			}
			if n == length && bytes.Equal(existing, chunk) {
				return length, nil
			}
		}

		if err := f.access.WriteRandom(ctx, at, chunk); err != nil {
			return 0, err
		}
		return length, nil
	})
	return err
}

// ============================================================================
// Reads
// ============================================================================

// Read reads into buf at the cursor and advances it by the number of bytes
// read. At end of file it returns 0 and no error.
//
// The cursor only moves when the call succeeds; after an error or a
// cancellation it is where it was before the call.
func (f *FileObject) Read(ctx context.Context, buf []byte) (int, error) {
	f.notify(EventRead, -1, int64(len(buf)), nil)
	if len(buf) == 0 {
		return 0, nil
	}

	ctx, done, err := f.begin(ctx, "read", AccessRead)
	if err != nil {
		return 0, err
	}
	defer done()

	position := f.position
	if err := f.ensureWithinSize(ctx, position); err != nil {
		if errors.Is(err, ErrOutOfRange) {
			return 0, f.usage(EventRead, "read", position, int64(len(buf)), err)
		}
		return 0, f.fail(ctx, EventRead, "read", position, int64(len(buf)), err)
	}

	n, err := f.readChunks(ctx, position, buf)
	if err != nil {
		return 0, f.fail(ctx, EventRead, "read", position, int64(len(buf)), err)
	}
	if n < len(buf) && f.params.Flags.Has(FlagNoPartialRead) {
		return 0, f.usage(EventRead, "read", position, int64(len(buf)),
			fmt.Errorf("got %d of %d bytes: %w", n, len(buf), ErrPartialRead))
	}

	f.position = position + int64(n)
	f.size = max(f.size, f.position)
	return n, nil
}

// ReadRandom reads into buf at position without moving the cursor.
func (f *FileObject) ReadRandom(ctx context.Context, position int64, buf []byte) (int, error) {
	f.notify(EventRead, position, int64(len(buf)), nil)
	if len(buf) == 0 {
		return 0, nil
	}
	if position < 0 {
		return 0, f.usage(EventRead, "read", position, int64(len(buf)),
			fmt.Errorf("position %d: %w", position, ErrOutOfRange))
	}

	ctx, done, err := f.begin(ctx, "read", AccessRead)
	if err != nil {
		return 0, err
	}
	defer done()

	n, err := f.readChunks(ctx, position, buf)
	if err != nil {
		return 0, f.fail(ctx, EventRead, "read", position, int64(len(buf)), err)
	}
	if n < len(buf) && f.params.Flags.Has(FlagNoPartialRead) {
		return n, f.usage(EventRead, "read", position, int64(len(buf)),
			fmt.Errorf("got %d of %d bytes: %w", n, len(buf), ErrPartialRead))
	}
	f.size = max(f.size, position+int64(n))
	return n, nil
}

// ============================================================================
// Writes
// ============================================================================

// Write writes data at the cursor and advances it.
func (f *FileObject) Write(ctx context.Context, data []byte) error {
	f.notify(EventWrite, -1, int64(len(data)), nil)
	if len(data) == 0 {
		return nil
	}

	ctx, done, err := f.begin(ctx, "write", AccessWrite)
	if err != nil {
		return err
	}
	defer done()

	position := f.position
	if err := f.ensureWithinSize(ctx, position); err != nil {
		if errors.Is(err, ErrOutOfRange) {
			return f.usage(EventWrite, "write", position, int64(len(data)), err)
		}
		return f.fail(ctx, EventWrite, "write", position, int64(len(data)), err)
	}
	end, err := f.writeLocked(ctx, position, data)
	if err != nil {
		return f.fail(ctx, EventWrite, "write", position, int64(len(data)), err)
	}
	f.position = end
	return nil
}

// WriteRandom writes data at position without moving the cursor. A negative
// position appends at the current size. Writing past the end grows the file
// first, zero-filling the gap.
func (f *FileObject) WriteRandom(ctx context.Context, position int64, data []byte) error {
	f.notify(EventWrite, position, int64(len(data)), nil)
	if len(data) == 0 {
		return nil
	}

	ctx, done, err := f.begin(ctx, "write", AccessWrite)
	if err != nil {
		return err
	}
	defer done()

	if position < 0 {
		position = f.size
	}
	if _, err := f.writeLocked(ctx, position, data); err != nil {
		return f.fail(ctx, EventWrite, "write", position, int64(len(data)), err)
	}
	return nil
}

// Append writes data at the current end of the file. The cursor does not move.
func (f *FileObject) Append(ctx context.Context, data []byte) error {
	f.notify(EventAppend, -1, int64(len(data)), nil)
	if len(data) == 0 {
		return nil
	}

	ctx, done, err := f.begin(ctx, "append", AccessWrite)
	if err != nil {
		return err
	}
	defer done()

	position := f.size
	if _, err := f.writeLocked(ctx, position, data); err != nil {
		return f.fail(ctx, EventAppend, "append", position, int64(len(data)), err)
	}
	return nil
}

// writeLocked grows the file up to position when needed, writes data and
// returns the offset right after the last byte written.
//
// A WritePlanner sees the whole write once: it may reject it before the file
// grows, and it may pad in front of it before the first micro-operation.
func (f *FileObject) writeLocked(ctx context.Context, position int64, data []byte) (int64, error) {
	planner, _ := f.impl.(WritePlanner)
	if planner != nil {
		if err := planner.CheckWrite(position, len(data)); err != nil {
			return 0, err
		}
	}
	if position > f.size {
		if err := f.impl.SetFileSizeImpl(ctx, position); err != nil {
			return 0, err
		}
		f.size = position
	}
	if planner != nil {
		padding, err := planner.PadWrite(ctx, position, len(data))
		if err != nil {
			return 0, err
		}
		position += padding
		f.size = max(f.size, position)
	}
	if err := f.writeChunks(ctx, position, data); err != nil {
		return 0, err
	}
	end := position + int64(len(data))
	f.size = max(f.size, end)
	return end, nil
}

// ============================================================================
// Cursor and size
// ============================================================================

// Seek moves the cursor and returns its new value.
//
// Seeking past the end is only allowed on writable handles and grows the file
// to the new position.
func (f *FileObject) Seek(ctx context.Context, offset int64, origin SeekOrigin) (int64, error) {
	f.notify(EventSeek, -1, offset, nil)

	ctx, done, err := f.begin(ctx, "seek", AccessRead)
	if err != nil {
		return 0, err
	}
	defer done()

	var target int64
	switch origin {
	case SeekBegin:
		target = offset
	case SeekCurrent:
		target = f.position + offset
	case SeekEnd:
		size, err := f.impl.GetFileSizeImpl(ctx)
		if err != nil {
			return 0, f.fail(ctx, EventSeek, "seek", f.position, offset, err)
		}
		f.size = size
		target = size + offset
	default:
		return 0, f.usage(EventSeek, "seek", f.position, offset,
			fmt.Errorf("origin %d: %w", origin, ErrInvalidArgument))
	}

	if target < 0 {
		return 0, f.usage(EventSeek, "seek", f.position, offset,
			fmt.Errorf("position %d: %w", target, ErrOutOfRange))
	}

	if target > f.size && !f.params.Flags.Has(FlagNoCheckFileSize) {
		size, err := f.impl.GetFileSizeImpl(ctx)
		if err != nil {
			return 0, f.fail(ctx, EventSeek, "seek", f.position, offset, err)
		}
		f.size = size
		if target > size {
			if !f.params.CanWrite() {
				return 0, f.usage(EventSeek, "seek", f.position, offset,
					fmt.Errorf("position %d beyond size %d on read-only handle: %w", target, size, ErrOutOfRange))
			}
			if err := f.impl.SetFileSizeImpl(ctx, target); err != nil {
				return 0, f.fail(ctx, EventSeek, "seek", f.position, offset, err)
			}
			f.size = target
		}
	}

	f.position = target
	return target, nil
}

// GetFileSize returns the file size. With refresh the backend is queried,
// otherwise the cached value is returned.
func (f *FileObject) GetFileSize(ctx context.Context, refresh bool) (int64, error) {
	f.notify(EventGetSize, -1, 0, nil)

	ctx, done, err := f.begin(ctx, "size", AccessRead)
	if err != nil {
		return 0, err
	}
	defer done()

	if !refresh {
		return f.size, nil
	}
	size, err := f.impl.GetFileSizeImpl(ctx)
	if err != nil {
		return 0, f.fail(ctx, EventGetSize, "size", -1, 0, err)
	}
	f.size = size
	return size, nil
}

// SetFileSize truncates or extends the file. A cursor beyond the new size is
// moved back to it.
func (f *FileObject) SetFileSize(ctx context.Context, size int64) error {
	f.notify(EventSetSize, -1, size, nil)
	if size < 0 {
		return f.usage(EventSetSize, "truncate", -1, size,
			fmt.Errorf("size %d: %w", size, ErrInvalidArgument))
	}

	ctx, done, err := f.begin(ctx, "truncate", AccessWrite)
	if err != nil {
		return err
	}
	defer done()

	if err := f.impl.SetFileSizeImpl(ctx, size); err != nil {
		return f.fail(ctx, EventSetSize, "truncate", -1, size, err)
	}
	f.size = size
	f.position = min(f.position, size)
	return nil
}

// GetPhysicalSize returns the space used on the backend. Backends that cannot
// tell report the logical size.
func (f *FileObject) GetPhysicalSize(ctx context.Context) (int64, error) {
	ctx, done, err := f.begin(ctx, "physical-size", AccessRead)
	if err != nil {
		return 0, err
	}
	defer done()

	if ps, ok := f.impl.(PhysicalSizer); ok {
		size, err := ps.GetPhysicalSizeImpl(ctx)
		if err != nil {
			return 0, f.fail(ctx, EventGetSize, "physical-size", -1, 0, err)
		}
		return size, nil
	}
	size, err := f.impl.GetFileSizeImpl(ctx)
	if err != nil {
		return 0, f.fail(ctx, EventGetSize, "physical-size", -1, 0, err)
	}
	return size, nil
}

// Flush pushes buffered data to the backend.
func (f *FileObject) Flush(ctx context.Context) error {
	f.notify(EventFlush, -1, 0, nil)

	ctx, done, err := f.begin(ctx, "flush", AccessRead)
	if err != nil {
		return err
	}
	defer done()

	if err := f.impl.FlushImpl(ctx); err != nil {
		return f.fail(ctx, EventFlush, "flush", -1, 0, err)
	}
	return nil
}

// Stream exposes the handle through the io interfaces, using ctx for every call.
func (f *FileObject) Stream(ctx context.Context) *randomaccess.Stream {
	return randomaccess.NewStream(ctx, f)
}

// ============================================================================
// Close
// ============================================================================

// Close releases the handle. Only the first call has an effect; later calls
// return the result of the first one.
//
// In-flight operations are cancelled. Writable handles are flushed, then the
// backend resources are released. With FlagDeleteFileOnClose the file is
// removed afterwards, and with FlagDeleteParentDirOnClose its parent directory
// too if it became empty. Both deletions are best effort.
func (f *FileObject) Close(ctx context.Context) error {
	f.closeOnce.Do(func() {
		f.notify(EventClose, -1, 0, nil)
		f.closeErr = f.close(ctx)
		if f.closeErr != nil {
			f.notify(EventClose, -1, 0, f.closeErr)
		}
	})
	return f.closeErr
}

func (f *FileObject) close(ctx context.Context) error {
	f.closed.Store(true)
	f.cancel()

	// In-flight operations were cancelled above; wait for them to drain.
	if err := f.opLock.Lock(context.WithoutCancel(ctx)); err != nil {
		return f.wrap("close", err)
	}
	var errs []error
	if f.params.CanWrite() && f.lastErr == nil {
		if err := f.impl.FlushImpl(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := f.impl.CloseImpl(ctx); err != nil {
		errs = append(errs, err)
	}
	f.opLock.Unlock()

	f.fs.untrack(f)
	logger.Debug("Closed handle %s for %s", f.id, f.params.Path)

	if f.params.Flags.Has(FlagDeleteFileOnClose) {
		f.fs.deleteOnClose(ctx, f.params.Path, f.params.Flags.Has(FlagDeleteParentDirOnClose))
	}

	if err := errors.Join(errs...); err != nil {
		return f.wrap("close", err)
	}
	return nil
}
