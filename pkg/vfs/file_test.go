package vfs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk on fire")

// faultyBackend wraps the memory backend and hands out file impls whose
// behaviour the test controls.
type faultyBackend struct {
	*memory.Backend
	wrap func(vfs.FileImpl) vfs.FileImpl
}

func (b *faultyBackend) CreateFileImpl(ctx context.Context, params vfs.FileParameters) (vfs.FileImpl, error) {
	impl, err := b.Backend.CreateFileImpl(ctx, params)
	if err != nil {
		return nil, err
	}
	return b.wrap(impl), nil
}

// faultyImpl fails writes once armed.
type faultyImpl struct {
	vfs.FileImpl

	mu     sync.Mutex
	armed  bool
	writes int
	reads  int
}

func (f *faultyImpl) arm() {
	f.mu.Lock()
	f.armed = true
	f.mu.Unlock()
}

func (f *faultyImpl) WriteRandomImpl(ctx context.Context, position int64, data []byte) error {
	f.mu.Lock()
	f.writes++
	armed := f.armed
	f.mu.Unlock()
	if armed {
		return errDisk
	}
	return f.FileImpl.WriteRandomImpl(ctx, position, data)
}

func (f *faultyImpl) ReadRandomImpl(ctx context.Context, position int64, buf []byte) (int, error) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
	return f.FileImpl.ReadRandomImpl(ctx, position, buf)
}

// blockingImpl blocks reads until the context is done.
type blockingImpl struct {
	vfs.FileImpl
	entered chan struct{}
}

func (b *blockingImpl) ReadRandomImpl(ctx context.Context, _ int64, _ []byte) (int, error) {
	close(b.entered)
	<-ctx.Done()
	return 0, ctx.Err()
}

func newFaultyFS(t *testing.T, wrap func(vfs.FileImpl) vfs.FileImpl, opts vfs.Options) *vfs.FileSystem {
	t.Helper()
	fs := vfs.New(&faultyBackend{Backend: memory.New(memory.Config{}), wrap: wrap}, opts)
	t.Cleanup(func() { _ = fs.Close(context.Background()) })
	return fs
}

func TestFileObject_FailSticky(t *testing.T) {
	ctx := context.Background()
	var impl *faultyImpl
	fs := newFaultyFS(t, func(inner vfs.FileImpl) vfs.FileImpl {
		impl = &faultyImpl{FileImpl: inner}
		return impl
	}, vfs.Options{})

	f, err := fs.Create(ctx, "/sticky.bin", vfs.FlagNone)
	require.NoError(t, err)
	require.NoError(t, f.Write(ctx, []byte("ok")))

	impl.arm()
	err = f.Write(ctx, []byte("boom"))
	require.ErrorIs(t, err, errDisk)
	assert.Equal(t, int64(2), f.Position())

	var vErr *vfs.Error
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "/sticky.bin", vErr.Path)
	assert.Equal(t, "write", vErr.Op)

	// Every later call fails without reaching the backend.
	reads := impl.reads
	_, err = f.ReadRandom(ctx, 0, make([]byte, 2))
	assert.ErrorIs(t, err, errDisk)
	assert.Equal(t, reads, impl.reads)
	assert.ErrorIs(t, f.LastError(), errDisk)

	// Close skips the flush but still releases the handle.
	assert.NoError(t, f.Close(ctx))
	assert.Empty(t, fs.OpenHandles())
}

func TestFileObject_UsageErrorsNotSticky(t *testing.T) {
	ctx := context.Background()
	fs := memory.NewFileSystem(memory.Config{}, vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/u.txt", []byte("abc"), vfs.FlagNone))
	f, err := fs.Open(ctx, "/u.txt", vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(ctx)

	assert.ErrorIs(t, f.Write(ctx, []byte("x")), vfs.ErrAccessDenied)
	_, err = f.ReadRandom(ctx, -1, make([]byte, 1))
	assert.ErrorIs(t, err, vfs.ErrOutOfRange)
	_, err = f.Seek(ctx, -10, vfs.SeekBegin)
	assert.ErrorIs(t, err, vfs.ErrOutOfRange)
	_, err = f.Seek(ctx, 0, vfs.SeekOrigin(42))
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)

	assert.NoError(t, f.LastError())
	buf := make([]byte, 3)
	n, err := f.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
}

func TestFileObject_NoPartialRead(t *testing.T) {
	ctx := context.Background()
	fs := memory.NewFileSystem(memory.Config{}, vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/short.txt", []byte("abcdef"), vfs.FlagNone))
	f, err := fs.Open(ctx, "/short.txt", vfs.FlagNoPartialRead)
	require.NoError(t, err)
	defer f.Close(ctx)

	_, err = f.Seek(ctx, 4, vfs.SeekBegin)
	require.NoError(t, err)

	// A short cursor read fails and leaves the cursor where it was.
	n, err := f.Read(ctx, make([]byte, 4))
	assert.ErrorIs(t, err, vfs.ErrPartialRead)
	assert.Zero(t, n)
	assert.Equal(t, int64(4), f.Position())

	// A short random read reports what it got.
	buf := make([]byte, 4)
	n, err = f.ReadRandom(ctx, 4, buf)
	assert.ErrorIs(t, err, vfs.ErrPartialRead)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ef", string(buf[:n]))

	// Neither failure is sticky and full reads succeed.
	assert.NoError(t, f.LastError())
	buf = make([]byte, 2)
	n, err = f.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
	assert.Equal(t, int64(6), f.Position())

	buf = make([]byte, 6)
	n, err = f.ReadRandom(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(buf[:n]))
}

func TestFileObject_PartialReadAllowedByDefault(t *testing.T) {
	ctx := context.Background()
	fs := memory.NewFileSystem(memory.Config{}, vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/short.txt", []byte("abc"), vfs.FlagNone))
	f, err := fs.Open(ctx, "/short.txt", vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(ctx)

	buf := make([]byte, 8)
	n, err := f.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
	assert.Equal(t, int64(3), f.Position())
}

func TestFileObject_CancellationNotSticky(t *testing.T) {
	fs := memory.NewFileSystem(memory.Config{}, vfs.Options{})
	defer fs.Close(context.Background())

	f, err := fs.Create(context.Background(), "/c.txt", vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Write(ctx, []byte("late")), context.Canceled)
	assert.Zero(t, f.Position())

	assert.NoError(t, f.LastError())
	assert.NoError(t, f.Write(context.Background(), []byte("on time")))
}

func TestFileObject_CloseCancelsInFlight(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	fs := newFaultyFS(t, func(inner vfs.FileImpl) vfs.FileImpl {
		return &blockingImpl{FileImpl: inner, entered: entered}
	}, vfs.Options{})

	f, err := fs.Create(ctx, "/block.bin", vfs.FlagNone)
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := f.ReadRandom(ctx, 0, make([]byte, 8))
		result <- err
	}()

	<-entered
	require.NoError(t, f.Close(ctx))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, vfs.ErrClosed)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("read was not cancelled by close")
	}
	assert.NoError(t, f.LastError())
}

func TestFileObject_WriteOnlyIfChanged(t *testing.T) {
	ctx := context.Background()
	var impl *faultyImpl
	fs := newFaultyFS(t, func(inner vfs.FileImpl) vfs.FileImpl {
		impl = &faultyImpl{FileImpl: inner}
		return impl
	}, vfs.Options{MicroOperationSize: 4})

	require.NoError(t, fs.WriteDataToFile(ctx, "/same.bin", []byte("aaaabbbbcccc"), vfs.FlagNone))

	f, err := fs.OpenForWrite(ctx, "/same.bin", vfs.FlagWriteOnlyIfChanged)
	require.NoError(t, err)
	defer f.Close(ctx)

	require.NoError(t, f.WriteRandom(ctx, 0, []byte("aaaaXXXXcccc")))
	assert.Equal(t, 1, impl.writes)

	buf := make([]byte, 12)
	_, err = f.ReadRandom(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "aaaaXXXXcccc", string(buf))
}

func TestFileObject_Events(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var events []vfs.FileEvent
	listener := vfs.EventListenerFunc(func(ev vfs.FileEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	fs := memory.NewFileSystem(memory.Config{}, vfs.Options{Listener: listener})
	defer fs.Close(ctx)

	f, err := fs.Create(ctx, "/ev.txt", vfs.FlagNone)
	require.NoError(t, err)
	require.NoError(t, f.Write(ctx, []byte("x")))
	require.NoError(t, f.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	var types []vfs.EventType
	for _, ev := range events {
		assert.Equal(t, f.ID(), ev.Handle)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []vfs.EventType{vfs.EventOpen, vfs.EventWrite, vfs.EventClose}, types)
}

func TestFileObject_ReadOnlyHandleCannotGrowBySeek(t *testing.T) {
	ctx := context.Background()
	fs := memory.NewFileSystem(memory.Config{}, vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/s.txt", []byte("12"), vfs.FlagNone))
	f, err := fs.Open(ctx, "/s.txt", vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(ctx)

	pos, err := f.Seek(ctx, 2, vfs.SeekBegin)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)
	_, err = f.Seek(ctx, 1, vfs.SeekCurrent)
	assert.ErrorIs(t, err, vfs.ErrOutOfRange)
	assert.Equal(t, int64(2), f.Position())
}

func TestFileObject_StaleSizeRefreshedOnce(t *testing.T) {
	ctx := context.Background()
	fs := memory.NewFileSystem(memory.Config{}, vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/grow.txt", []byte("ab"), vfs.FlagNone))
	r, err := fs.Open(ctx, "/grow.txt", vfs.FlagNone)
	require.NoError(t, err)
	defer r.Close(ctx)

	w, err := fs.Append(ctx, "/grow.txt", vfs.FlagNone)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, []byte("cdef")))
	require.NoError(t, w.Close(ctx))

	// The reader's cached size is 2; reading at 4 refreshes it.
	n, err := r.ReadRandom(ctx, 0, make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	_, err = r.Seek(ctx, 5, vfs.SeekBegin)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err = r.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "f", string(buf[:n]))
}
