package vfstest

import (
	"bytes"
	"io"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunFileObjectTests checks cursor, size and chunking behaviour of open handles.
func (s *Suite) RunFileObjectTests(t *testing.T) {
	t.Run("CursorAdvances", s.testCursorAdvances)
	t.Run("ReadAtEOF", s.testReadAtEOF)
	t.Run("AppendMode", s.testAppendMode)
	t.Run("SparseWrite", s.testSparseWrite)
	t.Run("SetFileSize", s.testSetFileSize)
	t.Run("SeekPastEnd", s.testSeekPastEnd)
	t.Run("ReadOnlyHandle", s.testReadOnlyHandle)
	t.Run("MicroOperations", s.testMicroOperations)
	t.Run("Stream", s.testStream)
	t.Run("ClosedHandle", s.testClosedHandle)
}

func (s *Suite) testCursorAdvances(t *testing.T) {
	e := s.env(t)
	f, err := e.fs.Create(e.ctx, e.path("cursor.txt"), vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(e.ctx)

	require.NoError(t, f.Write(e.ctx, []byte("hello ")))
	require.NoError(t, f.Write(e.ctx, []byte("world")))
	assert.Equal(t, int64(11), f.Position())

	_, err = f.Seek(e.ctx, 0, vfs.SeekBegin)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := f.Read(e.ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, int64(5), f.Position())

	// ReadRandom leaves the cursor alone.
	n, err = f.ReadRandom(e.ctx, 6, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))
	assert.Equal(t, int64(5), f.Position())
}

func (s *Suite) testReadAtEOF(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("abc"), "eof.txt")

	f, err := e.fs.Open(e.ctx, p, vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(e.ctx)

	buf := make([]byte, 10)
	n, err := f.Read(e.ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.Read(e.ctx, buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	g, err := e.fs.Open(e.ctx, p, vfs.FlagNoPartialRead)
	require.NoError(t, err)
	defer g.Close(e.ctx)

	_, err = g.Read(e.ctx, buf)
	assert.ErrorIs(t, err, vfs.ErrPartialRead)
	assert.Zero(t, g.Position())
	assert.NoError(t, g.LastError())
}

func (s *Suite) testAppendMode(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("head"), "log.txt")

	f, err := e.fs.Append(e.ctx, p, vfs.FlagNone)
	require.NoError(t, err)
	assert.Equal(t, int64(4), f.Position())
	require.NoError(t, f.Write(e.ctx, []byte("-tail")))
	require.NoError(t, f.Append(e.ctx, []byte("!")))
	require.NoError(t, f.Close(e.ctx))

	assert.Equal(t, "head-tail!", string(e.read(p)))
}

func (s *Suite) testSparseWrite(t *testing.T) {
	e := s.env(t)
	f, err := e.fs.Create(e.ctx, e.path("sparse.bin"), vfs.FlagSparseFile)
	require.NoError(t, err)

	require.NoError(t, f.WriteRandom(e.ctx, 100, []byte("tail")))
	size, err := f.GetFileSize(e.ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(104), size)
	require.NoError(t, f.Close(e.ctx))

	data := e.read(e.path("sparse.bin"))
	require.Len(t, data, 104)
	assert.Equal(t, make([]byte, 100), data[:100])
	assert.Equal(t, "tail", string(data[100:]))
}

func (s *Suite) testSetFileSize(t *testing.T) {
	e := s.env(t)
	f, err := e.fs.Create(e.ctx, e.path("resize.bin"), vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(e.ctx)

	require.NoError(t, f.Write(e.ctx, pattern(50)))
	require.NoError(t, f.SetFileSize(e.ctx, 10))
	assert.Equal(t, int64(10), f.Position())

	require.NoError(t, f.SetFileSize(e.ctx, 20))
	buf := make([]byte, 20)
	n, err := f.ReadRandom(e.ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, pattern(10), buf[:10])
	assert.Equal(t, make([]byte, 10), buf[10:])

	assert.ErrorIs(t, f.SetFileSize(e.ctx, -1), vfs.ErrInvalidArgument)
	assert.NoError(t, f.LastError())
}

func (s *Suite) testSeekPastEnd(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("12345"), "seek.txt")

	r, err := e.fs.Open(e.ctx, p, vfs.FlagNone)
	require.NoError(t, err)
	defer r.Close(e.ctx)

	_, err = r.Seek(e.ctx, 10, vfs.SeekBegin)
	assert.ErrorIs(t, err, vfs.ErrOutOfRange)
	pos, err := r.Seek(e.ctx, -2, vfs.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)

	w, err := e.fs.OpenForWrite(e.ctx, p, vfs.FlagNone)
	require.NoError(t, err)
	defer w.Close(e.ctx)

	pos, err = w.Seek(e.ctx, 3, vfs.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(8), pos)
	size, err := w.GetFileSize(e.ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
}

func (s *Suite) testReadOnlyHandle(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("ro"), "handle.txt")

	f, err := e.fs.Open(e.ctx, p, vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(e.ctx)

	assert.ErrorIs(t, f.Write(e.ctx, []byte("x")), vfs.ErrAccessDenied)
	assert.ErrorIs(t, f.SetFileSize(e.ctx, 0), vfs.ErrAccessDenied)
	assert.NotZero(t, f.Params().Access&vfs.AccessRead)
	assert.NoError(t, f.LastError())
}

func (s *Suite) testMicroOperations(t *testing.T) {
	e := s.newEnv(t, vfs.Options{MicroOperationSize: 7})
	data := pattern(1000)
	p := e.write(data, "micro.bin")
	assert.Equal(t, data, e.read(p))

	f, err := e.fs.OpenForWrite(e.ctx, p, vfs.FlagNone)
	require.NoError(t, err)
	defer f.Close(e.ctx)

	patch := bytes.Repeat([]byte{'Z'}, 30)
	require.NoError(t, f.WriteRandom(e.ctx, 495, patch))

	buf := make([]byte, 40)
	n, err := f.ReadRandom(e.ctx, 490, buf)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
	assert.Equal(t, data[490:495], buf[:5])
	assert.Equal(t, patch, buf[5:35])
	assert.Equal(t, data[525:530], buf[35:])
}

func (s *Suite) testStream(t *testing.T) {
	e := s.env(t)
	f, err := e.fs.Create(e.ctx, e.path("stream.txt"), vfs.FlagNone)
	require.NoError(t, err)

	stream := f.Stream(e.ctx)
	_, err = io.WriteString(stream, "through io.Writer")
	require.NoError(t, err)
	_, err = stream.Seek(0, io.SeekStart)
	require.NoError(t, err)

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "through io.Writer", string(got))
	// Closing the stream flushes but leaves the handle open.
	require.NoError(t, stream.Close())
	assert.False(t, f.IsClosed())
	require.NoError(t, f.Close(e.ctx))
}

func (s *Suite) testClosedHandle(t *testing.T) {
	e := s.env(t)
	f, err := e.fs.Create(e.ctx, e.path("closed.txt"), vfs.FlagNone)
	require.NoError(t, err)
	assert.Len(t, e.fs.OpenHandles(), 1)

	require.NoError(t, f.Close(e.ctx))
	assert.Empty(t, e.fs.OpenHandles())

	_, err = f.Read(e.ctx, make([]byte, 1))
	assert.ErrorIs(t, err, vfs.ErrClosed)
	assert.ErrorIs(t, f.Write(e.ctx, []byte("x")), vfs.ErrClosed)
}
