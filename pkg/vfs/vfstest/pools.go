package vfstest

import (
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPoolTests checks the pooled random-access handles.
func (s *Suite) RunPoolTests(t *testing.T) {
	t.Run("SharedHandle", s.testSharedHandle)
	t.Run("WriteThenRead", s.testPoolWriteThenRead)
	t.Run("DeleteInvalidates", s.testPoolDeleteInvalidates)
	t.Run("IdleCap", s.testPoolIdleCap)
	t.Run("ReleaseTwice", s.testPoolReleaseTwice)
}

func (s *Suite) testSharedHandle(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("pooled"), "shared.txt")

	a, err := e.fs.GetRandomAccessHandle(e.ctx, p, false)
	require.NoError(t, err)
	b, err := e.fs.GetRandomAccessHandle(e.ctx, p, false)
	require.NoError(t, err)
	assert.Same(t, a.File(), b.File())

	read, _ := e.fs.Pools()
	entries, idle := read.Stats()
	assert.Equal(t, 1, entries)
	assert.Zero(t, idle)

	require.NoError(t, a.Release(e.ctx))
	require.NoError(t, b.Release(e.ctx))
	entries, idle = read.Stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, idle)
}

func (s *Suite) testPoolWriteThenRead(t *testing.T) {
	e := s.env(t)
	p := e.path("pool", "data.bin")

	w, err := e.fs.GetRandomAccessHandle(e.ctx, p, true)
	require.NoError(t, err)
	require.NoError(t, w.WriteRandom(e.ctx, 0, []byte("0123456789")))
	require.NoError(t, w.WriteRandom(e.ctx, 20, []byte("tail")))
	require.NoError(t, w.Flush(e.ctx))
	require.NoError(t, w.Release(e.ctx))

	r, err := e.fs.GetRandomAccessHandle(e.ctx, p, false)
	require.NoError(t, err)
	defer r.Release(e.ctx)

	size, err := r.GetFileSize(e.ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(24), size)

	buf := make([]byte, 4)
	n, err := r.ReadRandom(e.ctx, 20, buf)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(buf[:n]))
}

func (s *Suite) testPoolDeleteInvalidates(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("old"), "inv.txt")

	h, err := e.fs.GetRandomAccessHandle(e.ctx, p, false)
	require.NoError(t, err)
	require.NoError(t, h.Release(e.ctx))

	read, _ := e.fs.Pools()
	assert.Equal(t, 1, read.Len())

	require.NoError(t, e.fs.DeleteFile(e.ctx, p))
	assert.Zero(t, read.Len())

	e.write([]byte("brand new"), "inv.txt")
	h, err = e.fs.GetRandomAccessHandle(e.ctx, p, false)
	require.NoError(t, err)
	defer h.Release(e.ctx)

	buf := make([]byte, 9)
	n, err := h.ReadRandom(e.ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "brand new", string(buf[:n]))
}

func (s *Suite) testPoolIdleCap(t *testing.T) {
	e := s.newEnv(t, vfs.Options{Pool: vfs.PoolOptions{MaxIdleHandles: 1}})
	p1 := e.write([]byte("1"), "one.txt")
	p2 := e.write([]byte("2"), "two.txt")

	for _, p := range []string{p1, p2} {
		h, err := e.fs.GetRandomAccessHandle(e.ctx, p, false)
		require.NoError(t, err)
		require.NoError(t, h.Release(e.ctx))
	}

	read, _ := e.fs.Pools()
	entries, idle := read.Stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, idle)
	assert.Len(t, e.fs.OpenHandles(), 1)
}

func (s *Suite) testPoolReleaseTwice(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("x"), "twice.txt")

	h, err := e.fs.GetRandomAccessHandle(e.ctx, p, false)
	require.NoError(t, err)
	require.NoError(t, h.Release(e.ctx))
	require.NoError(t, h.Release(e.ctx))

	read, _ := e.fs.Pools()
	_, idle := read.Stats()
	assert.Equal(t, 1, idle)
}
