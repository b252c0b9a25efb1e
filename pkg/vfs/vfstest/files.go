package vfstest

import (
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunFileTests checks file creation, deletion and moves.
func (s *Suite) RunFileTests(t *testing.T) {
	t.Run("WriteThenRead", s.testWriteThenRead)
	t.Run("OpenMissing", s.testOpenMissing)
	t.Run("CreateNewExisting", s.testCreateNewExisting)
	t.Run("CreateTruncates", s.testCreateTruncates)
	t.Run("OpenWithoutParent", s.testOpenWithoutParent)
	t.Run("DeleteFile", s.testDeleteFile)
	t.Run("MoveFile", s.testMoveFile)
	t.Run("MoveFileOverwrite", s.testMoveFileOverwrite)
	t.Run("DeleteOnClose", s.testDeleteOnClose)
	t.Run("ReadOnly", s.testReadOnly)
}

func (s *Suite) testWriteThenRead(t *testing.T) {
	e := s.env(t)
	data := pattern(5000)
	p := e.write(data, "dir", "file.bin")

	assert.Equal(t, data, e.read(p))
	assert.True(t, e.fs.IsFileExists(e.ctx, p))
	assert.False(t, e.fs.IsDirectoryExists(e.ctx, p))
}

func (s *Suite) testOpenMissing(t *testing.T) {
	e := s.env(t)
	_, err := e.fs.Open(e.ctx, e.path("missing.txt"), vfs.FlagNone)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func (s *Suite) testCreateNewExisting(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("x"), "exists.txt")
	_, err := e.fs.CreateNew(e.ctx, p, vfs.FlagNone)
	assert.ErrorIs(t, err, vfs.ErrAlreadyExists)
}

func (s *Suite) testCreateTruncates(t *testing.T) {
	e := s.env(t)
	p := e.write(pattern(100), "trunc.txt")

	f, err := e.fs.Create(e.ctx, p, vfs.FlagNone)
	require.NoError(t, err)
	size, err := f.GetFileSize(e.ctx, true)
	require.NoError(t, err)
	assert.Zero(t, size)
	require.NoError(t, f.Close(e.ctx))
}

func (s *Suite) testOpenWithoutParent(t *testing.T) {
	e := s.env(t)
	_, err := e.fs.Create(e.ctx, e.path("no", "such", "dir.txt"), vfs.FlagNone)
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	f, err := e.fs.Create(e.ctx, e.path("no", "such", "dir.txt"), vfs.FlagAutoCreateDirectory)
	require.NoError(t, err)
	require.NoError(t, f.Close(e.ctx))
	assert.True(t, e.fs.IsDirectoryExists(e.ctx, e.path("no", "such")))
}

func (s *Suite) testDeleteFile(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("bye"), "delete.txt")

	require.NoError(t, e.fs.DeleteFile(e.ctx, p))
	assert.False(t, e.fs.IsFileExists(e.ctx, p))
	assert.ErrorIs(t, e.fs.DeleteFile(e.ctx, p), vfs.ErrNotFound)
}

func (s *Suite) testMoveFile(t *testing.T) {
	e := s.env(t)
	src := e.write([]byte("moving"), "a", "src.txt")
	require.NoError(t, e.fs.CreateDirectory(e.ctx, e.path("b"), false))
	dst := e.path("b", "dst.txt")

	require.NoError(t, e.fs.MoveFile(e.ctx, src, dst, false))
	assert.False(t, e.fs.IsFileExists(e.ctx, src))
	assert.Equal(t, []byte("moving"), e.read(dst))
}

func (s *Suite) testMoveFileOverwrite(t *testing.T) {
	e := s.env(t)
	src := e.write([]byte("new"), "src.txt")
	dst := e.write([]byte("old content"), "dst.txt")

	assert.ErrorIs(t, e.fs.MoveFile(e.ctx, src, dst, false), vfs.ErrAlreadyExists)
	require.NoError(t, e.fs.MoveFile(e.ctx, src, dst, true))
	assert.Equal(t, []byte("new"), e.read(dst))
}

func (s *Suite) testDeleteOnClose(t *testing.T) {
	e := s.env(t)
	p := e.path("tmp", "scratch.bin")

	f, err := e.fs.Create(e.ctx, p, vfs.FlagAutoCreateDirectory|vfs.FlagDeleteFileOnClose|vfs.FlagDeleteParentDirOnClose)
	require.NoError(t, err)
	require.NoError(t, f.Write(e.ctx, []byte("temp")))
	require.NoError(t, f.Close(e.ctx))
	require.NoError(t, f.Close(e.ctx))

	assert.False(t, e.fs.IsFileExists(e.ctx, p))
	assert.False(t, e.fs.IsDirectoryExists(e.ctx, e.path("tmp")))

	// A parent that still has other entries survives.
	keep := e.write([]byte("keep"), "shared", "keep.txt")
	f, err = e.fs.Create(e.ctx, e.path("shared", "gone.txt"), vfs.FlagDeleteFileOnClose|vfs.FlagDeleteParentDirOnClose)
	require.NoError(t, err)
	require.NoError(t, f.Close(e.ctx))
	assert.True(t, e.fs.IsFileExists(e.ctx, keep))
}

func (s *Suite) testReadOnly(t *testing.T) {
	rw := s.env(t)
	p := rw.write([]byte("data"), "ro.txt")
	require.NoError(t, rw.fs.Close(rw.ctx))

	e := s.newEnv(t, vfs.Options{ReadOnly: true})
	// Backends with persistent state see the file written above; fresh
	// in-memory ones do not, so only the rejection is asserted.
	_, err := e.fs.Create(e.ctx, p, vfs.FlagNone)
	assert.ErrorIs(t, err, vfs.ErrReadOnly)
	assert.ErrorIs(t, e.fs.DeleteFile(e.ctx, p), vfs.ErrReadOnly)
	assert.ErrorIs(t, e.fs.CreateDirectory(e.ctx, e.path("x"), true), vfs.ErrReadOnly)
	_, err = e.fs.GetRandomAccessHandle(e.ctx, p, true)
	assert.ErrorIs(t, err, vfs.ErrReadOnly)
}
