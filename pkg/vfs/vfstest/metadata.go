package vfstest

import (
	"testing"
	"time"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunMetadataTests checks metadata retrieval and copying.
func (s *Suite) RunMetadataTests(t *testing.T) {
	t.Run("FileMetadata", s.testFileMetadata)
	t.Run("DirectoryMetadata", s.testDirectoryMetadata)
	t.Run("KindMismatch", s.testKindMismatch)
	t.Run("SetTimes", s.testSetTimes)
	t.Run("CopyMetadata", s.testCopyMetadata)
}

func (s *Suite) testFileMetadata(t *testing.T) {
	e := s.env(t)
	p := e.write(pattern(321), "meta.bin")

	md, err := e.fs.GetFileMetadata(e.ctx, p, vfs.GetAll)
	require.NoError(t, err)
	assert.False(t, md.IsDirectory)
	assert.Equal(t, int64(321), md.Size)
	assert.False(t, md.AttributesOrDefault().Has(vfs.AttrDirectory))
	require.NotNil(t, md.LastWriteTime)
	assert.False(t, md.LastWriteTime.IsZero())
}

func (s *Suite) testDirectoryMetadata(t *testing.T) {
	e := s.env(t)
	require.NoError(t, e.fs.CreateDirectory(e.ctx, e.path("mdir"), false))

	md, err := e.fs.GetDirectoryMetadata(e.ctx, e.path("mdir"), vfs.GetAll)
	require.NoError(t, err)
	assert.True(t, md.IsDirectory)
	assert.True(t, md.AttributesOrDefault().Has(vfs.AttrDirectory))
}

func (s *Suite) testKindMismatch(t *testing.T) {
	e := s.env(t)
	p := e.write([]byte("f"), "kind.txt")
	require.NoError(t, e.fs.CreateDirectory(e.ctx, e.path("kind"), false))

	_, err := e.fs.GetDirectoryMetadata(e.ctx, p, vfs.GetBasic)
	assert.Error(t, err)
	_, err = e.fs.GetFileMetadata(e.ctx, e.path("kind"), vfs.GetBasic)
	assert.Error(t, err)
	_, err = e.fs.GetFileMetadata(e.ctx, e.path("nope"), vfs.GetBasic)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func (s *Suite) testSetTimes(t *testing.T) {
	if s.NoTimestamps {
		t.Skip("backend does not store timestamps")
	}
	e := s.env(t)
	p := e.write([]byte("times"), "times.txt")

	when := time.Date(2020, 2, 29, 12, 30, 0, 0, time.UTC)
	require.NoError(t, e.fs.SetFileMetadata(e.ctx, p, &vfs.FileMetadata{
		LastWriteTime:  vfs.TimePtr(when),
		LastAccessTime: vfs.TimePtr(when),
	}, vfs.CopyLastWriteTime|vfs.CopyLastAccessTime))

	md, err := e.fs.GetFileMetadata(e.ctx, p, vfs.GetTimes)
	require.NoError(t, err)
	require.NotNil(t, md.LastWriteTime)
	assert.True(t, when.Equal(*md.LastWriteTime), "got %v", *md.LastWriteTime)
}

func (s *Suite) testCopyMetadata(t *testing.T) {
	if s.NoTimestamps {
		t.Skip("backend does not store timestamps")
	}
	e := s.env(t)
	src := e.write([]byte("src"), "copy-src.txt")
	dst := e.write([]byte("dst"), "copy-dst.txt")

	when := time.Date(2019, 7, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, e.fs.SetFileMetadata(e.ctx, src, &vfs.FileMetadata{
		LastWriteTime: vfs.TimePtr(when),
	}, vfs.CopyLastWriteTime))

	require.NoError(t, e.fs.CopyMetadata(e.ctx, src, dst, vfs.CopyDefault))

	md, err := e.fs.GetFileMetadata(e.ctx, dst, vfs.GetTimes)
	require.NoError(t, err)
	require.NotNil(t, md.LastWriteTime)
	assert.True(t, when.Equal(*md.LastWriteTime))
	// Content is untouched.
	assert.Equal(t, []byte("dst"), e.read(dst))
}
