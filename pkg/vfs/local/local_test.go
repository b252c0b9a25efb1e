package local

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileSystem(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
			return NewFileSystem(Config{}, opts), t.TempDir()
		},
	}
	suite.Run(t)
}

func TestSplitZeroRuns(t *testing.T) {
	data := append(append([]byte("head"), make([]byte, 10)...), []byte("tail")...)

	// Short runs stay inside the data segment.
	assert.Equal(t, []segment{{offset: 0, length: len(data)}}, splitZeroRuns(data, 16))

	assert.Equal(t, []segment{
		{offset: 0, length: 4},
		{offset: 4, length: 10, zero: true},
		{offset: 14, length: 4},
	}, splitZeroRuns(data, 8))

	zeros := make([]byte, 32)
	assert.Equal(t, []segment{{offset: 0, length: 32, zero: true}}, splitZeroRuns(zeros, 8))
	assert.Empty(t, splitZeroRuns(nil, 8))

	// Runs at both ends, with a short run merged into the middle data.
	mixed := append(append(make([]byte, 8), []byte{1, 0, 0, 1}...), make([]byte, 8)...)
	assert.Equal(t, []segment{
		{offset: 0, length: 8, zero: true},
		{offset: 8, length: 4},
		{offset: 12, length: 8, zero: true},
	}, splitZeroRuns(mixed, 8))
}

func TestSparseWrite_ContentPreserved(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := NewFileSystem(Config{}, vfs.Options{})
	defer fs.Close(ctx)

	p := filepath.Join(dir, "sparse.bin")
	data := bytes.Join([][]byte{
		[]byte("start"),
		make([]byte, 3*SparseZeroRunSize),
		[]byte("middle"),
		make([]byte, 2*SparseZeroRunSize),
	}, nil)

	f, err := fs.Create(ctx, p, vfs.FlagSparseFile)
	require.NoError(t, err)
	require.NoError(t, f.WriteRandom(ctx, 0, data))

	size, err := f.GetFileSize(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	physical, err := f.GetPhysicalSize(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, physical, size+SparseZeroRunSize)

	// Overwrite existing data with zeros: the range is punched or rewritten.
	require.NoError(t, f.WriteRandom(ctx, 0, make([]byte, SparseZeroRunSize+5)))
	require.NoError(t, f.Close(ctx))

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	want := append([]byte(nil), data...)
	copy(want, make([]byte, SparseZeroRunSize+5))
	assert.Equal(t, want, got)
}

func TestSetFileSize_ZeroExtension(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := NewFileSystem(Config{}, vfs.Options{})
	defer fs.Close(ctx)

	for _, flags := range []vfs.FileFlags{vfs.FlagNone, vfs.FlagSparseFile} {
		p := filepath.Join(dir, fmt.Sprintf("grow-%d", flags))
		f, err := fs.Create(ctx, p, flags)
		require.NoError(t, err)
		require.NoError(t, f.Write(ctx, []byte("abc")))
		require.NoError(t, f.SetFileSize(ctx, 3+2*SparseZeroRunSize))
		require.NoError(t, f.Close(ctx))

		got, err := os.ReadFile(p)
		require.NoError(t, err)
		require.Len(t, got, 3+2*SparseZeroRunSize)
		assert.Equal(t, []byte("abc"), got[:3])
		assert.Equal(t, make([]byte, 2*SparseZeroRunSize), got[3:])
	}
}

func TestMetadata_ReadOnlyAttribute(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := NewFileSystem(Config{}, vfs.Options{})
	defer fs.Close(ctx)

	p := filepath.Join(dir, "ro.txt")
	require.NoError(t, fs.WriteDataToFile(ctx, p, []byte("x"), vfs.FlagNone))

	require.NoError(t, fs.SetFileMetadata(ctx, p, &vfs.FileMetadata{
		Attributes: vfs.AttrPtr(vfs.AttrReadOnly),
	}, vfs.CopyAttributes))

	st, err := os.Stat(p)
	require.NoError(t, err)
	assert.Zero(t, st.Mode().Perm()&0o222)

	md, err := fs.GetFileMetadata(ctx, p, vfs.GetAttributes|vfs.GetSecurity)
	require.NoError(t, err)
	assert.True(t, md.AttributesOrDefault().Has(vfs.AttrReadOnly))
	require.NotNil(t, md.Security)
	assert.NotEmpty(t, md.Security.Owner)

	require.NoError(t, fs.SetFileMetadata(ctx, p, &vfs.FileMetadata{}, vfs.CopyAttributes))
	st, err = os.Stat(p)
	require.NoError(t, err)
	assert.NotZero(t, st.Mode().Perm()&0o200)
}

func TestMetadata_HiddenAndSymlink(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := NewFileSystem(Config{}, vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("h"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "target"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "target"), filepath.Join(dir, "link")))

	entries, err := fs.EnumDirectory(ctx, dir, true, vfs.EnumDefault)
	require.NoError(t, err)

	byName := make(map[string]vfs.FileSystemEntity)
	for _, e := range entries[1:] {
		byName[e.Name] = e
	}
	assert.True(t, byName[".hidden"].Attributes.Has(vfs.AttrHidden))

	link := byName["link"]
	assert.True(t, link.IsSymbolicLink())
	assert.Equal(t, filepath.Join(dir, "target"), link.SymbolicLinkTarget)
}

func TestMapError(t *testing.T) {
	_, err := os.Open(filepath.Join(t.TempDir(), "missing"))
	mapped := mapError(err)
	assert.ErrorIs(t, mapped, vfs.ErrNotFound)
	assert.ErrorIs(t, mapped, os.ErrNotExist)
	assert.NoError(t, mapError(nil))
}
