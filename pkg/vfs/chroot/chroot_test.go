package chroot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/local"
	"github.com/marmos91/dittovfs/pkg/vfs/memory"
	"github.com/marmos91/dittovfs/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJail(t *testing.T) (*vfs.FileSystem, *vfs.FileSystem) {
	t.Helper()
	ctx := context.Background()
	under := memory.NewFileSystem(memory.Config{}, vfs.Options{})
	require.NoError(t, under.CreateDirectory(ctx, "/srv/jail", true))
	fs, err := NewFileSystem(ctx, under, "/srv/jail", vfs.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close(ctx) })
	return fs, under
}

func TestChrootFileSystem(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
			ctx := context.Background()
			under := memory.NewFileSystem(memory.Config{}, vfs.Options{})
			require.NoError(t, under.CreateDirectory(ctx, "/srv/jail", true))
			fs, err := NewFileSystem(ctx, under, "/srv/jail", opts)
			require.NoError(t, err)
			return fs, "/"
		},
	}
	suite.Run(t)
}

func TestChrootFileSystem_Local(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
			under := local.NewFileSystem(local.Config{}, vfs.Options{})
			fs, err := NewFileSystem(context.Background(), under, t.TempDir(), opts)
			require.NoError(t, err)
			return fs, "/"
		},
	}
	suite.Run(t)
}

func TestChroot_PathsStayInside(t *testing.T) {
	ctx := context.Background()
	fs, under := newJail(t)

	require.NoError(t, fs.WriteDataToFile(ctx, "/../../etc/passwd", []byte("nope"), vfs.FlagAutoCreateDirectory))
	assert.True(t, under.IsFileExists(ctx, "/srv/jail/etc/passwd"))
	assert.False(t, under.IsFileExists(ctx, "/etc/passwd"))

	entries, err := fs.EnumDirectory(ctx, "/etc", false, vfs.EnumAddParentDirectory)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "/etc", entries[0].FullPath)
	assert.Equal(t, "/", entries[1].FullPath)
	assert.Equal(t, "/etc/passwd", entries[2].FullPath)

	root, err := fs.EnumDirectory(ctx, "/", false, vfs.EnumAddParentDirectory)
	require.NoError(t, err)
	assert.Equal(t, "/", root[1].FullPath)

	assert.ErrorIs(t, fs.DeleteDirectory(ctx, "/", true), vfs.ErrInvalidArgument)
}

func TestChroot_ErrorsUseVirtualPaths(t *testing.T) {
	ctx := context.Background()
	fs, _ := newJail(t)

	_, err := fs.Open(ctx, "/missing.txt", vfs.FlagNone)
	require.ErrorIs(t, err, vfs.ErrNotFound)
	assert.Contains(t, err.Error(), "/missing.txt")
	assert.NotContains(t, err.Error(), "/srv/jail")
}

func TestChroot_Virtual(t *testing.T) {
	ctx := context.Background()
	under := local.NewFileSystem(local.Config{}, vfs.Options{})
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755))

	b, err := New(ctx, under, dir)
	require.NoError(t, err)
	defer b.CloseImpl(ctx)

	v, err := b.Virtual(filepath.Join(dir, "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, "/a/b", v)

	v, err = b.Virtual(dir)
	require.NoError(t, err)
	assert.Equal(t, "/", v)

	_, err = b.Virtual(filepath.Dir(dir))
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
	assert.Equal(t, filepath.Join(dir, "a"), b.physical("/x/../a"))
}

func TestChroot_MissingRoot(t *testing.T) {
	ctx := context.Background()
	under := memory.NewFileSystem(memory.Config{}, vfs.Options{})
	defer under.Close(ctx)

	_, err := NewFileSystem(ctx, under, "/nowhere", vfs.Options{})
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}
