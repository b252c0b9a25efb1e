package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
			return NewFileSystem(Config{}, opts), "/"
		},
	}
	suite.Run(t)
}

func TestMemoryFileSystem_Subdirectory(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
			fs := NewFileSystem(Config{}, vfs.Options{})
			require.NoError(t, fs.CreateDirectory(context.Background(), "/work/area", true))
			require.NoError(t, fs.Close(context.Background()))

			// The backend is reused so the prepared tree survives.
			return vfs.New(fs.Backend(), opts), "/work/area"
		},
	}
	suite.Run(t)
}

func TestMemoryFileSystem_DeleteOpenFileFails(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(Config{}, vfs.Options{})
	defer fs.Close(ctx)

	f, err := fs.Create(ctx, "/busy.txt", vfs.FlagNone)
	require.NoError(t, err)

	err = fs.DeleteFile(ctx, "/busy.txt")
	assert.ErrorIs(t, err, ErrEntityBusy)
	assert.ErrorIs(t, err, vfs.ErrBusy)
	require.NoError(t, f.Close(ctx))
	require.NoError(t, fs.DeleteFile(ctx, "/busy.txt"))
}

func TestMemoryFileSystem_CaseCorrection(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(Config{CaseInsensitive: true}, vfs.Options{CaseCorrection: true})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/Docs/ReadMe.TXT", []byte("hi"), vfs.FlagAutoCreateDirectory))

	normalized, err := fs.NormalizePath(ctx, "/docs/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "/Docs/ReadMe.TXT", normalized)

	data, err := fs.ReadDataFromFile(ctx, "/DOCS/README.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)

	// Missing tails keep the requested case.
	normalized, err = fs.NormalizePath(ctx, "/docs/new/File.txt")
	require.NoError(t, err)
	assert.Equal(t, "/Docs/new/File.txt", normalized)

	// A rename through the filesystem flushes the cache.
	require.NoError(t, fs.MoveDirectory(ctx, "/docs", "/Papers"))
	normalized, err = fs.NormalizePath(ctx, "/papers/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, "/Papers/ReadMe.TXT", normalized)
}

func TestMemoryFileSystem_CompressionFlag(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(Config{}, vfs.Options{})
	defer fs.Close(ctx)

	f, err := fs.Create(ctx, "/packed.bin", vfs.FlagOnCreateSetCompressionFlag)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	md, err := fs.GetFileMetadata(ctx, "/packed.bin", vfs.GetAttributes)
	require.NoError(t, err)
	assert.True(t, md.AttributesOrDefault().Has(vfs.AttrCompressed))
}

func TestMemoryFileSystem_MetadataFacets(t *testing.T) {
	ctx := context.Background()
	fs := NewFileSystem(Config{}, vfs.Options{})
	defer fs.Close(ctx)

	require.NoError(t, fs.WriteDataToFile(ctx, "/src", []byte("a"), vfs.FlagNone))
	require.NoError(t, fs.WriteDataToFile(ctx, "/dst", []byte("b"), vfs.FlagNone))

	require.NoError(t, fs.SetFileMetadata(ctx, "/src", &vfs.FileMetadata{
		Security:        &vfs.FileSecurityMetadata{Owner: "alice"},
		AlternateStream: &vfs.FileAlternateStreamMetadata{},
		Author:          &vfs.FileAuthorMetadata{Author: "bob"},
	}, vfs.CopyAll))

	// The default copy mode leaves security, streams and author alone.
	require.NoError(t, fs.CopyMetadata(ctx, "/src", "/dst", vfs.CopyDefault))
	md, err := fs.GetFileMetadata(ctx, "/dst", vfs.GetAll)
	require.NoError(t, err)
	assert.True(t, md.Security == nil || md.Security.IsEmpty())
	assert.Nil(t, md.Author)

	require.NoError(t, fs.CopyMetadata(ctx, "/src", "/dst", vfs.CopyAll))
	md, err = fs.GetFileMetadata(ctx, "/dst", vfs.GetAll)
	require.NoError(t, err)
	require.NotNil(t, md.Security)
	assert.Equal(t, "alice", md.Security.Owner)
	require.NotNil(t, md.Author)
	assert.Equal(t, "bob", md.Author.Author)
}
