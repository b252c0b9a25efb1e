package badger

import (
	"bytes"
	"context"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFS(t *testing.T, cfg Config) *vfs.FileSystem {
	t.Helper()
	ctx := context.Background()
	cfg.InMemory = true
	fs, err := NewFileSystem(ctx, cfg, vfs.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close(ctx) })
	return fs
}

func TestBadgerFileSystem(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
			fs, err := NewFileSystem(context.Background(), Config{InMemory: true}, opts)
			require.NoError(t, err)
			return fs, "/"
		},
	}
	suite.Run(t)
}

func TestBadgerFileSystem_SmallBlocks(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
			fs, err := NewFileSystem(context.Background(), Config{InMemory: true, BlockSize: 7}, opts)
			require.NoError(t, err)
			return fs, "/"
		},
	}
	suite.Run(t)
}

func TestBadger_Persistence(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Path: t.TempDir(), BlockSize: 16}

	fs, err := NewFileSystem(ctx, cfg, vfs.Options{})
	require.NoError(t, err)
	data := bytes.Repeat([]byte("0123456789"), 10)
	require.NoError(t, fs.WriteDataToFile(ctx, "/keep/data.bin", data, vfs.FlagAutoCreateDirectory))
	require.NoError(t, fs.Close(ctx))

	fs, err = NewFileSystem(ctx, cfg, vfs.Options{})
	require.NoError(t, err)
	defer fs.Close(ctx)

	got, err := fs.ReadDataFromFile(ctx, "/keep/data.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBadger_Blocks(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, Config{BlockSize: 10})
	b := fs.Backend().(*Backend)

	require.NoError(t, fs.WriteDataToFile(ctx, "/f.bin", bytes.Repeat([]byte{'x'}, 25), vfs.FlagNone))

	var indexes []int64
	require.NoError(t, b.DB().View(func(txn *badgerdb.Txn) error {
		nd, err := b.resolve(txn, "/f.bin")
		if err != nil {
			return err
		}
		for _, key := range blockKeys(txn, nd.ID, 0) {
			indexes = append(indexes, blockIndex(key))
		}
		return nil
	}))
	assert.Equal(t, []int64{0, 1, 2}, indexes)

	md, err := fs.GetFileMetadata(ctx, "/f.bin", vfs.GetBasic)
	require.NoError(t, err)
	assert.Equal(t, int64(25), md.Size)
	assert.Equal(t, int64(25), md.PhysicalSize)
}

func TestBadger_HolesAndTruncate(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, Config{BlockSize: 8})

	f, err := fs.Create(ctx, "/sparse.bin", vfs.FlagNone)
	require.NoError(t, err)
	require.NoError(t, f.Write(ctx, []byte("abcdefghij")))
	require.NoError(t, f.SetFileSize(ctx, 40))

	physical, err := f.GetPhysicalSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), physical)

	buf := make([]byte, 40)
	n, err := f.ReadRandom(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 40, n)
	assert.Equal(t, []byte("abcdefghij"), buf[:10])
	assert.Equal(t, make([]byte, 30), buf[10:])

	// Shrinking cuts the block; growing again must not revive old bytes.
	require.NoError(t, f.SetFileSize(ctx, 3))
	require.NoError(t, f.SetFileSize(ctx, 10))
	n, err = f.ReadRandom(ctx, 0, buf[:10])
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, append([]byte("abc"), make([]byte, 7)...), buf[:10])

	physical, err = f.GetPhysicalSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), physical)
	require.NoError(t, f.Close(ctx))
}

func TestBadger_RenameKeepsContent(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, Config{})

	require.NoError(t, fs.WriteDataToFile(ctx, "/a/b/file.txt", []byte("payload"), vfs.FlagAutoCreateDirectory))
	require.NoError(t, fs.MoveDirectory(ctx, "/a", "/z"))

	got, err := fs.ReadDataFromFile(ctx, "/z/b/file.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
	assert.False(t, fs.IsDirectoryExists(ctx, "/a"))

	require.NoError(t, fs.WriteDataToFile(ctx, "/other.txt", []byte("old"), vfs.FlagNone))
	assert.ErrorIs(t, fs.MoveFile(ctx, "/z/b/file.txt", "/other.txt", false), vfs.ErrAlreadyExists)
	require.NoError(t, fs.MoveFile(ctx, "/z/b/file.txt", "/other.txt", true))

	got, err = fs.ReadDataFromFile(ctx, "/other.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestBadger_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, Config{CaseInsensitive: true})

	require.NoError(t, fs.WriteDataToFile(ctx, "/Docs/ReadMe.TXT", []byte("hi"), vfs.FlagAutoCreateDirectory))
	got, err := fs.ReadDataFromFile(ctx, "/docs/README.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)

	entries, err := fs.EnumDirectory(ctx, "/DOCS", false, vfs.EnumDefault)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ReadMe.TXT", entries[1].Name)

	// A case-only rename keeps a single entry with the new spelling.
	require.NoError(t, fs.MoveFile(ctx, "/docs/readme.txt", "/docs/README.txt", false))
	entries, err = fs.EnumDirectory(ctx, "/docs", false, vfs.EnumDefault)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "README.txt", entries[1].Name)
}

func TestBadger_DeletedFileHandle(t *testing.T) {
	ctx := context.Background()
	fs := newFS(t, Config{})

	f, err := fs.Create(ctx, "/gone.txt", vfs.FlagNone)
	require.NoError(t, err)
	require.NoError(t, f.Write(ctx, []byte("x")))
	require.NoError(t, fs.DeleteFile(ctx, "/gone.txt"))

	_, err = f.GetFileSize(ctx, true)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
	_ = f.Close(ctx)
}

func TestBadger_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
}

func TestKeys(t *testing.T) {
	id := rootID
	key := keyBlock(id, 258)
	assert.True(t, bytes.HasPrefix(key, keyBlockPrefix(id)))
	assert.Equal(t, int64(258), blockIndex(key))
	assert.Less(t, string(keyBlock(id, 9)), string(keyBlock(id, 10)))
	assert.Equal(t, "c:00000000-0000-0000-0000-000000000000:readme", string(keyChild(id, foldName("README", true))))
}
