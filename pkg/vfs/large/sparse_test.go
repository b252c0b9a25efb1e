package large

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Growing a sparse logical file leaves holes in its shards on backends that
// support them, while other files are zero-filled.
func TestSetFileSize_SparseShardsOnLocal(t *testing.T) {
	const shard = 1 << 20
	const logical = 4 * shard

	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileSystem(local.NewFileSystem(local.Config{}, vfs.Options{}), testParams(shard), vfs.Options{})
	require.NoError(t, err)
	defer fs.Close(ctx)

	physicalAfterGrow := func(name string, flags vfs.FileFlags) int64 {
		f, err := fs.Create(ctx, filepath.Join(dir, name), flags)
		require.NoError(t, err)
		defer f.Close(ctx)

		require.NoError(t, f.Write(ctx, []byte("head")))
		require.NoError(t, f.SetFileSize(ctx, logical))
		require.NoError(t, f.Flush(ctx))

		size, err := f.GetFileSize(ctx, true)
		require.NoError(t, err)
		require.Equal(t, int64(logical), size)

		physical, err := f.GetPhysicalSize(ctx)
		require.NoError(t, err)
		return physical
	}

	sparse := physicalAfterGrow("sparse.bin", vfs.FlagSparseFile)
	assert.Less(t, sparse, int64(logical/2))

	dense := physicalAfterGrow("dense.bin", vfs.FlagNone)
	assert.GreaterOrEqual(t, dense, int64(logical))

	// The sparse shards read back as zeros.
	got, err := fs.ReadDataFromFile(ctx, filepath.Join(dir, "sparse.bin"))
	require.NoError(t, err)
	require.Len(t, got, logical)
	assert.Equal(t, "head", string(got[:4]))
	assert.Equal(t, make([]byte, shard), got[2*shard:3*shard])
}

func TestShardHandles_PooledPerSparseFlag(t *testing.T) {
	ctx := context.Background()
	fs, under, _ := newLarge(t, testParams(100))

	for _, flags := range []vfs.FileFlags{vfs.FlagNone, vfs.FlagSparseFile} {
		f, err := fs.Create(ctx, "/pooled.bin", flags)
		require.NoError(t, err)
		require.NoError(t, f.Write(ctx, []byte("x")))
		require.NoError(t, f.Close(ctx))
	}

	_, write := under.Pools()
	assert.Equal(t, 2, write.Len())

	// Deleting the file invalidates both variants.
	require.NoError(t, fs.DeleteFile(ctx, "/pooled.bin"))
	assert.Equal(t, 0, write.Len())
}
