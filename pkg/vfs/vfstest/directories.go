package vfstest

import (
	"context"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDirectoryTests checks directory creation, enumeration, deletion and moves.
func (s *Suite) RunDirectoryTests(t *testing.T) {
	t.Run("CreateRecursive", s.testCreateRecursive)
	t.Run("CreateWithoutParent", s.testCreateWithoutParent)
	t.Run("EnumFlat", s.testEnumFlat)
	t.Run("EnumRecursive", s.testEnumRecursive)
	t.Run("EnumParentEntry", s.testEnumParentEntry)
	t.Run("EnumMissing", s.testEnumMissing)
	t.Run("DeleteNonEmpty", s.testDeleteNonEmpty)
	t.Run("DeleteRecursive", s.testDeleteRecursive)
	t.Run("MoveDirectory", s.testMoveDirectory)
	t.Run("MoveIntoItself", s.testMoveIntoItself)
	t.Run("Walk", s.testWalk)
}

func (s *Suite) testCreateRecursive(t *testing.T) {
	e := s.env(t)
	p := e.path("a", "b", "c")
	require.NoError(t, e.fs.CreateDirectory(e.ctx, p, true))
	assert.True(t, e.fs.IsDirectoryExists(e.ctx, p))
	assert.False(t, e.fs.IsFileExists(e.ctx, p))

	// Creating an existing directory is not an error.
	require.NoError(t, e.fs.CreateDirectory(e.ctx, p, true))
	require.NoError(t, e.fs.CreateDirectory(e.ctx, p, false))
}

func (s *Suite) testCreateWithoutParent(t *testing.T) {
	e := s.env(t)
	err := e.fs.CreateDirectory(e.ctx, e.path("x", "y"), false)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func (s *Suite) testEnumFlat(t *testing.T) {
	e := s.env(t)
	e.write(pattern(10), "dir", "one.txt")
	e.write(pattern(20), "dir", "two.txt")
	require.NoError(t, e.fs.CreateDirectory(e.ctx, e.path("dir", "sub"), false))

	entries, err := e.fs.EnumDirectory(e.ctx, e.path("dir"), false, vfs.EnumDefault)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.True(t, entries[0].IsCurrentDirectory())
	assert.True(t, entries[0].IsDirectory())

	byName := make(map[string]vfs.FileSystemEntity)
	for _, entry := range entries[1:] {
		byName[entry.Name] = entry
	}
	require.Contains(t, byName, "one.txt")
	require.Contains(t, byName, "two.txt")
	require.Contains(t, byName, "sub")

	assert.Equal(t, int64(10), byName["one.txt"].Size)
	assert.Equal(t, int64(20), byName["two.txt"].Size)
	sub := byName["sub"]
	assert.True(t, sub.IsDirectory())
	assert.Equal(t, e.path("dir", "sub"), byName["sub"].FullPath)
}

func (s *Suite) testEnumRecursive(t *testing.T) {
	e := s.env(t)
	e.write([]byte("1"), "tree", "a", "deep", "file1")
	e.write([]byte("2"), "tree", "b", "file2")
	e.write([]byte("3"), "tree", "file3")

	entries, err := e.fs.EnumDirectory(e.ctx, e.path("tree"), true, vfs.EnumDefault)
	require.NoError(t, err)
	require.True(t, entries[0].IsCurrentDirectory())

	index := make(map[string]int)
	for i, entry := range entries[1:] {
		assert.False(t, entry.IsCurrentDirectory())
		index[entry.FullPath] = i
	}
	assert.Len(t, index, 7)

	// Every entry comes after its parent directory.
	for _, pair := range [][2]string{
		{e.path("tree", "a"), e.path("tree", "a", "deep")},
		{e.path("tree", "a", "deep"), e.path("tree", "a", "deep", "file1")},
		{e.path("tree", "b"), e.path("tree", "b", "file2")},
	} {
		require.Contains(t, index, pair[0])
		require.Contains(t, index, pair[1])
		assert.Less(t, index[pair[0]], index[pair[1]], "%s before %s", pair[0], pair[1])
	}
	assert.Contains(t, index, e.path("tree", "file3"))
}

func (s *Suite) testEnumParentEntry(t *testing.T) {
	e := s.env(t)
	require.NoError(t, e.fs.CreateDirectory(e.ctx, e.path("p", "child"), true))

	entries, err := e.fs.EnumDirectory(e.ctx, e.path("p", "child"), false, vfs.EnumAddParentDirectory)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsCurrentDirectory())
	assert.True(t, entries[1].IsParentDirectory())
	assert.True(t, entries[1].IsDirectory())
	assert.Equal(t, e.path("p"), entries[1].FullPath)
}

func (s *Suite) testEnumMissing(t *testing.T) {
	e := s.env(t)
	_, err := e.fs.EnumDirectory(e.ctx, e.path("ghost"), false, vfs.EnumDefault)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func (s *Suite) testDeleteNonEmpty(t *testing.T) {
	e := s.env(t)
	e.write([]byte("x"), "full", "x.txt")

	assert.ErrorIs(t, e.fs.DeleteDirectory(e.ctx, e.path("full"), false), vfs.ErrNotEmpty)
	assert.True(t, e.fs.IsDirectoryExists(e.ctx, e.path("full")))
}

func (s *Suite) testDeleteRecursive(t *testing.T) {
	e := s.env(t)
	e.write([]byte("1"), "gone", "a", "b", "1.txt")
	e.write([]byte("2"), "gone", "a", "2.txt")
	e.write([]byte("3"), "gone", "3.txt")
	e.write([]byte("k"), "kept.txt")

	require.NoError(t, e.fs.DeleteDirectory(e.ctx, e.path("gone"), true))
	assert.False(t, e.fs.IsDirectoryExists(e.ctx, e.path("gone")))
	assert.True(t, e.fs.IsFileExists(e.ctx, e.path("kept.txt")))
	assert.Equal(t, []string{"kept.txt"}, e.names(e.root, false))
}

func (s *Suite) testMoveDirectory(t *testing.T) {
	e := s.env(t)
	e.write([]byte("inner"), "src", "nested", "f.txt")

	require.NoError(t, e.fs.MoveDirectory(e.ctx, e.path("src"), e.path("dst")))
	assert.False(t, e.fs.IsDirectoryExists(e.ctx, e.path("src")))
	assert.Equal(t, []byte("inner"), e.read(e.path("dst", "nested", "f.txt")))
}

func (s *Suite) testMoveIntoItself(t *testing.T) {
	e := s.env(t)
	require.NoError(t, e.fs.CreateDirectory(e.ctx, e.path("loop", "inner"), true))

	err := e.fs.MoveDirectory(e.ctx, e.path("loop"), e.path("loop", "inner", "loop"))
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
}

func (s *Suite) testWalk(t *testing.T) {
	e := s.env(t)
	e.write([]byte("1"), "walk", "a", "1.txt")
	e.write([]byte("2"), "walk", "b", "2.txt")

	var pre, post []string
	walker := vfs.NewDirectoryWalker(e.fs, true)
	err := walker.Walk(e.ctx, e.path("walk"),
		func(_ context.Context, dir string, _ []vfs.FileSystemEntity) error {
			pre = append(pre, dir)
			return nil
		},
		func(_ context.Context, dir string, _ []vfs.FileSystemEntity) error {
			post = append(post, dir)
			return nil
		},
		nil,
	)
	require.NoError(t, err)

	require.Len(t, pre, 3)
	require.Len(t, post, 3)
	assert.Equal(t, e.path("walk"), pre[0])
	assert.Equal(t, e.path("walk"), post[len(post)-1])
	assert.ElementsMatch(t, pre, post)
}
