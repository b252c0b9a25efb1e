// Package vfstest is a conformance suite for vfs.Backend implementations.
//
// It tests the FileSystem contract through the public vfs.FileSystem API, not
// backend internals, so the same checks run against every backend (memory,
// local, badger, s3, chroot, large).
package vfstest

import (
	"context"
	"testing"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/stretchr/testify/require"
)

// Suite runs the conformance tests.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    suite := &vfstest.Suite{
//	        NewFileSystem: func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string) {
//	            return memory.NewFileSystem(memory.Config{}, opts), "/"
//	        },
//	    }
//	    suite.Run(t)
//	}
type Suite struct {
	// NewFileSystem creates a fresh, empty filesystem for each test and
	// returns it with the directory the tests may use as their root. The
	// suite closes the filesystem at the end of the test.
	NewFileSystem func(t *testing.T, opts vfs.Options) (*vfs.FileSystem, string)

	// NoTimestamps skips timestamp round-trips for backends that cannot
	// store arbitrary times.
	NoTimestamps bool
}

// Run executes all tests in the suite.
func (s *Suite) Run(t *testing.T) {
	t.Run("Files", s.RunFileTests)
	t.Run("FileObject", s.RunFileObjectTests)
	t.Run("Directories", s.RunDirectoryTests)
	t.Run("Metadata", s.RunMetadataTests)
	t.Run("Pools", s.RunPoolTests)
}

// env is one test's filesystem plus helpers.
type env struct {
	t    *testing.T
	ctx  context.Context
	fs   *vfs.FileSystem
	root string
}

func (s *Suite) newEnv(t *testing.T, opts vfs.Options) *env {
	t.Helper()
	fs, root := s.NewFileSystem(t, opts)
	ctx := context.Background()
	t.Cleanup(func() { _ = fs.Close(ctx) })
	return &env{t: t, ctx: ctx, fs: fs, root: root}
}

func (s *Suite) env(t *testing.T) *env {
	return s.newEnv(t, vfs.Options{})
}

// path joins elements below the test root.
func (e *env) path(elems ...string) string {
	return e.fs.PathParser().Join(append([]string{e.root}, elems...)...)
}

func (e *env) write(data []byte, elems ...string) string {
	e.t.Helper()
	p := e.path(elems...)
	require.NoError(e.t, e.fs.WriteDataToFile(e.ctx, p, data, vfs.FlagAutoCreateDirectory))
	return p
}

func (e *env) read(p string) []byte {
	e.t.Helper()
	data, err := e.fs.ReadDataFromFile(e.ctx, p)
	require.NoError(e.t, err)
	return data
}

func (e *env) names(p string, recursive bool) []string {
	e.t.Helper()
	entries, err := e.fs.EnumDirectory(e.ctx, p, recursive, vfs.EnumDefault)
	require.NoError(e.t, err)
	require.NotEmpty(e.t, entries)
	require.True(e.t, entries[0].IsCurrentDirectory())

	names := make([]string, 0, len(entries)-1)
	for _, entry := range entries[1:] {
		names = append(names, entry.Name)
	}
	return names
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}
