package vfs

import "context"

// WalkFunc is called with one directory and its single-level listing (the
// "." entry first).
type WalkFunc func(ctx context.Context, dir string, entries []FileSystemEntity) error

// WalkErrorFunc is called when listing dir fails. Returning true swallows the
// error and skips the directory; returning false aborts the walk.
type WalkErrorFunc func(ctx context.Context, dir string, err error) bool

// DirectoryWalker visits a directory tree depth first.
//
// For every directory the first callback runs before the children are
// visited and the optional second callback after all of them are done, which
// is where work that depends on the children (e.g. restoring directory
// timestamps once every file has been written) belongs.
type DirectoryWalker struct {
	FileSystem *FileSystem
	Recursive  bool
}

// NewDirectoryWalker returns a walker over fs.
func NewDirectoryWalker(fs *FileSystem, recursive bool) *DirectoryWalker {
	return &DirectoryWalker{FileSystem: fs, Recursive: recursive}
}

// Walk visits root and, when recursive, every directory below it.
func (w *DirectoryWalker) Walk(ctx context.Context, root string, first, second WalkFunc, onError WalkErrorFunc) error {
	normalized, err := w.FileSystem.NormalizePath(ctx, root)
	if err != nil {
		return err
	}
	return w.walk(ctx, normalized, first, second, onError)
}

func (w *DirectoryWalker) walk(ctx context.Context, dir string, first, second WalkFunc, onError WalkErrorFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := w.FileSystem.EnumDirectory(ctx, dir, false, EnumDefault)
	if err != nil {
		if onError != nil && onError(ctx, dir, err) {
			return nil
		}
		return err
	}

	if first != nil {
		if err := first(ctx, dir, entries); err != nil {
			return err
		}
	}

	if w.Recursive {
		for i := 1; i < len(entries); i++ {
			e := &entries[i]
			if !e.IsDirectory() || e.IsSymbolicLink() {
				continue
			}
			if err := w.walk(ctx, e.FullPath, first, second, onError); err != nil {
				return err
			}
		}
	}

	if second != nil {
		return second(ctx, dir, entries)
	}
	return nil
}
