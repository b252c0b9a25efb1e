package vfs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/internal/ratelimiter"
	"github.com/marmos91/dittovfs/pkg/randomaccess"
	"golang.org/x/sync/singleflight"
)

// Backend is the contract a concrete storage implements.
//
// The FileSystem base normalizes paths, enforces read-only mode, synthesizes
// ".." entries, implements recursion and pooling, and wraps file impls into
// FileObjects. A backend only performs single, non-recursive operations on
// already normalized paths.
//
// Errors should wrap the sentinel errors of this package (ErrNotFound,
// ErrAlreadyExists, ErrNotEmpty, ...) so callers can test them uniformly.
type Backend interface {
	// PathParser returns the path syntax of the backend.
	PathParser() PathParser

	// NormalizePathImpl returns the canonical form of path.
	NormalizePathImpl(ctx context.Context, path string) (string, error)

	// CreateFileImpl opens or creates a file.
	//
	// It must honor params.Mode: ModeOpen and ModeTruncate fail with
	// ErrNotFound on a missing file, ModeCreateNew fails with
	// ErrAlreadyExists on an existing one, the other modes create missing
	// files. Truncation of existing files is done by the base.
	CreateFileImpl(ctx context.Context, params FileParameters) (FileImpl, error)

	// DeleteFileImpl removes a file.
	DeleteFileImpl(ctx context.Context, path string) error

	// CreateDirectoryImpl creates one directory whose parent exists. An
	// existing directory is not an error.
	CreateDirectoryImpl(ctx context.Context, path string) error

	// DeleteDirectoryImpl removes an empty directory; a non-empty one fails
	// with ErrNotEmpty.
	DeleteDirectoryImpl(ctx context.Context, path string) error

	// EnumDirectoryImpl lists one directory. The first entry must be "."
	// describing the directory itself. ".." and duplicate names are not
	// allowed.
	EnumDirectoryImpl(ctx context.Context, path string) ([]FileSystemEntity, error)

	GetFileMetadataImpl(ctx context.Context, path string, flags FileMetadataGetFlags) (*FileMetadata, error)
	SetFileMetadataImpl(ctx context.Context, path string, md *FileMetadata, mode FileMetadataCopyMode) error
	GetDirectoryMetadataImpl(ctx context.Context, path string, flags FileMetadataGetFlags) (*FileMetadata, error)
	SetDirectoryMetadataImpl(ctx context.Context, path string, md *FileMetadata, mode FileMetadataCopyMode) error

	// MoveFileImpl renames a file. Without overwrite an existing destination
	// fails with ErrAlreadyExists.
	MoveFileImpl(ctx context.Context, src, dst string, overwrite bool) error

	// MoveDirectoryImpl renames a directory with everything below it.
	MoveDirectoryImpl(ctx context.Context, src, dst string) error

	IsFileExistsImpl(ctx context.Context, path string) (bool, error)
	IsDirectoryExistsImpl(ctx context.Context, path string) (bool, error)

	// CloseImpl releases backend resources.
	CloseImpl(ctx context.Context) error
}

// EnumFlags tunes EnumDirectory.
type EnumFlags int

const (
	EnumDefault EnumFlags = 0

	// EnumAddParentDirectory adds a ".." entry right after ".".
	EnumAddParentDirectory EnumFlags = 1 << 0
)

// Options configures a FileSystem.
type Options struct {
	// Name identifies the filesystem in logs and metrics.
	Name string

	// ReadOnly rejects every mutating call with ErrReadOnly.
	ReadOnly bool

	// CaseCorrection resolves each path element case-insensitively against
	// the existing entries, caching the result. Useful for case-sensitive
	// backends addressed by case-insensitive clients.
	CaseCorrection bool

	// MicroOperationSize bounds a single backend call. Defaults to
	// randomaccess.DefaultMicroOperationSize.
	MicroOperationSize int

	// Pool configures the read and write handle pools.
	Pool PoolOptions

	// RateLimit bounds the bandwidth of all FileObjects of the filesystem.
	RateLimit RateLimitOptions

	// Listener observes every FileObject operation.
	Listener EventListener
}

// FileSystem is the uniform front end over a Backend.
//
// Thread Safety:
// All methods are safe for concurrent use. Internal bookkeeping (open handle
// tracking, pools) uses plain mutexes that are never held across backend I/O.
type FileSystem struct {
	backend Backend
	parser  PathParser
	opts    Options

	caseCache sync.Map
	caseGroup singleflight.Group

	readPool  *HandlePool
	writePool *HandlePool
	limiter   *ratelimiter.RateLimiter

	mu      sync.Mutex
	handles map[uuid.UUID]*FileObject
	closed  atomic.Bool
}

// New creates a FileSystem over backend.
func New(backend Backend, opts Options) *FileSystem {
	if opts.MicroOperationSize <= 0 {
		opts.MicroOperationSize = randomaccess.DefaultMicroOperationSize
	}
	if opts.Name == "" {
		opts.Name = "vfs"
	}
	fs := &FileSystem{
		backend: backend,
		parser:  backend.PathParser(),
		opts:    opts,
		limiter: opts.RateLimit.newLimiter(),
		handles: make(map[uuid.UUID]*FileObject),
	}
	fs.readPool = newHandlePool(opts.Name+"-read", fs, false, opts.Pool)
	fs.writePool = newHandlePool(opts.Name+"-write", fs, true, opts.Pool)
	return fs
}

// Name returns the configured name.
func (fs *FileSystem) Name() string { return fs.opts.Name }

// Backend returns the backend.
func (fs *FileSystem) Backend() Backend { return fs.backend }

// PathParser returns the path syntax of the backend.
func (fs *FileSystem) PathParser() PathParser { return fs.parser }

// RateLimit returns the configured bandwidth limit.
func (fs *FileSystem) RateLimit() RateLimitOptions { return fs.opts.RateLimit }

// IsReadOnly reports whether the filesystem rejects mutations.
func (fs *FileSystem) IsReadOnly() bool { return fs.opts.ReadOnly }

// MicroOperationSize returns the chunk size used by FileObjects.
func (fs *FileSystem) MicroOperationSize() int { return fs.opts.MicroOperationSize }

// CheckWriteable fails with ErrReadOnly on a read-only filesystem.
func (fs *FileSystem) CheckWriteable() error {
	if fs.opts.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

func (fs *FileSystem) checkOpen(op, path string) error {
	if fs.closed.Load() {
		return NewError(op, path, ErrClosed)
	}
	return nil
}

func (fs *FileSystem) checkMutation(op, path string) error {
	if err := fs.checkOpen(op, path); err != nil {
		return err
	}
	if err := fs.CheckWriteable(); err != nil {
		return NewError(op, path, err)
	}
	return nil
}

// ============================================================================
// Path normalization
// ============================================================================

// NormalizePath returns the canonical form of path, correcting the case of
// each element when case correction is enabled.
func (fs *FileSystem) NormalizePath(ctx context.Context, path string) (string, error) {
	normalized, err := fs.backend.NormalizePathImpl(ctx, path)
	if err != nil {
		return "", NewError("normalize", path, err)
	}
	if !fs.opts.CaseCorrection {
		return normalized, nil
	}

	if cached, ok := fs.caseCache.Load(normalized); ok {
		return cached.(string), nil
	}

	v, err, _ := fs.caseGroup.Do(normalized, func() (any, error) {
		corrected, complete, err := fs.correctCase(ctx, normalized)
		if err != nil {
			return "", err
		}
		// Paths that do not fully exist yet are not cached: the missing
		// elements may later be created with a different case.
		if complete {
			fs.caseCache.Store(normalized, corrected)
			logger.Debug("Case correction cached %s -> %s", normalized, corrected)
		}
		return corrected, nil
	})
	if err != nil {
		return "", NewError("normalize", path, err)
	}
	return v.(string), nil
}

func (fs *FileSystem) correctCase(ctx context.Context, path string) (string, bool, error) {
	root, elems := fs.parser.Split(path)
	current := root

	for i, elem := range elems {
		next := fs.parser.Join(current, elem)
		if ok, _ := fs.backend.IsDirectoryExistsImpl(ctx, next); ok {
			current = next
			continue
		}
		if ok, _ := fs.backend.IsFileExistsImpl(ctx, next); ok {
			current = next
			continue
		}

		entries, err := fs.backend.EnumDirectoryImpl(ctx, current)
		if err != nil {
			if IsNotFound(err) {
				return fs.parser.Join(append([]string{current}, elems[i:]...)...), false, nil
			}
			return "", false, err
		}
		match := ""
		for _, e := range entries {
			if !e.IsCurrentDirectory() && strings.EqualFold(e.Name, elem) {
				match = e.Name
				break
			}
		}
		if match == "" {
			return fs.parser.Join(append([]string{current}, elems[i:]...)...), false, nil
		}
		current = fs.parser.Join(current, match)
	}
	return current, true, nil
}

// FlushCaseCorrectionCache forgets every cached case correction. Moves and
// deletes performed through this FileSystem flush it automatically; changes
// made behind its back require an explicit flush.
func (fs *FileSystem) FlushCaseCorrectionCache() {
	fs.caseCache.Clear()
}

func (fs *FileSystem) afterNamespaceChange() {
	if fs.opts.CaseCorrection {
		fs.FlushCaseCorrectionCache()
	}
}

// ============================================================================
// Files
// ============================================================================

// OpenFile opens a file according to params and returns a tracked FileObject.
func (fs *FileSystem) OpenFile(ctx context.Context, params FileParameters) (*FileObject, error) {
	params.Normalize()
	if err := fs.checkOpen("open", params.Path); err != nil {
		return nil, err
	}
	if params.IsMutating() {
		if err := fs.checkMutation("open", params.Path); err != nil {
			return nil, err
		}
	}

	path, err := fs.NormalizePath(ctx, params.Path)
	if err != nil {
		return nil, err
	}
	params.Path = path

	if params.Flags.Has(FlagAutoCreateDirectory) && params.Mode.CreatesFile() {
		if err := fs.CreateDirectory(ctx, fs.parser.Dir(path), true); err != nil {
			return nil, err
		}
	}

	impl, err := fs.backend.CreateFileImpl(ctx, params)
	if err != nil {
		return nil, NewError("open", path, err)
	}

	size, err := impl.GetFileSizeImpl(ctx)
	if err == nil && size > 0 && (params.Mode == ModeCreate || params.Mode == ModeTruncate) {
		if err = impl.SetFileSizeImpl(ctx, 0); err == nil {
			size = 0
		}
	}
	if err != nil {
		_ = impl.CloseImpl(ctx)
		return nil, NewError("open", path, err)
	}

	f := newFileObject(fs, params, impl, size)
	fs.track(f)
	logger.Debug("Opened handle %s for %s", f.id, params)
	f.notify(EventOpen, f.position, size, nil)
	return f, nil
}

// Create creates or truncates a file for writing.
func (fs *FileSystem) Create(ctx context.Context, path string, flags FileFlags) (*FileObject, error) {
	return fs.OpenFile(ctx, NewFileParameters(path, ModeCreate, AccessReadWrite, ShareRead, flags))
}

// CreateNew creates a file that must not exist yet.
func (fs *FileSystem) CreateNew(ctx context.Context, path string, flags FileFlags) (*FileObject, error) {
	return fs.OpenFile(ctx, NewFileParameters(path, ModeCreateNew, AccessReadWrite, ShareRead, flags))
}

// Open opens an existing file for reading.
func (fs *FileSystem) Open(ctx context.Context, path string, flags FileFlags) (*FileObject, error) {
	return fs.OpenFile(ctx, NewFileParameters(path, ModeOpen, AccessRead, ShareRead|ShareWrite, flags))
}

// OpenForWrite opens an existing file for reading and writing.
func (fs *FileSystem) OpenForWrite(ctx context.Context, path string, flags FileFlags) (*FileObject, error) {
	return fs.OpenFile(ctx, NewFileParameters(path, ModeOpen, AccessReadWrite, ShareRead, flags))
}

// OpenOrCreate opens a file for writing, creating it when missing.
func (fs *FileSystem) OpenOrCreate(ctx context.Context, path string, flags FileFlags) (*FileObject, error) {
	return fs.OpenFile(ctx, NewFileParameters(path, ModeOpenOrCreate, AccessReadWrite, ShareRead, flags))
}

// Append opens a file with the cursor at its end, creating it when missing.
func (fs *FileSystem) Append(ctx context.Context, path string, flags FileFlags) (*FileObject, error) {
	return fs.OpenFile(ctx, NewFileParameters(path, ModeAppend, AccessReadWrite, ShareRead, flags))
}

// DeleteFile removes a file. Pooled handles for it are invalidated first.
func (fs *FileSystem) DeleteFile(ctx context.Context, path string) error {
	if err := fs.checkMutation("delete", path); err != nil {
		return err
	}
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return err
	}
	return fs.deleteFile(ctx, normalized)
}

func (fs *FileSystem) deleteFile(ctx context.Context, path string) error {
	fs.invalidate(ctx, func(key string) bool { return key == path })
	if err := fs.backend.DeleteFileImpl(ctx, path); err != nil {
		return NewError("delete", path, err)
	}
	fs.afterNamespaceChange()
	return nil
}

// deleteOnClose runs the best-effort side effects of FlagDeleteFileOnClose.
func (fs *FileSystem) deleteOnClose(ctx context.Context, path string, parent bool) {
	ctx = context.WithoutCancel(ctx)
	if err := fs.deleteFile(ctx, path); err != nil && !IsNotFound(err) {
		logger.Warn("Delete on close of %s failed: %v", path, err)
		return
	}
	if !parent {
		return
	}

	dir := fs.parser.Dir(path)
	if fs.parser.IsRoot(dir) {
		return
	}
	entries, err := fs.backend.EnumDirectoryImpl(ctx, dir)
	if err != nil {
		logger.Warn("Parent cleanup of %s failed: %v", dir, err)
		return
	}
	if len(entries) > 1 {
		return
	}
	if err := fs.backend.DeleteDirectoryImpl(ctx, dir); err != nil {
		logger.Warn("Parent cleanup of %s failed: %v", dir, err)
		return
	}
	fs.afterNamespaceChange()
}

// ReadDataFromFile returns the whole content of a file.
func (fs *FileSystem) ReadDataFromFile(ctx context.Context, path string) (data []byte, err error) {
	f, err := fs.Open(ctx, path, FlagNoPartialRead)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil {
			err = cerr
		}
	}()

	size, err := f.GetFileSize(ctx, true)
	if err != nil {
		return nil, err
	}
	data = make([]byte, size)
	if _, err := f.ReadRandom(ctx, 0, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteDataToFile replaces the content of a file with data, creating it
// (and, with FlagAutoCreateDirectory, its parents) when missing.
func (fs *FileSystem) WriteDataToFile(ctx context.Context, path string, data []byte, flags FileFlags) (err error) {
	f, err := fs.Create(ctx, path, flags)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil {
			err = cerr
		}
	}()
	return f.WriteRandom(ctx, 0, data)
}

// ============================================================================
// Directories
// ============================================================================

// CreateDirectory creates a directory. With recursive every missing parent is
// created too, otherwise the parent must exist.
func (fs *FileSystem) CreateDirectory(ctx context.Context, path string, recursive bool) error {
	if err := fs.checkMutation("mkdir", path); err != nil {
		return err
	}
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return err
	}

	if !recursive {
		if err := fs.backend.CreateDirectoryImpl(ctx, normalized); err != nil {
			return NewError("mkdir", normalized, err)
		}
		fs.afterNamespaceChange()
		return nil
	}

	root, elems := fs.parser.Split(normalized)
	current := root
	for _, elem := range elems {
		current = fs.parser.Join(current, elem)
		exists, err := fs.backend.IsDirectoryExistsImpl(ctx, current)
		if err != nil {
			return NewError("mkdir", current, err)
		}
		if exists {
			continue
		}
		if err := fs.backend.CreateDirectoryImpl(ctx, current); err != nil {
			return NewError("mkdir", current, err)
		}
	}
	fs.afterNamespaceChange()
	return nil
}

// DeleteDirectory removes a directory. Without recursive it must be empty.
// With recursive all files below it are deleted first, then the now empty
// directories bottom-up.
func (fs *FileSystem) DeleteDirectory(ctx context.Context, path string, recursive bool) error {
	if err := fs.checkMutation("rmdir", path); err != nil {
		return err
	}
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return err
	}
	if fs.parser.IsRoot(normalized) {
		return NewError("rmdir", normalized, fmt.Errorf("cannot delete root: %w", ErrInvalidArgument))
	}

	if recursive {
		entries, err := fs.EnumDirectory(ctx, normalized, true, EnumDefault)
		if err != nil {
			return err
		}
		entries = entries[1:]

		for i := range entries {
			if !entries[i].IsDirectory() {
				if err := fs.deleteFile(ctx, entries[i].FullPath); err != nil {
					return err
				}
			}
		}
		// Pre-order listing reversed puts children before their parents.
		for i := len(entries) - 1; i >= 0; i-- {
			if entries[i].IsDirectory() {
				if err := fs.backend.DeleteDirectoryImpl(ctx, entries[i].FullPath); err != nil {
					return NewError("rmdir", entries[i].FullPath, err)
				}
			}
		}
	}

	fs.invalidate(ctx, func(key string) bool { return IsSubPath(fs.parser, normalized, key) })
	if err := fs.backend.DeleteDirectoryImpl(ctx, normalized); err != nil {
		return NewError("rmdir", normalized, err)
	}
	fs.afterNamespaceChange()
	return nil
}

// EnumDirectory lists a directory.
//
// The first entry is always "." describing the directory itself, followed by
// ".." when EnumAddParentDirectory is set. With recursive, each subdirectory
// entry is immediately followed by its own entries (depth first, without
// their "." entries).
func (fs *FileSystem) EnumDirectory(ctx context.Context, path string, recursive bool, flags EnumFlags) ([]FileSystemEntity, error) {
	if err := fs.checkOpen("enum", path); err != nil {
		return nil, err
	}
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return nil, err
	}

	entries, err := fs.enumLevel(ctx, normalized)
	if err != nil {
		return nil, err
	}

	result := make([]FileSystemEntity, 0, len(entries)+1)
	result = append(result, entries[0])

	if flags&EnumAddParentDirectory != 0 {
		parent, err := fs.parentEntity(ctx, normalized)
		if err != nil {
			return nil, err
		}
		result = append(result, parent)
	}

	if !recursive {
		return append(result, entries[1:]...), nil
	}
	return fs.appendRecursive(ctx, result, entries[1:])
}

func (fs *FileSystem) appendRecursive(ctx context.Context, result, entries []FileSystemEntity) ([]FileSystemEntity, error) {
	for _, e := range entries {
		result = append(result, e)
		if !e.IsDirectory() || e.IsSymbolicLink() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		children, err := fs.enumLevel(ctx, e.FullPath)
		if err != nil {
			return nil, err
		}
		if result, err = fs.appendRecursive(ctx, result, children[1:]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// enumLevel lists one directory and checks the backend contract.
func (fs *FileSystem) enumLevel(ctx context.Context, path string) ([]FileSystemEntity, error) {
	entries, err := fs.backend.EnumDirectoryImpl(ctx, path)
	if err != nil {
		return nil, NewError("enum", path, err)
	}
	if len(entries) == 0 || !entries[0].IsCurrentDirectory() {
		return nil, NewError("enum", path, fmt.Errorf("first entry is not %q: %w", CurrentDirectoryName, ErrInvalidBackendState))
	}

	seen := make(map[string]struct{}, len(entries))
	for i := 1; i < len(entries); i++ {
		name := entries[i].Name
		if name == CurrentDirectoryName || name == ParentDirectoryName {
			return nil, NewError("enum", path, fmt.Errorf("backend returned %q: %w", name, ErrInvalidBackendState))
		}
		if _, dup := seen[name]; dup {
			return nil, NewError("enum", path, fmt.Errorf("duplicate entry %q: %w", name, ErrInvalidBackendState))
		}
		seen[name] = struct{}{}
	}
	return entries, nil
}

func (fs *FileSystem) parentEntity(ctx context.Context, path string) (FileSystemEntity, error) {
	parent := path
	if !fs.parser.IsRoot(path) {
		parent = fs.parser.Dir(path)
	}
	md, err := fs.backend.GetDirectoryMetadataImpl(ctx, parent, GetAttributes|GetTimes)
	if err != nil {
		return FileSystemEntity{}, NewError("enum", parent, err)
	}
	md.IsDirectory = true
	return EntityFromMetadata(ParentDirectoryName, parent, md), nil
}

// ============================================================================
// Metadata
// ============================================================================

// GetFileMetadata returns the metadata of a file.
func (fs *FileSystem) GetFileMetadata(ctx context.Context, path string, flags FileMetadataGetFlags) (*FileMetadata, error) {
	if err := fs.checkOpen("stat", path); err != nil {
		return nil, err
	}
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return nil, err
	}
	md, err := fs.backend.GetFileMetadataImpl(ctx, normalized, flags)
	if err != nil {
		return nil, NewError("stat", normalized, err)
	}
	return md, nil
}

// SetFileMetadata applies the facets of md selected by mode to a file.
func (fs *FileSystem) SetFileMetadata(ctx context.Context, path string, md *FileMetadata, mode FileMetadataCopyMode) error {
	if err := fs.checkMutation("setattr", path); err != nil {
		return err
	}
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return err
	}
	if err := fs.backend.SetFileMetadataImpl(ctx, normalized, md, mode); err != nil {
		return NewError("setattr", normalized, err)
	}
	return nil
}

// GetDirectoryMetadata returns the metadata of a directory.
func (fs *FileSystem) GetDirectoryMetadata(ctx context.Context, path string, flags FileMetadataGetFlags) (*FileMetadata, error) {
	if err := fs.checkOpen("stat", path); err != nil {
		return nil, err
	}
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return nil, err
	}
	md, err := fs.backend.GetDirectoryMetadataImpl(ctx, normalized, flags)
	if err != nil {
		return nil, NewError("stat", normalized, err)
	}
	return md, nil
}

// SetDirectoryMetadata applies the facets of md selected by mode to a directory.
func (fs *FileSystem) SetDirectoryMetadata(ctx context.Context, path string, md *FileMetadata, mode FileMetadataCopyMode) error {
	if err := fs.checkMutation("setattr", path); err != nil {
		return err
	}
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return err
	}
	if err := fs.backend.SetDirectoryMetadataImpl(ctx, normalized, md, mode); err != nil {
		return NewError("setattr", normalized, err)
	}
	return nil
}

// CopyMetadata copies the facets selected by mode from src to dst. Both must
// be of the same kind (file or directory).
func (fs *FileSystem) CopyMetadata(ctx context.Context, src, dst string, mode FileMetadataCopyMode) error {
	isDir := fs.IsDirectoryExists(ctx, src)

	var md *FileMetadata
	var err error
	if isDir {
		md, err = fs.GetDirectoryMetadata(ctx, src, mode.GetFlags())
	} else {
		md, err = fs.GetFileMetadata(ctx, src, mode.GetFlags())
	}
	if err != nil {
		return err
	}

	cloned := md.Clone(mode)
	if isDir {
		return fs.SetDirectoryMetadata(ctx, dst, cloned, mode)
	}
	return fs.SetFileMetadata(ctx, dst, cloned, mode)
}

// ============================================================================
// Namespace
// ============================================================================

// MoveFile renames a file.
func (fs *FileSystem) MoveFile(ctx context.Context, src, dst string, overwrite bool) error {
	if err := fs.checkMutation("move", src); err != nil {
		return err
	}
	from, err := fs.NormalizePath(ctx, src)
	if err != nil {
		return err
	}
	to, err := fs.NormalizePath(ctx, dst)
	if err != nil {
		return err
	}

	fs.invalidate(ctx, func(key string) bool { return key == from || key == to })
	if err := fs.backend.MoveFileImpl(ctx, from, to, overwrite); err != nil {
		return NewError("move", from, err)
	}
	fs.afterNamespaceChange()
	return nil
}

// MoveDirectory renames a directory with everything below it.
func (fs *FileSystem) MoveDirectory(ctx context.Context, src, dst string) error {
	if err := fs.checkMutation("move", src); err != nil {
		return err
	}
	from, err := fs.NormalizePath(ctx, src)
	if err != nil {
		return err
	}
	to, err := fs.NormalizePath(ctx, dst)
	if err != nil {
		return err
	}
	if IsSubPath(fs.parser, from, to) {
		return NewError("move", from, fmt.Errorf("destination %s is inside source: %w", to, ErrInvalidArgument))
	}

	fs.invalidate(ctx, func(key string) bool {
		return IsSubPath(fs.parser, from, key) || IsSubPath(fs.parser, to, key)
	})
	if err := fs.backend.MoveDirectoryImpl(ctx, from, to); err != nil {
		return NewError("move", from, err)
	}
	fs.afterNamespaceChange()
	return nil
}

// IsFileExists reports whether path is an existing file. Errors are treated
// as "does not exist".
func (fs *FileSystem) IsFileExists(ctx context.Context, path string) bool {
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		logger.Debug("Existence check of %s failed: %v", path, err)
		return false
	}
	ok, err := fs.backend.IsFileExistsImpl(ctx, normalized)
	if err != nil {
		logger.Debug("Existence check of %s failed: %v", normalized, err)
		return false
	}
	return ok
}

// IsDirectoryExists reports whether path is an existing directory. Errors are
// treated as "does not exist".
func (fs *FileSystem) IsDirectoryExists(ctx context.Context, path string) bool {
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		logger.Debug("Existence check of %s failed: %v", path, err)
		return false
	}
	ok, err := fs.backend.IsDirectoryExistsImpl(ctx, normalized)
	if err != nil {
		logger.Debug("Existence check of %s failed: %v", normalized, err)
		return false
	}
	return ok
}

// ============================================================================
// Pools and handle tracking
// ============================================================================

// GetRandomAccessHandle borrows a pooled handle for path. Write handles create
// the file (and its parent directories) when missing. The handle must be
// released with Release.
func (fs *FileSystem) GetRandomAccessHandle(ctx context.Context, path string, write bool) (*PooledHandle, error) {
	return fs.GetRandomAccessHandleWithFlags(ctx, path, write, FlagNone)
}

// GetRandomAccessHandleWithFlags is GetRandomAccessHandle with extra open
// flags for the pooled file. Only PooledFlags are honored.
func (fs *FileSystem) GetRandomAccessHandleWithFlags(ctx context.Context, path string, write bool, flags FileFlags) (*PooledHandle, error) {
	if err := fs.checkOpen("pool", path); err != nil {
		return nil, err
	}
	if write {
		if err := fs.checkMutation("pool", path); err != nil {
			return nil, err
		}
	}
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return nil, err
	}
	if write {
		return fs.writePool.Get(ctx, normalized, flags)
	}
	return fs.readPool.Get(ctx, normalized, flags)
}

func (fs *FileSystem) openPooled(ctx context.Context, path string, write bool, extra FileFlags) (*FileObject, error) {
	flags := FlagRandomAccessOnly | FlagNoCheckFileSize | extra&PooledFlags
	if write {
		return fs.OpenFile(ctx, NewFileParameters(path, ModeOpenOrCreate, AccessReadWrite, ShareRead|ShareWrite, flags|FlagAutoCreateDirectory))
	}
	return fs.OpenFile(ctx, NewFileParameters(path, ModeOpen, AccessRead, ShareRead|ShareWrite, flags))
}

// InvalidatePooledHandles detaches pooled handles for path from both pools.
// Busy handles stay usable by their current borrowers and are closed on
// release.
func (fs *FileSystem) InvalidatePooledHandles(ctx context.Context, path string) error {
	normalized, err := fs.NormalizePath(ctx, path)
	if err != nil {
		return err
	}
	return fs.invalidate(ctx, func(key string) bool { return key == normalized })
}

func (fs *FileSystem) invalidate(ctx context.Context, match func(string) bool) error {
	return errors.Join(
		fs.readPool.InvalidateFunc(ctx, match),
		fs.writePool.InvalidateFunc(ctx, match),
	)
}

// Pools returns the read and write handle pools.
func (fs *FileSystem) Pools() (read, write *HandlePool) {
	return fs.readPool, fs.writePool
}

func (fs *FileSystem) reportPool(name string, n int) {
	if pl, ok := fs.opts.Listener.(PoolListener); ok {
		pl.OnPooledHandles(name, n)
	}
}

func (fs *FileSystem) track(f *FileObject) {
	fs.mu.Lock()
	fs.handles[f.id] = f
	n := len(fs.handles)
	fs.mu.Unlock()

	if pl, ok := fs.opts.Listener.(PoolListener); ok {
		pl.OnOpenHandles(n)
	}
}

func (fs *FileSystem) untrack(f *FileObject) {
	fs.mu.Lock()
	delete(fs.handles, f.id)
	n := len(fs.handles)
	fs.mu.Unlock()

	if pl, ok := fs.opts.Listener.(PoolListener); ok {
		pl.OnOpenHandles(n)
	}
}

// OpenHandles returns the FileObjects currently open on this filesystem,
// pooled ones included.
func (fs *FileSystem) OpenHandles() []*FileObject {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]*FileObject, 0, len(fs.handles))
	for _, f := range fs.handles {
		out = append(out, f)
	}
	return out
}

// Close shuts the filesystem down: pools are drained, every handle still
// open is force-closed and the backend is released. Further calls fail with
// ErrClosed. Closing twice is a no-op.
func (fs *FileSystem) Close(ctx context.Context) error {
	if !fs.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	errs = append(errs, fs.readPool.Close(ctx), fs.writePool.Close(ctx))

	leftovers := fs.OpenHandles()
	if len(leftovers) > 0 {
		logger.Warn("Force closing %d open handles on %s", len(leftovers), fs.opts.Name)
	}
	for _, f := range leftovers {
		errs = append(errs, f.Close(ctx))
	}

	errs = append(errs, fs.backend.CloseImpl(ctx))
	return errors.Join(errs...)
}
