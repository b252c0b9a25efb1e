// Package local implements a vfs.Backend over the host operating system's
// filesystem.
//
// Paths are native host paths, normalized to absolute clean form. Open files
// are plain *os.File values used with ReadAt/WriteAt, so the FileObject
// cursor is the only cursor in play.
//
// Sparse files:
// Handles opened with vfs.FlagSparseFile skip long zero runs when writing and
// leave holes when extended. Other handles write explicit zeros, so their
// physical size matches the logical size.
//
// Metadata:
// Attributes are derived from the mode bits (read-only, directory, symlink)
// and the name (leading dot means hidden). Times come from statx on Linux.
// Owner and group are reported as numeric uid/gid strings. ACLs, audit
// descriptors, alternate streams and author information are not supported
// and always come back empty.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Config holds the options of the local backend.
type Config struct {
	// FilePermissions is the mode of newly created files. Default: 0644
	FilePermissions uint32 `mapstructure:"file_permissions" json:"file_permissions,omitempty"`

	// DirectoryPermissions is the mode of newly created directories.
	// Default: 0755
	DirectoryPermissions uint32 `mapstructure:"directory_permissions" json:"directory_permissions,omitempty"`
}

// Backend is the host filesystem backend.
type Backend struct {
	fileMode os.FileMode
	dirMode  os.FileMode
	parser   vfs.HostPathParser
}

var _ vfs.Backend = (*Backend)(nil)

// New creates a local backend. Each call returns an independent instance.
func New(cfg Config) *Backend {
	b := &Backend{fileMode: 0o644, dirMode: 0o755}
	if cfg.FilePermissions != 0 {
		b.fileMode = os.FileMode(cfg.FilePermissions).Perm()
	}
	if cfg.DirectoryPermissions != 0 {
		b.dirMode = os.FileMode(cfg.DirectoryPermissions).Perm()
	}
	return b
}

// NewFileSystem is a shortcut for vfs.New(New(cfg), opts).
func NewFileSystem(cfg Config, opts vfs.Options) *vfs.FileSystem {
	if opts.Name == "" {
		opts.Name = "local"
	}
	return vfs.New(New(cfg), opts)
}

func (b *Backend) PathParser() vfs.PathParser { return b.parser }

// NormalizePathImpl returns the absolute, cleaned form of p.
func (b *Backend) NormalizePathImpl(_ context.Context, p string) (string, error) {
	if p == "" {
		return "", vfs.ErrInvalidArgument
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// ============================================================================
// Files
// ============================================================================

// CreateFileImpl opens or creates the file described by params.
//
// Parameters:
//   - ctx: Context for cancellation
//   - params: Normalized parameters; the mode decides whether a missing file
//     is created and whether an existing one is an error
//
// Returns:
//   - vfs.FileImpl: The open file
//   - error: ErrNotFound, ErrAlreadyExists, ErrIsDirectory or an I/O error
func (b *Backend) CreateFileImpl(ctx context.Context, params vfs.FileParameters) (vfs.FileImpl, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 1: Reject directories
	// ========================================================================

	if st, err := os.Stat(params.Path); err == nil && st.IsDir() {
		return nil, vfs.ErrIsDirectory
	}

	// ========================================================================
	// Step 2: Translate mode and access into open flags
	// ========================================================================

	flag := os.O_RDONLY
	if params.CanWrite() {
		flag = os.O_RDWR
	}
	switch params.Mode {
	case vfs.ModeCreateNew:
		flag |= os.O_CREATE | os.O_EXCL
	case vfs.ModeCreate, vfs.ModeOpenOrCreate, vfs.ModeAppend:
		flag |= os.O_CREATE
	}

	// ========================================================================
	// Step 3: Open
	// ========================================================================

	f, err := os.OpenFile(params.Path, flag, b.fileMode)
	if err != nil {
		return nil, mapError(err)
	}
	if params.Flags.Has(vfs.FlagOnCreateSetCompressionFlag) {
		logger.Debug("Compression attribute not supported on host files, ignoring for %s", params.Path)
	}
	return &fileImpl{f: f, sparse: params.Flags.Has(vfs.FlagSparseFile)}, nil
}

func (b *Backend) DeleteFileImpl(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := os.Lstat(p)
	if err != nil {
		return mapError(err)
	}
	if st.IsDir() {
		return vfs.ErrIsDirectory
	}
	return mapError(os.Remove(p))
}

// ============================================================================
// Directories
// ============================================================================

func (b *Backend) CreateDirectoryImpl(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Mkdir(p, b.dirMode)
	if err == nil {
		return nil
	}
	if st, serr := os.Stat(p); serr == nil {
		if st.IsDir() {
			return nil
		}
		return vfs.ErrAlreadyExists
	}
	return mapError(err)
}

func (b *Backend) DeleteDirectoryImpl(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := os.Lstat(p)
	if err != nil {
		return mapError(err)
	}
	if !st.IsDir() {
		return vfs.ErrNotDirectory
	}
	return mapError(os.Remove(p))
}

// EnumDirectoryImpl lists one directory with "." first.
func (b *Backend) EnumDirectoryImpl(ctx context.Context, p string) ([]vfs.FileSystemEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	self, err := b.entity(vfs.CurrentDirectoryName, p)
	if err != nil {
		return nil, err
	}
	if !self.IsDirectory() {
		return nil, vfs.ErrNotDirectory
	}

	dirents, err := os.ReadDir(p)
	if err != nil {
		return nil, mapError(err)
	}

	entries := make([]vfs.FileSystemEntity, 0, len(dirents)+1)
	entries = append(entries, self)
	for _, d := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := b.entity(d.Name(), filepath.Join(p, d.Name()))
		if err != nil {
			// Removed between ReadDir and Lstat.
			if vfs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (b *Backend) entity(name, p string) (vfs.FileSystemEntity, error) {
	st, err := os.Lstat(p)
	if err != nil {
		return vfs.FileSystemEntity{}, mapError(err)
	}
	extra, err := statPath(p)
	if err != nil {
		return vfs.FileSystemEntity{}, mapError(err)
	}

	e := vfs.FileSystemEntity{
		Name:           name,
		FullPath:       p,
		Size:           sizeOf(st),
		PhysicalSize:   extra.allocated,
		Attributes:     attributesOf(filepath.Base(p), st, extra),
		CreationTime:   extra.created,
		LastWriteTime:  st.ModTime(),
		LastAccessTime: extra.accessed,
	}
	if st.Mode()&os.ModeSymlink != 0 {
		if target, err := os.Readlink(p); err == nil {
			e.SymbolicLinkTarget = target
		}
	}
	return e, nil
}

// ============================================================================
// Metadata
// ============================================================================

func sizeOf(st os.FileInfo) int64 {
	if st.IsDir() {
		return 0
	}
	return st.Size()
}

func attributesOf(name string, st os.FileInfo, extra statInfo) vfs.FileAttributes {
	var a vfs.FileAttributes
	if st.IsDir() {
		a |= vfs.AttrDirectory
	}
	if st.Mode()&os.ModeSymlink != 0 {
		a |= vfs.AttrReparsePoint
	}
	if st.Mode().Perm()&0o222 == 0 {
		a |= vfs.AttrReadOnly
	}
	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		a |= vfs.AttrHidden
	}
	if st.Mode().IsRegular() && extra.allocated < st.Size() {
		a |= vfs.AttrSparseFile
	}
	if a == 0 {
		a = vfs.AttrNormal
	}
	return a
}

func (b *Backend) metadata(ctx context.Context, p string, flags vfs.FileMetadataGetFlags, dir bool) (*vfs.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := os.Stat(p)
	if err != nil {
		return nil, mapError(err)
	}
	switch {
	case dir && !st.IsDir():
		return nil, vfs.ErrNotDirectory
	case !dir && st.IsDir():
		return nil, vfs.ErrIsDirectory
	}
	extra, err := statPath(p)
	if err != nil {
		return nil, mapError(err)
	}

	md := &vfs.FileMetadata{
		IsDirectory:  st.IsDir(),
		Size:         sizeOf(st),
		PhysicalSize: extra.allocated,
	}
	if flags.Has(vfs.GetAttributes) {
		md.Attributes = vfs.AttrPtr(attributesOf(filepath.Base(p), st, extra))
	}
	if flags.Has(vfs.GetTimes) {
		md.CreationTime = vfs.TimePtr(extra.created)
		md.LastWriteTime = vfs.TimePtr(st.ModTime())
		md.LastAccessTime = vfs.TimePtr(extra.accessed)
	}
	if flags.Has(vfs.GetSecurity) && extra.hasOwner {
		md.Security = &vfs.FileSecurityMetadata{
			Owner: strconv.Itoa(extra.uid),
			Group: strconv.Itoa(extra.gid),
		}
	}
	return md, nil
}

// setMetadata applies the facets selected by mode.
//
// Read-only maps to the owner write bit. Write and access times are set
// together with os.Chtimes; a missing one keeps its current value. Creation
// time cannot be changed on the host and is ignored. Owner and group are
// applied best effort because changing them usually needs privileges.
func (b *Backend) setMetadata(ctx context.Context, p string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode, dir bool) error {
	current, err := b.metadata(ctx, p, vfs.GetAll, dir)
	if err != nil {
		return err
	}

	if mode.Has(vfs.CopyAttributes) {
		st, err := os.Stat(p)
		if err != nil {
			return mapError(err)
		}
		perm := st.Mode().Perm()
		if md.AttributesOrDefault().Has(vfs.AttrReadOnly) {
			perm &^= 0o222
		} else {
			perm |= 0o200
		}
		if perm != st.Mode().Perm() {
			if err := os.Chmod(p, perm); err != nil {
				return mapError(err)
			}
		}
	}

	if mode&(vfs.CopyLastWriteTime|vfs.CopyLastAccessTime) != 0 {
		atime, mtime := *current.LastAccessTime, *current.LastWriteTime
		if mode.Has(vfs.CopyLastAccessTime) && md.LastAccessTime != nil {
			atime = *md.LastAccessTime
		}
		if mode.Has(vfs.CopyLastWriteTime) && md.LastWriteTime != nil {
			mtime = *md.LastWriteTime
		}
		if err := os.Chtimes(p, atime, mtime); err != nil {
			return mapError(err)
		}
	}

	if mode&(vfs.CopySecurityOwner|vfs.CopySecurityGroup) != 0 && md.Security != nil {
		uid, gid := -1, -1
		if mode.Has(vfs.CopySecurityOwner) && md.Security.Owner != "" {
			if v, err := strconv.Atoi(md.Security.Owner); err == nil {
				uid = v
			}
		}
		if mode.Has(vfs.CopySecurityGroup) && md.Security.Group != "" {
			if v, err := strconv.Atoi(md.Security.Group); err == nil {
				gid = v
			}
		}
		if uid != -1 || gid != -1 {
			if err := os.Lchown(p, uid, gid); err != nil {
				logger.Debug("Ignoring chown failure on %s: %v", p, err)
			}
		}
	}
	return nil
}

func (b *Backend) GetFileMetadataImpl(ctx context.Context, p string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	return b.metadata(ctx, p, flags, false)
}

func (b *Backend) SetFileMetadataImpl(ctx context.Context, p string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	return b.setMetadata(ctx, p, md, mode, false)
}

func (b *Backend) GetDirectoryMetadataImpl(ctx context.Context, p string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	return b.metadata(ctx, p, flags, true)
}

func (b *Backend) SetDirectoryMetadataImpl(ctx context.Context, p string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	return b.setMetadata(ctx, p, md, mode, true)
}

// ============================================================================
// Namespace
// ============================================================================

func (b *Backend) MoveFileImpl(ctx context.Context, src, dst string, overwrite bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := os.Lstat(src)
	if err != nil {
		return mapError(err)
	}
	if st.IsDir() {
		return vfs.ErrIsDirectory
	}
	if dstSt, err := os.Lstat(dst); err == nil {
		if dstSt.IsDir() {
			return vfs.ErrIsDirectory
		}
		if !overwrite {
			return fmt.Errorf("%s: %w", dst, vfs.ErrAlreadyExists)
		}
	}
	return mapError(os.Rename(src, dst))
}

func (b *Backend) MoveDirectoryImpl(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := os.Lstat(src)
	if err != nil {
		return mapError(err)
	}
	if !st.IsDir() {
		return vfs.ErrNotDirectory
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%s: %w", dst, vfs.ErrAlreadyExists)
	}
	return mapError(os.Rename(src, dst))
}

func (b *Backend) exists(ctx context.Context, p string, dir bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	st, err := os.Stat(p)
	if err != nil {
		err = mapError(err)
		if vfs.IsNotFound(err) || errors.Is(err, vfs.ErrNotDirectory) {
			return false, nil
		}
		return false, err
	}
	return st.IsDir() == dir, nil
}

func (b *Backend) IsFileExistsImpl(ctx context.Context, p string) (bool, error) {
	return b.exists(ctx, p, false)
}

func (b *Backend) IsDirectoryExistsImpl(ctx context.Context, p string) (bool, error) {
	return b.exists(ctx, p, true)
}

func (b *Backend) CloseImpl(context.Context) error {
	return nil
}
