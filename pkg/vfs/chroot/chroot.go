// Package chroot confines a FileSystem to one directory of another.
//
// Callers address the sandbox with virtual slash paths rooted at "/", which
// map to paths below Root on the underlying FileSystem. Paths are cleaned
// before mapping, so ".." never climbs above the sandbox root, and listing
// rows are rewritten back to virtual paths.
package chroot

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Backend is the vfs.Backend of a chroot. It owns the underlying FileSystem
// and closes it on CloseImpl.
type Backend struct {
	under  *vfs.FileSystem
	root   string
	uelems []string
	parser vfs.SlashPathParser
}

var _ vfs.Backend = (*Backend)(nil)

// New confines under to root, which must be an existing directory.
func New(ctx context.Context, under *vfs.FileSystem, root string) (*Backend, error) {
	normalized, err := under.NormalizePath(ctx, root)
	if err != nil {
		return nil, err
	}
	if !under.IsDirectoryExists(ctx, normalized) {
		return nil, vfs.NewError("chroot", root, fmt.Errorf("root is not a directory: %w", vfs.ErrNotFound))
	}
	_, uelems := under.PathParser().Split(normalized)
	return &Backend{
		under:  under,
		root:   normalized,
		uelems: uelems,
		parser: vfs.SlashPathParser{CaseInsensitive: !under.PathParser().CaseSensitive()},
	}, nil
}

// NewFileSystem confines under to root.
func NewFileSystem(ctx context.Context, under *vfs.FileSystem, root string, opts vfs.Options) (*vfs.FileSystem, error) {
	b, err := New(ctx, under, root)
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "chroot"
	}
	return vfs.New(b, opts), nil
}

// Root returns the normalized sandbox root on the underlying FileSystem.
func (b *Backend) Root() string { return b.root }

// Underlying returns the confined FileSystem.
func (b *Backend) Underlying() *vfs.FileSystem { return b.under }

func (b *Backend) PathParser() vfs.PathParser { return b.parser }

func (b *Backend) NormalizePathImpl(_ context.Context, path string) (string, error) {
	return vfs.CleanSlashPath(path), nil
}

// physical maps a virtual path to the underlying FileSystem.
func (b *Backend) physical(virtual string) string {
	_, elems := b.parser.Split(virtual)
	if len(elems) == 0 {
		return b.root
	}
	return b.under.PathParser().Join(append([]string{b.root}, elems...)...)
}

// Virtual maps an underlying path back into the sandbox. It fails for paths
// outside of Root.
func (b *Backend) Virtual(physical string) (string, error) {
	parser := b.under.PathParser()
	if !vfs.IsSubPath(parser, b.root, physical) {
		return "", fmt.Errorf("%s is outside of %s: %w", physical, b.root, vfs.ErrInvalidArgument)
	}
	_, elems := parser.Split(physical)
	return b.parser.Join(append([]string{"/"}, elems[len(b.uelems):]...)...), nil
}

// sandboxErrors are reported without the detail of the underlying error, which
// usually names physical paths.
var sandboxErrors = []error{
	vfs.ErrNotFound,
	vfs.ErrAlreadyExists,
	vfs.ErrNotEmpty,
	vfs.ErrIsDirectory,
	vfs.ErrNotDirectory,
	vfs.ErrAccessDenied,
	vfs.ErrBusy,
	vfs.ErrReadOnly,
	vfs.ErrInvalidArgument,
	vfs.ErrNotSupported,
}

// hide strips physical paths from err so that the outer FileSystem reports
// the virtual path only.
func hide(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range sandboxErrors {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	var ve *vfs.Error
	if errors.As(err, &ve) {
		return ve.Err
	}
	return err
}

// ============================================================================
// Files
// ============================================================================

func (b *Backend) CreateFileImpl(ctx context.Context, params vfs.FileParameters) (vfs.FileImpl, error) {
	f, err := b.under.OpenFile(ctx, params.NestedParams(b.physical(params.Path)))
	if err != nil {
		return nil, hide(err)
	}
	return &vfs.NestedFile{File: f}, nil
}

func (b *Backend) DeleteFileImpl(ctx context.Context, path string) error {
	return hide(b.under.DeleteFile(ctx, b.physical(path)))
}

// ============================================================================
// Directories
// ============================================================================

func (b *Backend) CreateDirectoryImpl(ctx context.Context, path string) error {
	return hide(b.under.CreateDirectory(ctx, b.physical(path), false))
}

func (b *Backend) DeleteDirectoryImpl(ctx context.Context, path string) error {
	if b.parser.IsRoot(path) {
		return fmt.Errorf("cannot delete sandbox root: %w", vfs.ErrInvalidArgument)
	}
	return hide(b.under.DeleteDirectory(ctx, b.physical(path), false))
}

func (b *Backend) EnumDirectoryImpl(ctx context.Context, path string) ([]vfs.FileSystemEntity, error) {
	entries, err := b.under.EnumDirectory(ctx, b.physical(path), false, vfs.EnumDefault)
	if err != nil {
		return nil, hide(err)
	}
	virtual := vfs.CleanSlashPath(path)
	entries[0].FullPath = virtual
	for i := 1; i < len(entries); i++ {
		entries[i].FullPath = b.parser.Join(virtual, entries[i].Name)
	}
	return entries, nil
}

// ============================================================================
// Metadata
// ============================================================================

func (b *Backend) GetFileMetadataImpl(ctx context.Context, path string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	md, err := b.under.GetFileMetadata(ctx, b.physical(path), flags)
	return md, hide(err)
}

func (b *Backend) SetFileMetadataImpl(ctx context.Context, path string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	return hide(b.under.SetFileMetadata(ctx, b.physical(path), md, mode))
}

func (b *Backend) GetDirectoryMetadataImpl(ctx context.Context, path string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	md, err := b.under.GetDirectoryMetadata(ctx, b.physical(path), flags)
	return md, hide(err)
}

func (b *Backend) SetDirectoryMetadataImpl(ctx context.Context, path string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	return hide(b.under.SetDirectoryMetadata(ctx, b.physical(path), md, mode))
}

// ============================================================================
// Namespace
// ============================================================================

func (b *Backend) MoveFileImpl(ctx context.Context, src, dst string, overwrite bool) error {
	return hide(b.under.MoveFile(ctx, b.physical(src), b.physical(dst), overwrite))
}

func (b *Backend) MoveDirectoryImpl(ctx context.Context, src, dst string) error {
	return hide(b.under.MoveDirectory(ctx, b.physical(src), b.physical(dst)))
}

func (b *Backend) IsFileExistsImpl(ctx context.Context, path string) (bool, error) {
	return b.under.IsFileExists(ctx, b.physical(path)), nil
}

func (b *Backend) IsDirectoryExistsImpl(ctx context.Context, path string) (bool, error) {
	return b.under.IsDirectoryExists(ctx, b.physical(path)), nil
}

// CloseImpl closes the underlying FileSystem.
func (b *Backend) CloseImpl(ctx context.Context) error {
	return b.under.Close(ctx)
}
