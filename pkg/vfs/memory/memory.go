package memory

import (
	"context"
	"fmt"
	"path"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Config holds the options of the in-memory backend.
type Config struct {
	// CaseInsensitive makes the path parser report case-insensitive paths,
	// which is mostly useful together with FileSystem case correction.
	CaseInsensitive bool `mapstructure:"case_insensitive" json:"case_insensitive,omitempty"`
}

// Backend is a vfs.Backend keeping the whole tree in an Arena.
type Backend struct {
	arena  *Arena
	parser vfs.SlashPathParser
}

var _ vfs.Backend = (*Backend)(nil)

// New creates an empty in-memory backend.
func New(cfg Config) *Backend {
	return &Backend{
		arena:  NewArena(),
		parser: vfs.SlashPathParser{CaseInsensitive: cfg.CaseInsensitive},
	}
}

// NewFileSystem is a shortcut for vfs.New(New(cfg), opts).
func NewFileSystem(cfg Config, opts vfs.Options) *vfs.FileSystem {
	if opts.Name == "" {
		opts.Name = "memory"
	}
	return vfs.New(New(cfg), opts)
}

// Arena returns the node arena behind the backend.
func (b *Backend) Arena() *Arena { return b.arena }

func (b *Backend) PathParser() vfs.PathParser { return b.parser }

func (b *Backend) NormalizePathImpl(_ context.Context, p string) (string, error) {
	return vfs.CleanSlashPath(p), nil
}

// parse resolves p and returns the context; the caller must Close it.
func (b *Backend) parse(p string) (*ParseContext, error) {
	return b.arena.ParsePath(p)
}

// withParent resolves the parent directory of p and calls fn with it and the
// last element of p.
func (b *Backend) withParent(p string, fn func(parent Directory, name string) error) error {
	if p == "/" {
		return fmt.Errorf("root has no parent: %w", vfs.ErrInvalidArgument)
	}
	pc, err := b.parse(path.Dir(p))
	if err != nil {
		return err
	}
	defer pc.Close()

	target := pc.Target()
	if !target.IsDirectory() {
		return fmt.Errorf("%s: %w", path.Dir(p), vfs.ErrNotDirectory)
	}
	return fn(Directory{target}, path.Base(p))
}

func (b *Backend) CreateFileImpl(_ context.Context, params vfs.FileParameters) (vfs.FileImpl, error) {
	p := params.Path
	elements := SplitPath(p)
	if len(elements) == 0 {
		return nil, vfs.ErrIsDirectory
	}

	pc, err := b.parse(p)
	switch {
	case err == nil:
		defer pc.Close()
		target := pc.Target()
		if target.IsDirectory() {
			return nil, vfs.ErrIsDirectory
		}
		if params.Mode == vfs.ModeCreateNew {
			return nil, vfs.ErrAlreadyExists
		}
		return b.openImpl(File{target})

	case IsOnlyLastMissing(err, len(elements)):
		if !params.Mode.CreatesFile() {
			return nil, err
		}
		var created File
		err := b.withParent(p, func(parent Directory, name string) error {
			f := b.arena.NewRamFile(name)
			if params.Flags.Has(vfs.FlagOnCreateSetCompressionFlag) {
				_ = f.SetMetadata(&vfs.FileMetadata{Attributes: vfs.AttrPtr(vfs.AttrNormal | vfs.AttrCompressed)}, vfs.CopyAttributes)
			}
			if err := parent.AddFile(f); err != nil {
				_ = f.Discard()
				return err
			}
			created = f
			return nil
		})
		if err != nil {
			return nil, err
		}
		return b.openImpl(created)

	default:
		return nil, err
	}
}

func (b *Backend) openImpl(f File) (vfs.FileImpl, error) {
	if err := f.AddHandleRef(); err != nil {
		return nil, err
	}
	return &fileImpl{ra: NewRandomAccessFile(f), file: f}, nil
}

func (b *Backend) DeleteFileImpl(_ context.Context, p string) error {
	return b.withParent(p, func(parent Directory, name string) error {
		return parent.RemoveFile(name)
	})
}

func (b *Backend) CreateDirectoryImpl(_ context.Context, p string) error {
	elements := SplitPath(p)
	if len(elements) == 0 {
		return nil
	}

	pc, err := b.parse(p)
	if err == nil {
		defer pc.Close()
		if !pc.Target().IsDirectory() {
			return vfs.ErrAlreadyExists
		}
		return nil
	}
	if !IsOnlyLastMissing(err, len(elements)) {
		return err
	}

	return b.withParent(p, func(parent Directory, name string) error {
		d := b.arena.NewRamDirectory(name)
		if err := parent.AddDirectory(d); err != nil {
			_ = d.Discard()
			return err
		}
		return nil
	})
}

func (b *Backend) DeleteDirectoryImpl(_ context.Context, p string) error {
	return b.withParent(p, func(parent Directory, name string) error {
		return parent.RemoveDirectory(name)
	})
}

func (b *Backend) EnumDirectoryImpl(_ context.Context, p string) ([]vfs.FileSystemEntity, error) {
	pc, err := b.parse(p)
	if err != nil {
		return nil, err
	}
	defer pc.Close()

	target := pc.Target()
	if !target.IsDirectory() {
		return nil, vfs.ErrNotDirectory
	}
	return Directory{target}.Entities(p, func(dir, name string) string { return path.Join(dir, name) })
}

func (b *Backend) metadata(p string, flags vfs.FileMetadataGetFlags, dir bool) (*vfs.FileMetadata, error) {
	pc, err := b.parse(p)
	if err != nil {
		return nil, err
	}
	defer pc.Close()

	target := pc.Target()
	switch {
	case dir && !target.IsDirectory():
		return nil, vfs.ErrNotDirectory
	case !dir && target.IsDirectory():
		return nil, vfs.ErrIsDirectory
	}
	return target.Metadata(flags)
}

func (b *Backend) setMetadata(p string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode, dir bool) error {
	pc, err := b.parse(p)
	if err != nil {
		return err
	}
	defer pc.Close()

	target := pc.Target()
	switch {
	case dir && !target.IsDirectory():
		return vfs.ErrNotDirectory
	case !dir && target.IsDirectory():
		return vfs.ErrIsDirectory
	}
	return target.SetMetadata(md, mode)
}

func (b *Backend) GetFileMetadataImpl(_ context.Context, p string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	return b.metadata(p, flags, false)
}

func (b *Backend) SetFileMetadataImpl(_ context.Context, p string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	return b.setMetadata(p, md, mode, false)
}

func (b *Backend) GetDirectoryMetadataImpl(_ context.Context, p string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	return b.metadata(p, flags, true)
}

func (b *Backend) SetDirectoryMetadataImpl(_ context.Context, p string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	return b.setMetadata(p, md, mode, true)
}

func (b *Backend) move(src, dst string, overwrite, dir bool) error {
	return b.withParent(src, func(srcParent Directory, name string) error {
		child, err := srcParent.Child(name)
		if err != nil {
			return err
		}
		if dir && !child.IsDirectory() {
			return vfs.ErrNotDirectory
		}
		if !dir && child.IsDirectory() {
			return vfs.ErrIsDirectory
		}
		return b.withParent(dst, func(dstParent Directory, newName string) error {
			return srcParent.MoveChild(name, dstParent, newName, overwrite)
		})
	})
}

func (b *Backend) MoveFileImpl(_ context.Context, src, dst string, overwrite bool) error {
	return b.move(src, dst, overwrite, false)
}

func (b *Backend) MoveDirectoryImpl(_ context.Context, src, dst string) error {
	return b.move(src, dst, false, true)
}

func (b *Backend) exists(p string, dir bool) (bool, error) {
	pc, err := b.parse(p)
	if err != nil {
		if vfs.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	defer pc.Close()
	return pc.Target().IsDirectory() == dir, nil
}

func (b *Backend) IsFileExistsImpl(_ context.Context, p string) (bool, error) {
	return b.exists(p, false)
}

func (b *Backend) IsDirectoryExistsImpl(_ context.Context, p string) (bool, error) {
	return b.exists(p, true)
}

func (b *Backend) CloseImpl(context.Context) error {
	return nil
}
