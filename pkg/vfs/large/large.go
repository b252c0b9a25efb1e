// Package large implements a FileSystem decorator that stores every file as a
// sequence of bounded shards on an underlying FileSystem.
//
// A logical file "dir/name.ext" lives in "dir/name~~~000.ext",
// "dir/name~~~001.ext", ... Every shard but the last is exactly
// MaxSinglePhysicalFileSize bytes long and shard numbers are contiguous, so the
// last shard defines the logical size. Shard I/O goes through the underlying
// FileSystem handle pools.
//
// Physical files whose names do not parse as shards stay visible as they are.
// When such a "normal" file and a sharded file share a logical name, the
// normal file wins.
package large

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Backend is the vfs.Backend of a LargeFileSystem.
//
// The backend owns the underlying FileSystem and closes it on CloseImpl.
type Backend struct {
	under  *vfs.FileSystem
	params Params
	parser vfs.PathParser
}

var _ vfs.Backend = (*Backend)(nil)

// New creates a sharding backend over under.
func New(under *vfs.FileSystem, params Params) (*Backend, error) {
	params.ApplyDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Backend{
		under:  under,
		params: params,
		parser: under.PathParser(),
	}, nil
}

// NewFileSystem wraps under into a LargeFileSystem.
func NewFileSystem(under *vfs.FileSystem, params Params, opts vfs.Options) (*vfs.FileSystem, error) {
	b, err := New(under, params)
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "large"
	}
	return vfs.New(b, opts), nil
}

// Params returns the shard layout.
func (b *Backend) Params() Params { return b.params }

// Underlying returns the FileSystem holding the shards.
func (b *Backend) Underlying() *vfs.FileSystem { return b.under }

func (b *Backend) PathParser() vfs.PathParser { return b.parser }

// NormalizePathImpl normalizes through the underlying FileSystem and rejects
// file names containing SplitStr.
func (b *Backend) NormalizePathImpl(ctx context.Context, path string) (string, error) {
	normalized, err := b.under.NormalizePath(ctx, path)
	if err != nil {
		return "", err
	}
	if b.parser.IsRoot(normalized) {
		return normalized, nil
	}
	if _, err := ParsePath(b.parser, b.params, normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

func (b *Backend) parse(path string) (ParsedPath, error) {
	return ParsePath(b.parser, b.params, path)
}

// isNormalFile reports whether path exists as an unsharded physical file.
func (b *Backend) isNormalFile(ctx context.Context, path string) bool {
	return b.under.IsFileExists(ctx, path)
}

// ============================================================================
// Shard bookkeeping
// ============================================================================

// shard is one physical piece of a logical file.
type shard struct {
	number int64
	entity vfs.FileSystemEntity
}

// listShards returns the shards of pp sorted by number. A missing directory
// yields no shards.
func (b *Backend) listShards(ctx context.Context, pp ParsedPath) ([]shard, error) {
	entries, err := b.under.EnumDirectory(ctx, pp.Dir, false, vfs.EnumDefault)
	if err != nil {
		if vfs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var shards []shard
	for _, e := range entries[1:] {
		if e.IsDirectory() {
			continue
		}
		parsed, err := ParsePhysicalPath(b.parser, b.params, e.FullPath)
		if err != nil || !pp.SameFile(parsed) {
			continue
		}
		shards = append(shards, shard{number: parsed.Number, entity: e})
	}
	slices.SortFunc(shards, func(a, b shard) int { return cmp.Compare(a.number, b.number) })
	return shards, nil
}

func (b *Backend) shardExists(ctx context.Context, pp ParsedPath, n int64) (bool, error) {
	p, err := pp.PhysicalPath(n)
	if err != nil {
		return false, err
	}
	return b.under.IsFileExists(ctx, p), nil
}

// deleteShards removes shards numbered above keep, highest first, so the
// remaining set stays contiguous if a delete fails midway.
func (b *Backend) deleteShards(ctx context.Context, pp ParsedPath, shards []shard, keep int64) error {
	for i := len(shards) - 1; i >= 0; i-- {
		n := shards[i].number
		if n <= keep {
			break
		}
		p, err := pp.PhysicalPath(n)
		if err != nil {
			return err
		}
		if err := b.under.DeleteFile(ctx, p); err != nil {
			return err
		}
		logger.Debug("Deleted shard %s", p)
	}
	return nil
}

// mergeShards folds shard listing rows into one logical entity.
func (b *Backend) mergeShards(pp ParsedPath, fullPath string, shards []shard) vfs.FileSystemEntity {
	e := vfs.FileSystemEntity{
		Name:       pp.Name(),
		FullPath:   fullPath,
		Attributes: shards[0].entity.Attributes,
	}
	for i := range shards {
		e.MergeShard(&shards[i].entity, b.params.ShardOffset(shards[i].number))
	}
	return e
}

// ============================================================================
// Files
// ============================================================================

// CreateFileImpl opens a logical file.
//
// A normal physical file at the logical path is opened directly. Otherwise
// shard 0 marks the existence of the file and is created together with it.
func (b *Backend) CreateFileImpl(ctx context.Context, params vfs.FileParameters) (vfs.FileImpl, error) {
	if b.isNormalFile(ctx, params.Path) {
		f, err := b.under.OpenFile(ctx, params.NestedParams(params.Path))
		if err != nil {
			return nil, err
		}
		return &vfs.NestedFile{File: f}, nil
	}

	if b.under.IsDirectoryExists(ctx, params.Path) {
		return nil, vfs.ErrIsDirectory
	}

	pp, err := b.parse(params.Path)
	if err != nil {
		return nil, err
	}
	exists, err := b.shardExists(ctx, pp, 0)
	if err != nil {
		return nil, err
	}

	// Step 1: apply the open mode
	switch {
	case exists && params.Mode == vfs.ModeCreateNew:
		return nil, vfs.ErrAlreadyExists
	case !exists && !params.Mode.CreatesFile():
		return nil, vfs.ErrNotFound
	case !exists:
		if !b.under.IsDirectoryExists(ctx, pp.Dir) {
			return nil, fmt.Errorf("parent %s: %w", pp.Dir, vfs.ErrNotFound)
		}
		if err := b.createShard(ctx, pp, 0); err != nil {
			return nil, err
		}
	}

	// Step 2: compute the logical size from the shard set
	fi := &fileImpl{
		b:     b,
		pp:    pp,
		path:  params.Path,
		flags: params.Flags,
		write: params.CanWrite(),
		dirty: make(map[int64]struct{}),
	}
	if _, err := fi.GetFileSizeImpl(ctx); err != nil {
		return nil, err
	}
	return fi, nil
}

func (b *Backend) createShard(ctx context.Context, pp ParsedPath, n int64) error {
	p, err := pp.PhysicalPath(n)
	if err != nil {
		return err
	}
	h, err := b.under.GetRandomAccessHandle(ctx, p, true)
	if err != nil {
		return err
	}
	logger.Debug("Created shard %s", p)
	return h.Release(ctx)
}

func (b *Backend) DeleteFileImpl(ctx context.Context, path string) error {
	if b.isNormalFile(ctx, path) {
		return b.under.DeleteFile(ctx, path)
	}
	pp, err := b.parse(path)
	if err != nil {
		return err
	}
	shards, err := b.listShards(ctx, pp)
	if err != nil {
		return err
	}
	if len(shards) == 0 {
		return vfs.ErrNotFound
	}
	return b.deleteShards(ctx, pp, shards, -1)
}

// ============================================================================
// Directories
// ============================================================================

func (b *Backend) CreateDirectoryImpl(ctx context.Context, path string) error {
	return b.under.CreateDirectory(ctx, path, false)
}

func (b *Backend) DeleteDirectoryImpl(ctx context.Context, path string) error {
	return b.under.DeleteDirectory(ctx, path, false)
}

// EnumDirectoryImpl lists a directory with the shards of every logical file
// merged into one entry placed where its first shard was listed.
func (b *Backend) EnumDirectoryImpl(ctx context.Context, path string) ([]vfs.FileSystemEntity, error) {
	entries, err := b.under.EnumDirectory(ctx, path, false, vfs.EnumDefault)
	if err != nil {
		return nil, err
	}

	type group struct {
		pp     ParsedPath
		shards []shard
	}
	normal := make(map[string]struct{}, len(entries))
	groups := make(map[string]*group)
	// Each slot is either a normal entry or the key of a group.
	type slot struct {
		entry vfs.FileSystemEntity
		group string
	}
	slots := make([]slot, 0, len(entries))

	for _, e := range entries[1:] {
		parsed, perr := ParsePhysicalPath(b.parser, b.params, e.FullPath)
		if e.IsDirectory() || perr != nil {
			normal[e.Name] = struct{}{}
			slots = append(slots, slot{entry: e})
			continue
		}
		key := parsed.Name()
		g, ok := groups[key]
		if !ok {
			g = &group{pp: parsed}
			groups[key] = g
			slots = append(slots, slot{group: key})
		}
		g.shards = append(g.shards, shard{number: parsed.Number, entity: e})
	}

	result := make([]vfs.FileSystemEntity, 0, len(slots)+1)
	result = append(result, entries[0])
	for _, s := range slots {
		if s.group == "" {
			result = append(result, s.entry)
			continue
		}
		if _, shadowed := normal[s.group]; shadowed {
			continue
		}
		g := groups[s.group]
		slices.SortFunc(g.shards, func(a, b shard) int { return cmp.Compare(a.number, b.number) })
		result = append(result, b.mergeShards(g.pp, b.parser.Join(path, s.group), g.shards))
	}
	return result, nil
}

// ============================================================================
// Metadata
// ============================================================================

// GetFileMetadataImpl reports the merged size and times of all shards. Other
// facets come from shard 0.
func (b *Backend) GetFileMetadataImpl(ctx context.Context, path string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	if b.isNormalFile(ctx, path) {
		return b.under.GetFileMetadata(ctx, path, flags)
	}
	pp, err := b.parse(path)
	if err != nil {
		return nil, err
	}
	shards, err := b.listShards(ctx, pp)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		if b.under.IsDirectoryExists(ctx, path) {
			return nil, vfs.ErrIsDirectory
		}
		return nil, vfs.ErrNotFound
	}

	first, err := pp.PhysicalPath(shards[0].number)
	if err != nil {
		return nil, err
	}
	md, err := b.under.GetFileMetadata(ctx, first, flags)
	if err != nil {
		return nil, err
	}

	merged := b.mergeShards(pp, path, shards)
	md.Size = merged.Size
	md.PhysicalSize = merged.PhysicalSize
	if flags.Has(vfs.GetTimes) {
		times := merged.Metadata()
		md.CreationTime = times.CreationTime
		md.LastWriteTime = times.LastWriteTime
		md.LastAccessTime = times.LastAccessTime
	}
	return md, nil
}

// SetFileMetadataImpl applies md to every shard.
func (b *Backend) SetFileMetadataImpl(ctx context.Context, path string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	if b.isNormalFile(ctx, path) {
		return b.under.SetFileMetadata(ctx, path, md, mode)
	}
	pp, err := b.parse(path)
	if err != nil {
		return err
	}
	shards, err := b.listShards(ctx, pp)
	if err != nil {
		return err
	}
	if len(shards) == 0 {
		return vfs.ErrNotFound
	}
	for _, s := range shards {
		p, err := pp.PhysicalPath(s.number)
		if err != nil {
			return err
		}
		if err := b.under.SetFileMetadata(ctx, p, md, mode); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) GetDirectoryMetadataImpl(ctx context.Context, path string, flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	return b.under.GetDirectoryMetadata(ctx, path, flags)
}

func (b *Backend) SetDirectoryMetadataImpl(ctx context.Context, path string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	return b.under.SetDirectoryMetadata(ctx, path, md, mode)
}

// ============================================================================
// Namespace
// ============================================================================

// MoveFileImpl renames every shard. Shards move highest first so that the
// destination only appears complete once shard 0 has moved.
func (b *Backend) MoveFileImpl(ctx context.Context, src, dst string, overwrite bool) error {
	if b.isNormalFile(ctx, src) {
		return b.under.MoveFile(ctx, src, dst, overwrite)
	}

	from, err := b.parse(src)
	if err != nil {
		return err
	}
	to, err := b.parse(dst)
	if err != nil {
		return err
	}
	shards, err := b.listShards(ctx, from)
	if err != nil {
		return err
	}
	if len(shards) == 0 {
		return vfs.ErrNotFound
	}

	exists, err := b.IsFileExistsImpl(ctx, dst)
	if err != nil {
		return err
	}
	if exists {
		if !overwrite {
			return vfs.ErrAlreadyExists
		}
		if err := b.DeleteFileImpl(ctx, dst); err != nil {
			return err
		}
	}

	for i := len(shards) - 1; i >= 0; i-- {
		n := shards[i].number
		sp, err := from.PhysicalPath(n)
		if err != nil {
			return err
		}
		dp, err := to.PhysicalPath(n)
		if err != nil {
			return err
		}
		if err := b.under.MoveFile(ctx, sp, dp, false); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) MoveDirectoryImpl(ctx context.Context, src, dst string) error {
	return b.under.MoveDirectory(ctx, src, dst)
}

// IsFileExistsImpl reports whether path is a normal file or has shard 0.
func (b *Backend) IsFileExistsImpl(ctx context.Context, path string) (bool, error) {
	if b.isNormalFile(ctx, path) {
		return true, nil
	}
	pp, err := b.parse(path)
	if err != nil {
		if errors.Is(err, vfs.ErrInvalidArgument) {
			return false, nil
		}
		return false, err
	}
	return b.shardExists(ctx, pp, 0)
}

func (b *Backend) IsDirectoryExistsImpl(ctx context.Context, path string) (bool, error) {
	return b.under.IsDirectoryExists(ctx, path), nil
}

// CloseImpl closes the underlying FileSystem.
func (b *Backend) CloseImpl(ctx context.Context) error {
	return b.under.Close(ctx)
}
