// Package badger implements a vfs.Backend persisted in a BadgerDB database.
//
// Files and directories are node records addressed by UUID; directory
// entries link a parent to its children by name, and file content is stored
// in fixed-size blocks. See keys.go for the key schema.
//
// Thread Safety:
// Mutations run under a single write lock and reads under the matching read
// lock, so badger transactions never conflict with each other. Read-only
// calls still run concurrently.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// DefaultBlockSize is the content block size of new files.
const DefaultBlockSize = 64 * 1024

// rootID identifies the root directory.
var rootID = uuid.Nil

// Config holds the options of the BadgerDB backend.
type Config struct {
	// Path is the directory holding the database files. Ignored when
	// InMemory is set.
	Path string `mapstructure:"path" json:"path,omitempty"`

	// InMemory keeps the whole database in RAM. Nothing is persisted.
	InMemory bool `mapstructure:"in_memory" json:"in_memory,omitempty"`

	// BlockSize is the content block size of newly created files.
	// Default: 64KiB
	BlockSize int64 `mapstructure:"block_size" json:"block_size,omitempty"`

	// Compression compresses content blocks with zstd.
	Compression bool `mapstructure:"compression" json:"compression,omitempty"`

	// SyncWrites makes every commit durable before it returns.
	SyncWrites bool `mapstructure:"sync_writes" json:"sync_writes,omitempty"`

	// CaseInsensitive matches names regardless of case, preserving the
	// spelling they were created with.
	CaseInsensitive bool `mapstructure:"case_insensitive" json:"case_insensitive,omitempty"`

	// BlockCacheSizeMB is badger's block cache size in MB. Default: 64
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb" json:"block_cache_size_mb,omitempty"`

	// IndexCacheSizeMB is badger's index cache size in MB. Default: 32
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb" json:"index_cache_size_mb,omitempty"`
}

// Backend is the BadgerDB backend.
type Backend struct {
	db        *badgerdb.DB
	inMemory  bool
	blockSize int64
	parser    vfs.SlashPathParser
	now       func() time.Time

	mu sync.RWMutex
}

var _ vfs.Backend = (*Backend)(nil)

// Open opens (or creates) the database described by cfg.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badgerdb.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else if cfg.Path == "" {
		return nil, fmt.Errorf("badger path is required: %w", vfs.ErrInvalidArgument)
	}
	opts = opts.WithLogger(badgerLogger{}).WithLoggingLevel(badgerdb.WARNING)
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Compression {
		opts = opts.WithCompression(options.ZSTD)
	} else {
		opts = opts.WithCompression(options.None)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20).WithIndexCacheSize(indexCacheMB << 20)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	b := &Backend{
		db:        db,
		inMemory:  cfg.InMemory,
		blockSize: cfg.BlockSize,
		parser:    vfs.SlashPathParser{CaseInsensitive: cfg.CaseInsensitive},
		now:       time.Now,
	}
	if b.blockSize <= 0 {
		b.blockSize = DefaultBlockSize
	}

	if err := b.initializeRoot(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize root: %w", err)
	}
	return b, nil
}

// NewFileSystem opens the database and wraps it into a FileSystem.
func NewFileSystem(ctx context.Context, cfg Config, opts vfs.Options) (*vfs.FileSystem, error) {
	b, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if opts.Name == "" {
		opts.Name = "badger"
	}
	return vfs.New(b, opts), nil
}

// DB returns the underlying database.
func (b *Backend) DB() *badgerdb.DB { return b.db }

func (b *Backend) initializeRoot() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(keyNode(rootID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		now := b.now()
		logger.Debug("Creating badger root directory")
		return putNode(txn, &nodeData{
			ID:        rootID,
			Name:      "/",
			Directory: true,
			Created:   now,
			Written:   now,
			Accessed:  now,
		})
	})
}

// ============================================================================
// Transaction Helpers
// ============================================================================

// view runs fn in a read-only transaction under the read lock.
func (b *Backend) view(fn func(txn *badgerdb.Txn) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.db.View(fn)
}

// update runs fn in a batch under the write lock and commits it.
func (b *Backend) update(fn func(bt *batch) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	bt := newBatch(b.db)
	defer bt.discard()
	if err := fn(bt); err != nil {
		return err
	}
	return bt.commit()
}

// batch is a read-write transaction that commits and starts over when it
// grows past badger's transaction limits. It makes large writes and deletes
// possible at the price of atomicity; the write lock keeps readers from
// seeing the intermediate state.
type batch struct {
	db  *badgerdb.DB
	txn *badgerdb.Txn
}

func newBatch(db *badgerdb.DB) *batch {
	return &batch{db: db, txn: db.NewTransaction(true)}
}

func (bt *batch) rotate() error {
	if err := bt.txn.Commit(); err != nil {
		return err
	}
	bt.txn = bt.db.NewTransaction(true)
	return nil
}

func (bt *batch) set(key, value []byte) error {
	err := bt.txn.Set(key, value)
	if errors.Is(err, badgerdb.ErrTxnTooBig) {
		if err := bt.rotate(); err != nil {
			return err
		}
		return bt.txn.Set(key, value)
	}
	return err
}

func (bt *batch) delete(key []byte) error {
	err := bt.txn.Delete(key)
	if errors.Is(err, badgerdb.ErrTxnTooBig) {
		if err := bt.rotate(); err != nil {
			return err
		}
		return bt.txn.Delete(key)
	}
	return err
}

func (bt *batch) putNode(nd *nodeData) error {
	value, err := encodeNode(nd)
	if err != nil {
		return err
	}
	return bt.set(keyNode(nd.ID), value)
}

func (bt *batch) commit() error { return bt.txn.Commit() }

func (bt *batch) discard() { bt.txn.Discard() }

func putNode(txn *badgerdb.Txn, nd *nodeData) error {
	value, err := encodeNode(nd)
	if err != nil {
		return err
	}
	return txn.Set(keyNode(nd.ID), value)
}

func getNode(txn *badgerdb.Txn, id uuid.UUID) (*nodeData, error) {
	item, err := txn.Get(keyNode(id))
	if err != nil {
		return nil, mapError(err)
	}
	var nd *nodeData
	err = item.Value(func(val []byte) error {
		nd, err = decodeNode(val)
		return err
	})
	return nd, err
}

func mapError(err error) error {
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return vfs.ErrNotFound
	}
	return err
}

// ============================================================================
// Path Resolution
// ============================================================================

func (b *Backend) fold(name string) string {
	return foldName(name, b.parser.CaseInsensitive)
}

// lookup returns the child of parent called name.
func (b *Backend) lookup(txn *badgerdb.Txn, parent uuid.UUID, name string) (*nodeData, error) {
	item, err := txn.Get(keyChild(parent, b.fold(name)))
	if err != nil {
		return nil, mapError(err)
	}
	var id uuid.UUID
	err = item.Value(func(val []byte) error {
		id, err = uuid.ParseBytes(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("corrupt entry %s: %w", name, vfs.ErrInvalidBackendState)
	}
	return getNode(txn, id)
}

// resolve walks p from the root.
func (b *Backend) resolve(txn *badgerdb.Txn, p string) (*nodeData, error) {
	_, elems := b.parser.Split(p)
	nd, err := getNode(txn, rootID)
	if err != nil {
		return nil, err
	}
	for i, name := range elems {
		if !nd.Directory {
			return nil, fmt.Errorf("%s is not a directory: %w", strings.Join(elems[:i], "/"), vfs.ErrNotFound)
		}
		if nd, err = b.lookup(txn, nd.ID, name); err != nil {
			return nil, err
		}
	}
	return nd, nil
}

// resolveParent resolves the directory holding p and returns it with the
// last element of p.
func (b *Backend) resolveParent(txn *badgerdb.Txn, p string) (*nodeData, string, error) {
	if b.parser.IsRoot(p) {
		return nil, "", fmt.Errorf("root has no parent: %w", vfs.ErrInvalidArgument)
	}
	parent, err := b.resolve(txn, b.parser.Dir(p))
	if err != nil {
		return nil, "", err
	}
	if !parent.Directory {
		return nil, "", fmt.Errorf("%s: %w", b.parser.Dir(p), vfs.ErrNotDirectory)
	}
	return parent, b.parser.Base(p), nil
}

// physicalSize sums the stored bytes of a file's blocks.
func physicalSize(txn *badgerdb.Txn, id uuid.UUID) int64 {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = keyBlockPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()

	var total int64
	for it.Rewind(); it.Valid(); it.Next() {
		total += it.Item().ValueSize()
	}
	return total
}

// blockKeys lists the keys of the blocks of id with an index of at least from.
func blockKeys(txn *badgerdb.Txn, id uuid.UUID, from int64) [][]byte {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = keyBlockPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(keyBlock(id, from)); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// ============================================================================
// Files
// ============================================================================

func (b *Backend) PathParser() vfs.PathParser { return b.parser }

func (b *Backend) NormalizePathImpl(_ context.Context, p string) (string, error) {
	return vfs.CleanSlashPath(p), nil
}

func (b *Backend) CreateFileImpl(ctx context.Context, params vfs.FileParameters) (vfs.FileImpl, error) {
	if b.parser.IsRoot(params.Path) {
		return nil, vfs.ErrIsDirectory
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var id uuid.UUID
	err := b.update(func(bt *batch) error {
		parent, name, err := b.resolveParent(bt.txn, params.Path)
		if err != nil {
			return err
		}
		existing, err := b.lookup(bt.txn, parent.ID, name)
		switch {
		case err == nil:
			if existing.Directory {
				return vfs.ErrIsDirectory
			}
			if params.Mode == vfs.ModeCreateNew {
				return vfs.ErrAlreadyExists
			}
			id = existing.ID
			return nil
		case !vfs.IsNotFound(err):
			return err
		case !params.Mode.CreatesFile():
			return err
		}

		now := b.now()
		nd := &nodeData{
			ID:         uuid.New(),
			Name:       name,
			BlockSize:  b.blockSize,
			Attributes: vfs.AttrNormal,
			Created:    now,
			Written:    now,
			Accessed:   now,
		}
		if params.Flags.Has(vfs.FlagOnCreateSetCompressionFlag) {
			nd.Attributes |= vfs.AttrCompressed
		}
		if err := bt.putNode(nd); err != nil {
			return err
		}
		id = nd.ID
		return bt.set(keyChild(parent.ID, b.fold(name)), []byte(nd.ID.String()))
	})
	if err != nil {
		return nil, err
	}
	return &fileImpl{b: b, id: id, path: params.Path}, nil
}

func (b *Backend) DeleteFileImpl(_ context.Context, p string) error {
	return b.update(func(bt *batch) error {
		parent, name, err := b.resolveParent(bt.txn, p)
		if err != nil {
			return err
		}
		nd, err := b.lookup(bt.txn, parent.ID, name)
		if err != nil {
			return err
		}
		if nd.Directory {
			return vfs.ErrIsDirectory
		}
		return b.removeFile(bt, parent.ID, nd)
	})
}

// removeFile drops the entry, the record and every block of a file.
func (b *Backend) removeFile(bt *batch, parent uuid.UUID, nd *nodeData) error {
	for _, key := range blockKeys(bt.txn, nd.ID, 0) {
		if err := bt.delete(key); err != nil {
			return err
		}
	}
	if err := bt.delete(keyNode(nd.ID)); err != nil {
		return err
	}
	return bt.delete(keyChild(parent, b.fold(nd.Name)))
}

// ============================================================================
// Directories
// ============================================================================

func (b *Backend) CreateDirectoryImpl(_ context.Context, p string) error {
	if b.parser.IsRoot(p) {
		return nil
	}
	return b.update(func(bt *batch) error {
		parent, name, err := b.resolveParent(bt.txn, p)
		if err != nil {
			return err
		}
		existing, err := b.lookup(bt.txn, parent.ID, name)
		if err == nil {
			if !existing.Directory {
				return vfs.ErrAlreadyExists
			}
			return nil
		}
		if !vfs.IsNotFound(err) {
			return err
		}

		now := b.now()
		nd := &nodeData{
			ID:        uuid.New(),
			Name:      name,
			Directory: true,
			Created:   now,
			Written:   now,
			Accessed:  now,
		}
		if err := bt.putNode(nd); err != nil {
			return err
		}
		return bt.set(keyChild(parent.ID, b.fold(name)), []byte(nd.ID.String()))
	})
}

func (b *Backend) DeleteDirectoryImpl(_ context.Context, p string) error {
	return b.update(func(bt *batch) error {
		parent, name, err := b.resolveParent(bt.txn, p)
		if err != nil {
			return err
		}
		nd, err := b.lookup(bt.txn, parent.ID, name)
		if err != nil {
			return err
		}
		if !nd.Directory {
			return vfs.ErrNotDirectory
		}
		if hasChildren(bt.txn, nd.ID) {
			return vfs.ErrNotEmpty
		}
		if err := bt.delete(keyNode(nd.ID)); err != nil {
			return err
		}
		return bt.delete(keyChild(parent.ID, b.fold(nd.Name)))
	})
}

func hasChildren(txn *badgerdb.Txn, id uuid.UUID) bool {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = keyChildPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

func (b *Backend) EnumDirectoryImpl(ctx context.Context, p string) ([]vfs.FileSystemEntity, error) {
	var entries []vfs.FileSystemEntity
	err := b.view(func(txn *badgerdb.Txn) error {
		dir, err := b.resolve(txn, p)
		if err != nil {
			return err
		}
		if !dir.Directory {
			return vfs.ErrNotDirectory
		}
		self := dir.entity(p, 0)
		self.Name = vfs.CurrentDirectoryName
		entries = append(entries, self)

		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = keyChildPrefix(dir.ID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var id uuid.UUID
			err := it.Item().Value(func(val []byte) error {
				id, err = uuid.ParseBytes(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("corrupt entry %s: %w", it.Item().Key(), vfs.ErrInvalidBackendState)
			}
			child, err := getNode(txn, id)
			if err != nil {
				return err
			}
			var physical int64
			if !child.Directory {
				physical = physicalSize(txn, child.ID)
			}
			entries = append(entries, child.entity(b.parser.Join(p, child.Name), physical))
		}
		return nil
	})
	return entries, err
}

// ============================================================================
// Metadata
// ============================================================================

func (b *Backend) metadata(p string, flags vfs.FileMetadataGetFlags, dir bool) (*vfs.FileMetadata, error) {
	var md *vfs.FileMetadata
	err := b.view(func(txn *badgerdb.Txn) error {
		nd, err := b.resolve(txn, p)
		if err != nil {
			return err
		}
		switch {
		case dir && !nd.Directory:
			return vfs.ErrNotDirectory
		case !dir && nd.Directory:
			return vfs.ErrIsDirectory
		}
		md = nd.metadata(flags)
		if !nd.Directory {
			md.PhysicalSize = physicalSize(txn, nd.ID)
		}
		return nil
	})
	return md, err
}

func (b *Backend) setMetadata(p string, md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode, dir bool) error {
	return b.update(func(bt *batch) error {
		nd, err := b.resolve(bt.txn, p)
		if err != nil {
			return err
		}
		switch {
		case dir && !nd.Directory:
			return vfs.ErrNotDirectory
		case !dir && nd.Directory:
			return vfs.ErrIsDirectory
		}
		nd.apply(md, mode)
		return bt.putNode(nd)
	})
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

// ============================================================================
// Namespace
// ============================================================================

// move relinks src under the parent of dst. Only directory entries change;
// records and blocks stay where they are.
func (b *Backend) move(src, dst string, overwrite, dir bool) error {
	return b.update(func(bt *batch) error {
		srcParent, srcName, err := b.resolveParent(bt.txn, src)
		if err != nil {
			return err
		}
		nd, err := b.lookup(bt.txn, srcParent.ID, srcName)
		if err != nil {
			return err
		}
		switch {
		case dir && !nd.Directory:
			return vfs.ErrNotDirectory
		case !dir && nd.Directory:
			return vfs.ErrIsDirectory
		}

		dstParent, dstName, err := b.resolveParent(bt.txn, dst)
		if err != nil {
			return err
		}
		existing, err := b.lookup(bt.txn, dstParent.ID, dstName)
		switch {
		case err == nil && existing.ID != nd.ID:
			if dir || !overwrite {
				return vfs.ErrAlreadyExists
			}
			if existing.Directory {
				return vfs.ErrIsDirectory
			}
			if err := b.removeFile(bt, dstParent.ID, existing); err != nil {
				return err
			}
		case err != nil && !vfs.IsNotFound(err):
			return err
		}

		if err := bt.delete(keyChild(srcParent.ID, b.fold(nd.Name))); err != nil {
			return err
		}
		nd.Name = dstName
		if err := bt.putNode(nd); err != nil {
			return err
		}
		return bt.set(keyChild(dstParent.ID, b.fold(dstName)), []byte(nd.ID.String()))
	})
}

func (b *Backend) MoveFileImpl(_ context.Context, src, dst string, overwrite bool) error {
	return b.move(src, dst, overwrite, false)
}

func (b *Backend) MoveDirectoryImpl(_ context.Context, src, dst string) error {
	return b.move(src, dst, false, true)
}

func (b *Backend) exists(p string, dir bool) (bool, error) {
	var found bool
	err := b.view(func(txn *badgerdb.Txn) error {
		nd, err := b.resolve(txn, p)
		if err != nil {
			return err
		}
		found = nd.Directory == dir
		return nil
	})
	if vfs.IsNotFound(err) {
		return false, nil
	}
	return found, err
}

func (b *Backend) IsFileExistsImpl(_ context.Context, p string) (bool, error) {
	return b.exists(p, false)
}

func (b *Backend) IsDirectoryExistsImpl(_ context.Context, p string) (bool, error) {
	return b.exists(p, true)
}

// CloseImpl closes the database.
func (b *Backend) CloseImpl(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// badgerLogger routes badger's own logging into the process logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, v ...any) {
	logger.Error("badger: "+strings.TrimSuffix(format, "\n"), v...)
}

func (badgerLogger) Warningf(format string, v ...any) {
	logger.Warn("badger: "+strings.TrimSuffix(format, "\n"), v...)
}

func (badgerLogger) Infof(format string, v ...any) {
	logger.Info("badger: "+strings.TrimSuffix(format, "\n"), v...)
}

func (badgerLogger) Debugf(format string, v ...any) {
	logger.Debug("badger: "+strings.TrimSuffix(format, "\n"), v...)
}
