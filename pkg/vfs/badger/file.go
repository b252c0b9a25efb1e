package badger

import (
	"context"
	"errors"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// fileImpl is the vfs.FileImpl of a file stored in blocks.
//
// The handle only remembers the node ID, so it follows the file across
// renames. Once the file is deleted every call fails with ErrNotFound.
type fileImpl struct {
	b    *Backend
	id   uuid.UUID
	path string
}

var (
	_ vfs.FileImpl      = (*fileImpl)(nil)
	_ vfs.PhysicalSizer = (*fileImpl)(nil)
)

// readBlock returns the stored bytes of block index, or nil for a hole.
func readBlock(txn *badgerdb.Txn, id uuid.UUID, index int64) ([]byte, error) {
	item, err := txn.Get(keyBlock(id, index))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (f *fileImpl) ReadRandomImpl(ctx context.Context, position int64, buf []byte) (int, error) {
	var n int
	err := f.b.view(func(txn *badgerdb.Txn) error {
		nd, err := getNode(txn, f.id)
		if err != nil {
			return err
		}
		if position >= nd.Size {
			return nil
		}
		n = int(min(int64(len(buf)), nd.Size-position))
		bs := nd.BlockSize

		for off := 0; off < n; {
			if err := ctx.Err(); err != nil {
				return err
			}
			at := position + int64(off)
			index, inBlock := at/bs, at%bs
			part := buf[off:min(n, off+int(bs-inBlock))]

			blk, err := readBlock(txn, f.id, index)
			if err != nil {
				return err
			}
			copied := 0
			if inBlock < int64(len(blk)) {
				copied = copy(part, blk[inBlock:])
			}
			clear(part[copied:])
			off += len(part)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// WriteRandomImpl overlays data onto the blocks it touches. Partially covered
// blocks are read, patched and written back.
func (f *fileImpl) WriteRandomImpl(ctx context.Context, position int64, data []byte) error {
	return f.b.update(func(bt *batch) error {
		nd, err := getNode(bt.txn, f.id)
		if err != nil {
			return err
		}
		bs := nd.BlockSize

		for off := 0; off < len(data); {
			if err := ctx.Err(); err != nil {
				return err
			}
			at := position + int64(off)
			index, inBlock := at/bs, at%bs
			part := data[off:min(len(data), off+int(bs-inBlock))]

			var blk []byte
			if inBlock == 0 && int64(len(part)) == bs {
				blk = part
			} else {
				existing, err := readBlock(bt.txn, f.id, index)
				if err != nil {
					return err
				}
				blk = make([]byte, max(int64(len(existing)), inBlock+int64(len(part))))
				copy(blk, existing)
				copy(blk[inBlock:], part)
			}
			if err := bt.set(keyBlock(f.id, index), blk); err != nil {
				return err
			}
			off += len(part)
		}

		nd.Size = max(nd.Size, position+int64(len(data)))
		nd.Written = f.b.now()
		return bt.putNode(nd)
	})
}

func (f *fileImpl) GetFileSizeImpl(context.Context) (int64, error) {
	var size int64
	err := f.b.view(func(txn *badgerdb.Txn) error {
		nd, err := getNode(txn, f.id)
		if err != nil {
			return err
		}
		size = nd.Size
		return nil
	})
	return size, err
}

// SetFileSizeImpl records the new size. Shrinking drops the blocks past the
// end and cuts the new last block; growing leaves a hole.
func (f *fileImpl) SetFileSizeImpl(_ context.Context, size int64) error {
	return f.b.update(func(bt *batch) error {
		nd, err := getNode(bt.txn, f.id)
		if err != nil {
			return err
		}
		if size < nd.Size {
			bs := nd.BlockSize
			keep := (size + bs - 1) / bs
			for _, key := range blockKeys(bt.txn, f.id, keep) {
				if err := bt.delete(key); err != nil {
					return err
				}
			}
			if tail := size % bs; tail != 0 {
				blk, err := readBlock(bt.txn, f.id, size/bs)
				if err != nil {
					return err
				}
				if int64(len(blk)) > tail {
					if err := bt.set(keyBlock(f.id, size/bs), blk[:tail]); err != nil {
						return err
					}
				}
			}
		}
		nd.Size = size
		nd.Written = f.b.now()
		return bt.putNode(nd)
	})
}

// GetPhysicalSizeImpl returns the bytes actually stored, which is less than
// the size for files with holes.
func (f *fileImpl) GetPhysicalSizeImpl(context.Context) (int64, error) {
	var total int64
	err := f.b.view(func(txn *badgerdb.Txn) error {
		total = physicalSize(txn, f.id)
		return nil
	})
	return total, err
}

// FlushImpl syncs the database to disk. Commits are already visible to every
// other handle.
func (f *fileImpl) FlushImpl(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.b.inMemory {
		return nil
	}
	return f.b.db.Sync()
}

func (f *fileImpl) CloseImpl(context.Context) error {
	return nil
}
