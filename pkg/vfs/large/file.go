package large

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// fileImpl is the vfs.FileImpl of one logical sharded file.
//
// Shard handles are borrowed from the underlying FileSystem pools for the
// duration of a single call. Writable handles use the write pool for reads
// too, so they see their own buffered data. Shards written since the last
// flush are tracked in dirty; moving on to another shard flushes them first.
type fileImpl struct {
	b     *Backend
	pp    ParsedPath
	path  string
	flags vfs.FileFlags
	write bool

	size  int64
	dirty map[int64]struct{}
}

var (
	_ vfs.FileImpl      = (*fileImpl)(nil)
	_ vfs.WritePlanner  = (*fileImpl)(nil)
	_ vfs.PhysicalSizer = (*fileImpl)(nil)
)

func (fi *fileImpl) params() Params { return fi.b.params }

func (fi *fileImpl) shardPath(n int64) (string, error) {
	return fi.pp.PhysicalPath(n)
}

// withShard borrows the handle of shard n for the duration of fn. Sparse
// logical files use sparse shard handles.
func (fi *fileImpl) withShard(ctx context.Context, n int64, write bool, fn func(h *vfs.PooledHandle) error) (err error) {
	p, err := fi.shardPath(n)
	if err != nil {
		return err
	}
	h, err := fi.b.under.GetRandomAccessHandleWithFlags(ctx, p, write, fi.flags&vfs.PooledFlags)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := h.Release(ctx); err == nil {
			err = rerr
		}
	}()
	return fn(h)
}

// ============================================================================
// Reads
// ============================================================================

// ReadRandomImpl reads across shards. Missing shards and short shard reads
// are zero-filled up to the logical size.
func (fi *fileImpl) ReadRandomImpl(ctx context.Context, position int64, buf []byte) (int, error) {
	if !fi.write && position+int64(len(buf)) > fi.size {
		if _, err := fi.GetFileSizeImpl(ctx); err != nil {
			return 0, err
		}
	}
	if position >= fi.size {
		return 0, nil
	}
	n := int(min(int64(len(buf)), fi.size-position))

	cursors, err := Cursors(fi.params(), position, n)
	if err != nil {
		return 0, err
	}

	offset := 0
	for _, c := range cursors {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		part := buf[offset : offset+c.PhysicalDataLength]
		err := fi.withShard(ctx, c.PhysicalFileNumber, fi.write, func(h *vfs.PooledHandle) error {
			got, err := h.ReadRandom(ctx, c.PhysicalPosition, part)
			if err != nil {
				return err
			}
			clear(part[got:])
			return nil
		})
		if vfs.IsNotFound(err) {
			clear(part)
			err = nil
		}
		if err != nil {
			return 0, err
		}
		offset += c.PhysicalDataLength
	}
	return n, nil
}

// ============================================================================
// Writes
// ============================================================================

// appendPolicy reports whether crossing appends are padded to the next shard.
func (fi *fileImpl) appendPolicy() bool {
	return fi.flags.Has(vfs.FlagLargeFsAppendWithoutCrossBorder) ||
		fi.flags.Has(vfs.FlagLargeFsAppendNewLineForCrossBorder)
}

// CheckWrite applies the border policy of the handle to a whole write.
//
// With FlagLargeFsProhibitWriteWithCrossBorder a write spanning shards fails;
// for exactly two shards the error is a BorderViolationError carrying the
// padding that would avoid it. Under an append policy a crossing append at or
// past the end must fit into a single shard.
func (fi *fileImpl) CheckWrite(position int64, length int) error {
	cursors, err := Cursors(fi.params(), position, length)
	if err != nil {
		return err
	}
	if len(cursors) < 2 {
		return nil
	}
	// The border policies assume a single write fits into one shard.
	oversized := len(cursors) > 2 || int64(length) > fi.params().MaxSinglePhysicalFileSize

	switch {
	case fi.flags.Has(vfs.FlagLargeFsProhibitWriteWithCrossBorder):
		if oversized {
			return fmt.Errorf("write of %d bytes spans %d shards: %w: %w", length, len(cursors), ErrCrossBorder, vfs.ErrOutOfRange)
		}
		return &BorderViolationError{
			Path:                fi.path,
			Position:            position,
			Length:              length,
			RequiredPaddingSize: cursors[0].PhysicalRemainingLength,
		}
	case fi.appendPolicy() && position >= fi.size && oversized:
		return fmt.Errorf("append of %d bytes spans %d shards: %w: %w", length, len(cursors), ErrCrossBorder, vfs.ErrOutOfRange)
	}
	return nil
}

// PadWrite fills the rest of the current shard when an append at the end of
// the file would cross a border, so that the data starts the next shard. With
// FlagLargeFsAppendNewLineForCrossBorder the padding ends with the line
// terminator.
func (fi *fileImpl) PadWrite(ctx context.Context, position int64, length int) (int64, error) {
	if !fi.appendPolicy() || position != fi.size {
		return 0, nil
	}
	cursors, err := Cursors(fi.params(), position, length)
	if err != nil {
		return 0, err
	}
	if len(cursors) < 2 {
		return 0, nil
	}
	c := cursors[0]

	pad := make([]byte, c.PhysicalRemainingLength)
	if fi.flags.Has(vfs.FlagLargeFsAppendNewLineForCrossBorder) {
		nl := fi.params().NewLine
		// A one byte gap keeps the final byte of a two byte terminator.
		nl = nl[max(0, len(nl)-len(pad)):]
		copy(pad, nl)
	}
	logger.Debug("Padding shard %d of %s with %d bytes before append", c.PhysicalFileNumber, fi.path, len(pad))

	if err := fi.writeShard(ctx, c.PhysicalFileNumber, c.PhysicalPosition, pad, true); err != nil {
		return 0, err
	}
	fi.size = fi.params().ShardOffset(c.PhysicalFileNumber + 1)
	return int64(len(pad)), nil
}

// WriteRandomImpl writes data shard by shard. Border policies were already
// applied to the whole write by CheckWrite and PadWrite.
func (fi *fileImpl) WriteRandomImpl(ctx context.Context, position int64, data []byte) error {
	cursors, err := Cursors(fi.params(), position, len(data))
	if err != nil {
		return err
	}
	return fi.writeCursors(ctx, cursors, data)
}

// writeCursors writes data slice by slice. Every shard but the last is
// flushed as soon as its slice is written.
func (fi *fileImpl) writeCursors(ctx context.Context, cursors []Cursor, data []byte) error {
	offset := 0
	for i, c := range cursors {
		part := data[offset : offset+c.PhysicalDataLength]
		last := i == len(cursors)-1
		if err := fi.writeShard(ctx, c.PhysicalFileNumber, c.PhysicalPosition, part, !last); err != nil {
			return err
		}
		offset += c.PhysicalDataLength
		fi.size = max(fi.size, c.LogicalPosition+int64(c.PhysicalDataLength))
	}
	return nil
}

// writeShard writes part at offset into shard n, flushing any other dirty
// shard first.
func (fi *fileImpl) writeShard(ctx context.Context, n, offset int64, part []byte, flush bool) error {
	if err := fi.flushDirty(ctx, n); err != nil {
		return err
	}
	err := fi.withShard(ctx, n, true, func(h *vfs.PooledHandle) error {
		if err := h.WriteRandom(ctx, offset, part); err != nil {
			return err
		}
		if flush {
			return h.Flush(ctx)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if flush {
		delete(fi.dirty, n)
	} else {
		fi.dirty[n] = struct{}{}
	}
	return nil
}

// ============================================================================
// Size
// ============================================================================

// GetFileSizeImpl derives the logical size from the last shard.
func (fi *fileImpl) GetFileSizeImpl(ctx context.Context) (int64, error) {
	shards, err := fi.b.listShards(ctx, fi.pp)
	if err != nil {
		return 0, err
	}
	if len(shards) == 0 {
		return 0, fmt.Errorf("%s has no shards: %w", fi.path, vfs.ErrNotFound)
	}
	last := shards[len(shards)-1].number

	var size int64
	err = fi.withShard(ctx, last, fi.write, func(h *vfs.PooledHandle) error {
		var err error
		size, err = h.GetFileSize(ctx, true)
		return err
	})
	if err != nil {
		return 0, err
	}
	fi.size = fi.params().ShardOffset(last) + size
	return fi.size, nil
}

// SetFileSizeImpl resizes the logical file.
//
// Growing fills every shard up to the new last one to its full size. Shrinking
// deletes the shards past the new end, highest first, after their pooled
// handles were invalidated, then truncates the new last shard.
func (fi *fileImpl) SetFileSizeImpl(ctx context.Context, size int64) error {
	p := fi.params()
	if _, err := NewCursor(p, max(size-1, 0), 0); err != nil {
		return err
	}
	current, err := fi.GetFileSizeImpl(ctx)
	if err != nil {
		return err
	}
	from, to := p.LastShard(current), p.LastShard(size)

	if size < current {
		shards, err := fi.b.listShards(ctx, fi.pp)
		if err != nil {
			return err
		}
		for _, s := range shards {
			if s.number > to {
				delete(fi.dirty, s.number)
			}
		}
		if err := fi.b.deleteShards(ctx, fi.pp, shards, to); err != nil {
			return err
		}
	} else {
		for n := from; n < to; n++ {
			if err := fi.resizeShard(ctx, n, p.MaxSinglePhysicalFileSize, true); err != nil {
				return err
			}
		}
	}

	if err := fi.resizeShard(ctx, to, size-p.ShardOffset(to), false); err != nil {
		return err
	}
	fi.size = size
	return nil
}

func (fi *fileImpl) resizeShard(ctx context.Context, n, size int64, flush bool) error {
	if err := fi.flushDirty(ctx, n); err != nil {
		return err
	}
	err := fi.withShard(ctx, n, true, func(h *vfs.PooledHandle) error {
		if err := h.SetFileSize(ctx, size); err != nil {
			return err
		}
		if flush {
			return h.Flush(ctx)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if flush {
		delete(fi.dirty, n)
	} else {
		fi.dirty[n] = struct{}{}
	}
	return nil
}

// GetPhysicalSizeImpl sums the physical size of all shards.
func (fi *fileImpl) GetPhysicalSizeImpl(ctx context.Context) (int64, error) {
	shards, err := fi.b.listShards(ctx, fi.pp)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, s := range shards {
		total += s.entity.PhysicalSize
	}
	return total, nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// flushDirty flushes every dirty shard except keep, in ascending order.
func (fi *fileImpl) flushDirty(ctx context.Context, keep int64) error {
	if len(fi.dirty) == 0 {
		return nil
	}
	pending := make([]int64, 0, len(fi.dirty))
	for n := range fi.dirty {
		if n != keep {
			pending = append(pending, n)
		}
	}
	slices.Sort(pending)

	for _, n := range pending {
		err := fi.withShard(ctx, n, true, func(h *vfs.PooledHandle) error {
			return h.Flush(ctx)
		})
		if err != nil {
			return err
		}
		delete(fi.dirty, n)
	}
	return nil
}

func (fi *fileImpl) FlushImpl(ctx context.Context) error {
	return fi.flushDirty(ctx, -1)
}

// CloseImpl leaves the shard handles to the underlying pools.
func (fi *fileImpl) CloseImpl(context.Context) error {
	if len(fi.dirty) > 0 {
		names := make([]string, 0, len(fi.dirty))
		for n := range fi.dirty {
			names = append(names, fi.pp.ShardName(n))
		}
		logger.Warn("Closing %s with unflushed shards: %s", fi.path, strings.Join(names, ", "))
	}
	return nil
}
