package local

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// zeroChunkSize bounds the buffer used to zero-extend non-sparse files.
const zeroChunkSize = 1 << 20

// fileImpl is the vfs.FileImpl of one open host file.
//
// Thread Safety:
// The owning FileObject serializes every call, so fileImpl holds no locks.
type fileImpl struct {
	f      *os.File
	sparse bool
}

var (
	_ vfs.FileImpl      = (*fileImpl)(nil)
	_ vfs.PhysicalSizer = (*fileImpl)(nil)
)

// ============================================================================
// Reads
// ============================================================================

// ReadRandomImpl reads at position. A short read at end of file is not an
// error.
func (fi *fileImpl) ReadRandomImpl(ctx context.Context, position int64, buf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := fi.f.ReadAt(buf, position)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, mapError(err)
}

// ============================================================================
// Writes
// ============================================================================

// WriteRandomImpl writes data at position.
//
// Sparse handles split the buffer into data and zero runs: zero runs of at
// least SparseZeroRunSize bytes are skipped past the current end of file and
// punched out inside it, so they never occupy disk blocks. When the host
// cannot punch holes the zeros are written normally.
func (fi *fileImpl) WriteRandomImpl(ctx context.Context, position int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !fi.sparse {
		_, err := fi.f.WriteAt(data, position)
		return mapError(err)
	}
	return fi.writeSparse(ctx, position, data)
}

func (fi *fileImpl) writeSparse(ctx context.Context, position int64, data []byte) error {
	size, err := fi.GetFileSizeImpl(ctx)
	if err != nil {
		return err
	}
	end := position + int64(len(data))

	for _, seg := range splitZeroRuns(data, SparseZeroRunSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		at := position + int64(seg.offset)
		chunk := data[seg.offset : seg.offset+seg.length]

		if seg.zero {
			if at >= size {
				continue
			}
			// Only the part overlapping existing data needs punching; the
			// rest lies beyond EOF and is a hole already.
			overlap := min(int64(seg.length), size-at)
			err := punchHole(fi.f, at, overlap)
			if err == nil {
				continue
			}
			if !errors.Is(err, vfs.ErrNotSupported) {
				return mapError(err)
			}
			logger.Debug("Hole punching unsupported for %s, writing zeros", fi.f.Name())
		}

		if _, err := fi.f.WriteAt(chunk, at); err != nil {
			return mapError(err)
		}
		size = max(size, at+int64(seg.length))
	}

	// A trailing zero run was skipped: extend the size without allocating.
	if size < end {
		return mapError(fi.f.Truncate(end))
	}
	return nil
}

// ============================================================================
// Size
// ============================================================================

func (fi *fileImpl) GetFileSizeImpl(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	st, err := fi.f.Stat()
	if err != nil {
		return 0, mapError(err)
	}
	return st.Size(), nil
}

// SetFileSizeImpl truncates or extends the file.
//
// Extension of a sparse handle leaves a hole. Other handles get the gap
// written with explicit zeros so that the new range is allocated.
func (fi *fileImpl) SetFileSizeImpl(ctx context.Context, size int64) error {
	current, err := fi.GetFileSizeImpl(ctx)
	if err != nil {
		return err
	}
	if size <= current || fi.sparse {
		return mapError(fi.f.Truncate(size))
	}

	zeros := make([]byte, min(size-current, zeroChunkSize))
	for at := current; at < size; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(int64(len(zeros)), size-at)
		if _, err := fi.f.WriteAt(zeros[:n], at); err != nil {
			return mapError(err)
		}
		at += n
	}
	return nil
}

func (fi *fileImpl) GetPhysicalSizeImpl(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := allocatedSize(fi.f)
	return n, mapError(err)
}

// ============================================================================
// Lifecycle
// ============================================================================

func (fi *fileImpl) FlushImpl(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(fi.f.Sync())
}

func (fi *fileImpl) CloseImpl(context.Context) error {
	return mapError(fi.f.Close())
}
