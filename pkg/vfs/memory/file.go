package memory

import (
	"context"
	"sync"

	"github.com/marmos91/dittovfs/pkg/randomaccess"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// RandomAccessFile exposes the content of a File as a
// randomaccess.RandomAccess[byte]. Every read stamps the access time and
// every mutation the write time, independently of the path layer.
type RandomAccessFile struct {
	file File
	lock *randomaccess.Lock
}

var _ randomaccess.RandomAccess[byte] = (*RandomAccessFile)(nil)

// NewRandomAccessFile wraps f.
func NewRandomAccessFile(f File) *RandomAccessFile {
	return &RandomAccessFile{file: f, lock: randomaccess.NewLock()}
}

func (r *RandomAccessFile) ReadRandom(ctx context.Context, position int64, buf []byte) (int, error) {
	c, err := r.file.content(false)
	if err != nil {
		return 0, err
	}
	return c.ReadRandom(ctx, position, buf)
}

func (r *RandomAccessFile) WriteRandom(ctx context.Context, position int64, data []byte) error {
	c, err := r.file.content(true)
	if err != nil {
		return err
	}
	return c.WriteRandom(ctx, position, data)
}

func (r *RandomAccessFile) Append(ctx context.Context, data []byte) error {
	return r.WriteRandom(ctx, randomaccess.AppendPosition, data)
}

func (r *RandomAccessFile) GetFileSize(ctx context.Context, _ bool) (int64, error) {
	c, err := r.file.content(false)
	if err != nil {
		return 0, err
	}
	return c.Len(), ctx.Err()
}

func (r *RandomAccessFile) SetFileSize(ctx context.Context, size int64) error {
	c, err := r.file.content(true)
	if err != nil {
		return err
	}
	return c.SetFileSize(ctx, size)
}

func (r *RandomAccessFile) GetPhysicalSize(ctx context.Context) (int64, error) {
	return r.GetFileSize(ctx, false)
}

func (r *RandomAccessFile) Flush(ctx context.Context) error {
	return ctx.Err()
}

func (r *RandomAccessFile) SharedLock() *randomaccess.Lock {
	return r.lock
}

// fileImpl is the vfs.FileImpl of an open RAM file. It keeps a handle
// reference on the node until closed, which blocks unlinking it.
type fileImpl struct {
	ra        *RandomAccessFile
	file      File
	closeOnce sync.Once
}

var (
	_ vfs.FileImpl      = (*fileImpl)(nil)
	_ vfs.PhysicalSizer = (*fileImpl)(nil)
)

func (f *fileImpl) ReadRandomImpl(ctx context.Context, position int64, buf []byte) (int, error) {
	return f.ra.ReadRandom(ctx, position, buf)
}

func (f *fileImpl) WriteRandomImpl(ctx context.Context, position int64, data []byte) error {
	return f.ra.WriteRandom(ctx, position, data)
}

func (f *fileImpl) GetFileSizeImpl(ctx context.Context) (int64, error) {
	return f.ra.GetFileSize(ctx, true)
}

func (f *fileImpl) SetFileSizeImpl(ctx context.Context, size int64) error {
	return f.ra.SetFileSize(ctx, size)
}

func (f *fileImpl) GetPhysicalSizeImpl(ctx context.Context) (int64, error) {
	return f.ra.GetPhysicalSize(ctx)
}

func (f *fileImpl) FlushImpl(ctx context.Context) error {
	return f.ra.Flush(ctx)
}

func (f *fileImpl) CloseImpl(context.Context) error {
	var err error
	f.closeOnce.Do(func() {
		err = f.file.ReleaseHandleRef()
	})
	return err
}
