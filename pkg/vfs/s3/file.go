package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/randomaccess"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// fileImpl is the vfs.FileImpl of one object.
//
// Until the first mutation reads are ranged GETs against the object. A
// mutation downloads the whole object into buf, and from then on the handle
// works on its copy until the next upload.
type fileImpl struct {
	b   *Backend
	key string

	mu    sync.Mutex
	buf   *randomaccess.Memory[byte]
	dirty bool
}

var (
	_ vfs.FileImpl      = (*fileImpl)(nil)
	_ vfs.PhysicalSizer = (*fileImpl)(nil)
)

func newFileImpl(b *Backend, p string) *fileImpl {
	return &fileImpl{b: b, key: b.objectKey(p)}
}

// loadEmpty starts from an empty copy without downloading anything.
func (f *fileImpl) loadEmpty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = randomaccess.NewMemory[byte](nil)
}

// loadLocked downloads the object into buf unless it is already there.
func (f *fileImpl) loadLocked(ctx context.Context) error {
	if f.buf != nil {
		return nil
	}
	out, err := f.b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.b.bucket),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", f.key, mapError(err))
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", f.key, err)
	}
	logger.Debug("Downloaded %s (%d bytes) for modification", f.key, len(data))
	f.buf = randomaccess.NewMemory(data)
	return nil
}

func (f *fileImpl) ReadRandomImpl(ctx context.Context, position int64, buf []byte) (int, error) {
	f.mu.Lock()
	local := f.buf
	f.mu.Unlock()
	if local != nil {
		return local.ReadRandom(ctx, position, buf)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	out, err := f.b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.b.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", position, position+int64(len(buf))-1)),
	})
	if err != nil {
		if isInvalidRange(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s at %d: %w", f.key, position, mapError(err))
	}
	defer func() { _ = out.Body.Close() }()

	n, err := io.ReadFull(out.Body, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func (f *fileImpl) WriteRandomImpl(ctx context.Context, position int64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(ctx); err != nil {
		return err
	}
	if err := f.buf.WriteRandom(ctx, position, data); err != nil {
		return err
	}
	f.dirty = true
	return nil
}

func (f *fileImpl) GetFileSizeImpl(ctx context.Context) (int64, error) {
	f.mu.Lock()
	local := f.buf
	f.mu.Unlock()
	if local != nil {
		return local.Len(), nil
	}
	out, err := f.b.head(ctx, f.key)
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}

// SetFileSizeImpl resizes the local copy. Truncating to zero skips the
// download.
func (f *fileImpl) SetFileSizeImpl(ctx context.Context, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size == 0 && f.buf == nil {
		f.buf = randomaccess.NewMemory[byte](nil)
	}
	if err := f.loadLocked(ctx); err != nil {
		return err
	}
	if err := f.buf.SetFileSize(ctx, size); err != nil {
		return err
	}
	f.dirty = true
	return nil
}

func (f *fileImpl) GetPhysicalSizeImpl(ctx context.Context) (int64, error) {
	return f.GetFileSizeImpl(ctx)
}

// FlushImpl uploads the local copy when it changed.
func (f *fileImpl) FlushImpl(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}
	if err := f.b.put(ctx, f.key, f.buf.Bytes()); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// CloseImpl uploads pending changes and drops the local copy.
func (f *fileImpl) CloseImpl(ctx context.Context) error {
	err := f.FlushImpl(ctx)
	f.mu.Lock()
	f.buf = nil
	f.mu.Unlock()
	return err
}
