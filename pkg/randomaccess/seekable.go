package randomaccess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Truncater is implemented by streams that can change their length (e.g. *os.File).
type Truncater interface {
	Truncate(size int64) error
}

// Syncer is implemented by streams that can be flushed to stable storage.
type Syncer interface {
	Sync() error
}

// SeekableStream adapts a seekable byte stream into a RandomAccess[byte].
//
// The adapter caches the stream cursor and size so that consecutive positioned
// operations do not issue redundant seeks; it only re-seeks when the requested
// position differs from where the stream cursor already is. Writes starting
// past the end grow the stream first, and every transfer is split into
// micro-operations of at most MicroOperationSize bytes.
type SeekableStream struct {
	stream io.ReadWriteSeeker
	lock   *Lock

	mu        sync.Mutex
	position  int64
	size      int64
	sizeKnown bool

	microOperationSize int
}

// NewSeekableStream wraps stream. The stream cursor is assumed to be at offset 0.
func NewSeekableStream(stream io.ReadWriteSeeker) *SeekableStream {
	return &SeekableStream{
		stream:             stream,
		lock:               NewLock(),
		microOperationSize: DefaultMicroOperationSize,
	}
}

// SetMicroOperationSize changes the chunk size used for large transfers.
func (s *SeekableStream) SetMicroOperationSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size > 0 {
		s.microOperationSize = size
	}
}

func (s *SeekableStream) seekLocked(position int64) error {
	if s.position == position {
		return nil
	}
	got, err := s.stream.Seek(position, io.SeekStart)
	if err != nil {
		return fmt.Errorf("seek to %d: %w", position, err)
	}
	s.position = got
	return nil
}

func (s *SeekableStream) sizeLocked(refresh bool) (int64, error) {
	if s.sizeKnown && !refresh {
		return s.size, nil
	}
	end, err := s.stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek to end: %w", err)
	}
	s.position = end
	s.size = end
	s.sizeKnown = true
	return end, nil
}

func (s *SeekableStream) ReadRandom(ctx context.Context, position int64, buf []byte) (int, error) {
	if position < 0 {
		return 0, fmt.Errorf("read at %d: %w", position, ErrNegativePosition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return ProcessMicroOperations(ctx, len(buf), s.microOperationSize, func(ctx context.Context, offset, length int) (int, error) {
		if err := s.seekLocked(position + int64(offset)); err != nil {
			return 0, err
		}
		n, err := io.ReadFull(s.stream, buf[offset:offset+length])
		s.position += int64(n)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return n, nil
		}
		return n, err
	})
}

func (s *SeekableStream) WriteRandom(ctx context.Context, position int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, err := s.sizeLocked(false)
	if err != nil {
		return err
	}
	if position == AppendPosition {
		position = size
	}
	if position < 0 {
		return fmt.Errorf("write at %d: %w", position, ErrNegativePosition)
	}

	if position > size {
		if err := s.setLengthLocked(position); err != nil {
			return err
		}
	}

	_, err = ProcessMicroOperations(ctx, len(data), s.microOperationSize, func(ctx context.Context, offset, length int) (int, error) {
		if err := s.seekLocked(position + int64(offset)); err != nil {
			return 0, err
		}
		n, err := s.stream.Write(data[offset : offset+length])
		s.position += int64(n)
		if err != nil {
			return n, fmt.Errorf("write at %d: %w", position+int64(offset), err)
		}
		return n, nil
	})
	if err != nil {
		s.sizeKnown = false
		return err
	}

	s.size = max(s.size, position+int64(len(data)))
	return nil
}

func (s *SeekableStream) setLengthLocked(size int64) error {
	t, ok := s.stream.(Truncater)
	if !ok {
		return fmt.Errorf("resize stream: %w", ErrNotSupported)
	}
	if err := t.Truncate(size); err != nil {
		s.sizeKnown = false
		return fmt.Errorf("resize stream to %d: %w", size, err)
	}
	s.size = size
	s.sizeKnown = true
	return nil
}

func (s *SeekableStream) Append(ctx context.Context, data []byte) error {
	return s.WriteRandom(ctx, AppendPosition, data)
}

func (s *SeekableStream) GetFileSize(ctx context.Context, refresh bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeLocked(refresh)
}

func (s *SeekableStream) SetFileSize(ctx context.Context, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("set size %d: %w", size, ErrNegativePosition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLengthLocked(size)
}

func (s *SeekableStream) GetPhysicalSize(ctx context.Context) (int64, error) {
	return s.GetFileSize(ctx, true)
}

func (s *SeekableStream) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if syncer, ok := s.stream.(Syncer); ok {
		return syncer.Sync()
	}
	return nil
}

func (s *SeekableStream) SharedLock() *Lock {
	return s.lock
}

// Close closes the underlying stream if it is an io.Closer.
func (s *SeekableStream) Close() error {
	if c, ok := s.stream.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
