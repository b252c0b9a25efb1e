package randomaccess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Stream exposes a RandomAccess[byte] through the standard io interfaces.
//
// Stream keeps its own cursor for Read/Write/Seek; ReadAt and WriteAt are
// positioned and do not move it. All calls use the context given at
// construction.
type Stream struct {
	ctx    context.Context
	target RandomAccess[byte]

	mu       sync.Mutex
	position int64
	closed   bool
}

var (
	_ io.ReadWriteSeeker = (*Stream)(nil)
	_ io.ReaderAt        = (*Stream)(nil)
	_ io.WriterAt        = (*Stream)(nil)
	_ io.Closer          = (*Stream)(nil)
)

// NewStream wraps target; ctx governs every I/O call made through the stream.
func NewStream(ctx context.Context, target RandomAccess[byte]) *Stream {
	return &Stream{ctx: ctx, target: target}
}

func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.target.ReadRandom(s.ctx, s.position, p)
	s.position += int64(n)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if err := s.target.WriteRandom(s.ctx, s.position, p); err != nil {
		return 0, err
	}
	s.position += int64(len(p))
	return len(p), nil
}

func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = s.position
	case io.SeekEnd:
		size, err := s.target.GetFileSize(s.ctx, true)
		if err != nil {
			return 0, err
		}
		base = size
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	next := base + offset
	if next < 0 {
		return 0, fmt.Errorf("seek to %d: %w", next, ErrNegativePosition)
	}
	s.position = next
	return next, nil
}

func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := s.target.ReadRandom(s.ctx, off+int64(total), p[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

func (s *Stream) WriteAt(p []byte, off int64) (int, error) {
	if err := s.target.WriteRandom(s.ctx, off, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close flushes the target and closes it when it implements io.Closer.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.target.Flush(s.ctx)
	if c, ok := s.target.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
