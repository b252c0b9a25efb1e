package randomaccess

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittovfs/internal/ratelimiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Memory
// ============================================================================

func TestMemory_SparseWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[byte](nil)

	require.NoError(t, m.WriteRandom(ctx, 4, []byte("data")))

	size, err := m.GetFileSize(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
	assert.Equal(t, []byte{0, 0, 0, 0, 'd', 'a', 't', 'a'}, m.Bytes())
}

func TestMemory_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	m := NewMemory([]byte("hello"))

	require.NoError(t, m.Append(ctx, []byte(", world")))
	require.NoError(t, m.WriteRandom(ctx, AppendPosition, []byte("!")))

	buf := make([]byte, 32)
	n, err := m.ReadRandom(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello, world!", string(buf[:n]))

	n, err = m.ReadRandom(ctx, 100, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemory_ShrinkThenGrowReadsZeros(t *testing.T) {
	ctx := context.Background()
	m := NewMemory([]byte("abcdef"))

	require.NoError(t, m.SetFileSize(ctx, 2))
	require.NoError(t, m.SetFileSize(ctx, 5))
	assert.Equal(t, []byte{'a', 'b', 0, 0, 0}, m.Bytes())
}

func TestMemory_NegativeArguments(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[byte](nil)

	_, err := m.ReadRandom(ctx, -1, make([]byte, 1))
	assert.ErrorIs(t, err, ErrNegativePosition)
	assert.ErrorIs(t, m.WriteRandom(ctx, -2, []byte("x")), ErrNegativePosition)
	assert.ErrorIs(t, m.SetFileSize(ctx, -1), ErrNegativePosition)
}

func TestMemory_Generic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory[int](nil)
	require.NoError(t, m.WriteRandom(ctx, 2, []int{7, 8}))
	assert.Equal(t, []int{0, 0, 7, 8}, m.Bytes())
}

// ============================================================================
// Micro-operations
// ============================================================================

func TestProcessMicroOperations_Chunks(t *testing.T) {
	var lengths []int
	n, err := ProcessMicroOperations(context.Background(), 10, 4, func(_ context.Context, offset, length int) (int, error) {
		lengths = append(lengths, length)
		return length, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, []int{4, 4, 2}, lengths)
}

func TestProcessMicroOperations_StopsOnShortChunk(t *testing.T) {
	calls := 0
	n, err := ProcessMicroOperations(context.Background(), 10, 4, func(_ context.Context, offset, length int) (int, error) {
		calls++
		if offset == 4 {
			return 1, nil
		}
		return length, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 2, calls)
}

func TestProcessMicroOperations_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ProcessMicroOperations(ctx, 10, 4, func(context.Context, int, int) (int, error) {
		t.Fatal("operation should not run on a cancelled context")
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Concurrent
// ============================================================================

// flakyStore fails every call after failAfter successful ones and counts calls.
type flakyStore struct {
	*Memory[byte]
	mu        sync.Mutex
	calls     int
	failAfter int
}

var errBackend = errors.New("backend exploded")

func (f *flakyStore) WriteRandom(ctx context.Context, position int64, data []byte) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls > f.failAfter
	f.mu.Unlock()
	if fail {
		return errBackend
	}
	return f.Memory.WriteRandom(ctx, position, data)
}

func (f *flakyStore) ReadRandom(ctx context.Context, position int64, buf []byte) (int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.Memory.ReadRandom(ctx, position, buf)
}

func TestConcurrent_FailSticky(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Memory: NewMemory[byte](nil), failAfter: 1}
	c := NewConcurrent[byte](store)

	require.NoError(t, c.WriteRandom(ctx, 0, []byte("ok")))
	assert.ErrorIs(t, c.WriteRandom(ctx, 2, []byte("boom")), errBackend)

	callsBefore := store.calls
	_, err := c.ReadRandom(ctx, 0, make([]byte, 2))
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, callsBefore, store.calls, "sticky error must not reach the target")

	c.ClearError()
	buf := make([]byte, 2)
	n, err := c.ReadRandom(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestConcurrent_CancellationNotSticky(t *testing.T) {
	store := NewMemory[byte](nil)
	c := NewConcurrent[byte](store)

	require.NoError(t, store.SharedLock().Lock(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WriteRandom(ctx, 0, []byte("x")), context.DeadlineExceeded)
	store.SharedLock().Unlock()

	assert.NoError(t, c.LastError())
	assert.NoError(t, c.WriteRandom(context.Background(), 0, []byte("x")))
}

func TestConcurrent_ParallelAppends(t *testing.T) {
	ctx := context.Background()
	c := NewConcurrent[byte](NewMemory[byte](nil))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Append(ctx, []byte("ab")))
		}()
	}
	wg.Wait()

	size, err := c.GetFileSize(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(100), size)
}

// ============================================================================
// Sequential adapters
// ============================================================================

func TestSequentialWritableBased_OnlyAtEnd(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory[byte](nil)
	appender, err := NewAppender[byte](ctx, mem)
	require.NoError(t, err)
	ra := NewSequentialWritableBased[byte](appender)

	require.NoError(t, ra.WriteRandom(ctx, 0, []byte("abc")))
	require.NoError(t, ra.WriteRandom(ctx, 3, []byte("def")))
	require.NoError(t, ra.Append(ctx, []byte("g")))

	assert.ErrorIs(t, ra.WriteRandom(ctx, 2, []byte("x")), ErrOutOfOrderWrite)
	assert.ErrorIs(t, ra.WriteRandom(ctx, 100, []byte("x")), ErrOutOfOrderWrite)

	_, err = ra.ReadRandom(ctx, 0, make([]byte, 1))
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.ErrorIs(t, ra.SetFileSize(ctx, 0), ErrNotSupported)

	size, err := ra.GetFileSize(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
	assert.Equal(t, "abcdefg", string(mem.Bytes()))
}

func TestAppender_CompleteTwice(t *testing.T) {
	ctx := context.Background()
	appender, err := NewAppender[byte](ctx, NewMemory([]byte("xy")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), appender.CurrentPosition())

	require.NoError(t, appender.Write(ctx, []byte("z")))
	require.NoError(t, appender.Complete(ctx))
	assert.True(t, appender.IsCompleted())
	assert.ErrorIs(t, appender.Complete(ctx), ErrCompleted)
	assert.ErrorIs(t, appender.Write(ctx, []byte("late")), ErrCompleted)
}

// ============================================================================
// SeekableStream
// ============================================================================

func newTempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "stream.bin"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestSeekableStream_GrowOnWritePastEnd(t *testing.T) {
	ctx := context.Background()
	s := NewSeekableStream(newTempFile(t))

	require.NoError(t, s.WriteRandom(ctx, 10, []byte("tail")))
	size, err := s.GetFileSize(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(14), size)

	buf := make([]byte, 14)
	n, err := s.ReadRandom(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Equal(t, append(make([]byte, 10), "tail"...), buf)
}

func TestSeekableStream_MicroChunkingTransparency(t *testing.T) {
	ctx := context.Background()
	payload := bytes.Repeat([]byte("0123456789abcdef"), 257)

	whole := NewSeekableStream(newTempFile(t))
	require.NoError(t, whole.WriteRandom(ctx, 3, payload))

	tiny := NewSeekableStream(newTempFile(t))
	tiny.SetMicroOperationSize(1)
	require.NoError(t, tiny.WriteRandom(ctx, 3, payload))

	a := make([]byte, len(payload)+3)
	b := make([]byte, len(payload)+3)
	na, err := whole.ReadRandom(ctx, 0, a)
	require.NoError(t, err)
	nb, err := tiny.ReadRandom(ctx, 0, b)
	require.NoError(t, err)

	assert.Equal(t, na, nb)
	assert.Equal(t, a, b)
}

func TestSeekableStream_ShortReadAtEnd(t *testing.T) {
	ctx := context.Background()
	s := NewSeekableStream(newTempFile(t))
	require.NoError(t, s.Append(ctx, []byte("abc")))

	buf := make([]byte, 10)
	n, err := s.ReadRandom(ctx, 1, buf)
	require.NoError(t, err)
	assert.Equal(t, "bc", string(buf[:n]))
}

// ============================================================================
// Stream
// ============================================================================

func TestStream_IOInterop(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory[byte](nil)
	s := NewStream(ctx, mem)

	_, err := io.WriteString(s, "hello stream")
	require.NoError(t, err)

	_, err = s.Seek(6, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "stream", string(rest))

	buf := make([]byte, 5)
	_, err = s.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	_, err = s.ReadAt(make([]byte, 20), 0)
	assert.ErrorIs(t, err, io.EOF)

	end, err := s.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(12), end)

	require.NoError(t, s.Close())
	_, err = s.Read(buf)
	assert.ErrorIs(t, err, ErrClosed)
}

// ============================================================================
// Throttled
// ============================================================================

func TestThrottled_PassThrough(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory[byte](nil)
	th := NewThrottled(mem, 0, 0)

	require.NoError(t, th.WriteRandom(ctx, 0, []byte("fast")))
	buf := make([]byte, 4)
	n, err := th.ReadRandom(ctx, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, "fast", string(buf[:n]))
	assert.Same(t, mem.SharedLock(), th.SharedLock())
}

func TestThrottled_Limits(t *testing.T) {
	ctx := context.Background()
	th := NewThrottled(NewMemory[byte](nil), 1000, 100)

	start := time.Now()
	require.NoError(t, th.Append(ctx, make([]byte, 300)))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestThrottled_SharedBudget(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimiter.New(1000, 100)
	a := NewThrottledShared(NewMemory[byte](nil), limiter)
	b := NewThrottledShared(NewMemory[byte](nil), limiter)

	start := time.Now()
	require.NoError(t, a.Append(ctx, make([]byte, 100)))
	require.NoError(t, b.Append(ctx, make([]byte, 200)))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}
