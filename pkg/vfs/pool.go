package vfs

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/randomaccess"
)

const (
	// DefaultMaxIdleHandles is the default number of idle handles each pool
	// keeps open.
	DefaultMaxIdleHandles = 64
)

// PoolOptions configures the handle pools of a FileSystem.
type PoolOptions struct {
	// MaxLifetime bounds how long one underlying FileObject is reused.
	// Zero means forever.
	MaxLifetime time.Duration

	// MaxIdleHandles caps the number of unreferenced handles kept open.
	// Least recently released handles are closed first.
	MaxIdleHandles int
}

// HandlePool lends shared, reference counted random-access handles keyed by
// normalized path and the pooled open flags (see PooledFlags).
//
// All borrowers of one path share a single FileObject wrapped in a
// randomaccess.Concurrent, so physical I/O on one file is serialized across
// borrowers. The pool mutex only guards bookkeeping: files are opened and
// closed outside of it.
//
// Entries older than MaxLifetime are not reused. Idle entries are kept in an
// LRU list capped at MaxIdleHandles. Invalidate detaches an entry so the next
// borrower gets a fresh handle; a detached entry is closed when its last
// borrower releases it.
type HandlePool struct {
	name  string
	fs    *FileSystem
	write bool
	opts  PoolOptions
	now   func() time.Time

	mu      sync.Mutex
	entries map[poolKey]*poolEntry
	idle    *list.List
	closed  bool
}

// PooledFlags are the open flags a borrower may request from a pool. Handles
// opened with different pooled flags are pooled separately.
const PooledFlags = FlagSparseFile

type poolKey struct {
	path  string
	flags FileFlags
}

type poolEntry struct {
	key      string
	flags    FileFlags
	file     *FileObject
	access   *randomaccess.Concurrent[byte]
	refs     int
	created  time.Time
	idleElem *list.Element
	detached bool
}

// PooledHandle is one borrowed reference. It must be released exactly once.
type PooledHandle struct {
	*randomaccess.Concurrent[byte]

	pool     *HandlePool
	entry    *poolEntry
	released atomic.Bool
}

// File returns the shared FileObject behind the handle.
func (h *PooledHandle) File() *FileObject {
	return h.entry.file
}

// Path returns the normalized path of the handle.
func (h *PooledHandle) Path() string {
	return h.entry.key
}

// Release returns the reference to the pool. When this was the last reference
// to an expired or invalidated entry the file is closed and the close error
// returned. Releasing twice is a no-op.
func (h *PooledHandle) Release(ctx context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	return h.pool.release(ctx, h.entry)
}

func newHandlePool(name string, fs *FileSystem, write bool, opts PoolOptions) *HandlePool {
	if opts.MaxIdleHandles <= 0 {
		opts.MaxIdleHandles = DefaultMaxIdleHandles
	}
	return &HandlePool{
		name:    name,
		fs:      fs,
		write:   write,
		opts:    opts,
		now:     time.Now,
		entries: make(map[poolKey]*poolEntry),
		idle:    list.New(),
	}
}

// Get borrows the handle for the normalized path, opening it when needed.
// Flags outside PooledFlags are ignored.
func (p *HandlePool) Get(ctx context.Context, path string, flags FileFlags) (*PooledHandle, error) {
	var stale []*poolEntry
	key := poolKey{path: path, flags: flags & PooledFlags}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, NewError("pool", path, ErrClosed)
	}
	if e, ok := p.entries[key]; ok {
		if !p.expiredLocked(e) {
			h := p.acquireLocked(e)
			p.mu.Unlock()
			return h, nil
		}
		stale = p.detachLocked(e, stale)
	}
	p.mu.Unlock()
	p.closeEntries(ctx, stale)

	file, err := p.fs.openPooled(ctx, path, p.write, key.flags)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = file.Close(ctx)
		return nil, NewError("pool", path, ErrClosed)
	}
	if e, ok := p.entries[key]; ok && !p.expiredLocked(e) {
		// Another borrower opened it first.
		h := p.acquireLocked(e)
		p.mu.Unlock()
		if err := file.Close(ctx); err != nil {
			logger.Warn("Failed to close duplicate pooled handle for %s: %v", path, err)
		}
		return h, nil
	}
	e := &poolEntry{
		key:     path,
		flags:   key.flags,
		file:    file,
		access:  randomaccess.NewConcurrent[byte](file),
		created: p.now(),
	}
	p.entries[key] = e
	h := p.acquireLocked(e)
	size := len(p.entries)
	p.mu.Unlock()

	logger.Debug("Pool %s opened %s (%d entries)", p.name, path, size)
	p.fs.reportPool(p.name, size)
	return h, nil
}

func (p *HandlePool) acquireLocked(e *poolEntry) *PooledHandle {
	if e.idleElem != nil {
		p.idle.Remove(e.idleElem)
		e.idleElem = nil
	}
	e.refs++
	return &PooledHandle{Concurrent: e.access, pool: p, entry: e}
}

func (p *HandlePool) expiredLocked(e *poolEntry) bool {
	return p.opts.MaxLifetime > 0 && p.now().Sub(e.created) >= p.opts.MaxLifetime
}

// detachLocked removes e from the map. Idle entries are appended to toClose;
// busy ones are closed by their last release.
func (p *HandlePool) detachLocked(e *poolEntry, toClose []*poolEntry) []*poolEntry {
	key := poolKey{path: e.key, flags: e.flags}
	if cur, ok := p.entries[key]; ok && cur == e {
		delete(p.entries, key)
	}
	e.detached = true
	if e.refs == 0 {
		if e.idleElem != nil {
			p.idle.Remove(e.idleElem)
			e.idleElem = nil
		}
		toClose = append(toClose, e)
	}
	return toClose
}

func (p *HandlePool) release(ctx context.Context, e *poolEntry) error {
	var toClose []*poolEntry

	p.mu.Lock()
	e.refs--
	if e.refs == 0 {
		if e.detached || p.closed || p.expiredLocked(e) {
			toClose = p.detachLocked(e, toClose)
		} else {
			e.idleElem = p.idle.PushFront(e)
			for p.idle.Len() > p.opts.MaxIdleHandles {
				oldest := p.idle.Back().Value.(*poolEntry)
				toClose = p.detachLocked(oldest, toClose)
			}
		}
	}
	size := len(p.entries)
	p.mu.Unlock()

	p.fs.reportPool(p.name, size)
	return p.closeEntries(ctx, toClose)
}

func (p *HandlePool) closeEntries(ctx context.Context, entries []*poolEntry) error {
	var errs []error
	for _, e := range entries {
		logger.Debug("Pool %s closing %s", p.name, e.key)
		if err := e.file.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to close pooled handle for %s: %v", e.key, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Invalidate detaches the entry for path, if any.
func (p *HandlePool) Invalidate(ctx context.Context, path string) error {
	return p.InvalidateFunc(ctx, func(key string) bool { return key == path })
}

// InvalidateFunc detaches every entry whose path matches.
func (p *HandlePool) InvalidateFunc(ctx context.Context, match func(path string) bool) error {
	var toClose []*poolEntry

	p.mu.Lock()
	for key, e := range p.entries {
		if match(key.path) {
			toClose = p.detachLocked(e, toClose)
		}
	}
	size := len(p.entries)
	p.mu.Unlock()

	p.fs.reportPool(p.name, size)
	return p.closeEntries(ctx, toClose)
}

// Len returns the number of entries currently pooled.
func (p *HandlePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Stats returns the number of pooled entries and how many of them are idle.
func (p *HandlePool) Stats() (entries, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries), p.idle.Len()
}

// Close detaches every entry. Idle files are closed now, busy ones on release.
func (p *HandlePool) Close(ctx context.Context) error {
	var toClose []*poolEntry

	p.mu.Lock()
	p.closed = true
	for _, e := range p.entries {
		toClose = p.detachLocked(e, toClose)
	}
	p.mu.Unlock()

	p.fs.reportPool(p.name, 0)
	return p.closeEntries(ctx, toClose)
}
