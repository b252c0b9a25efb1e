// Package memory implements a fully in-memory, hierarchical filesystem.
//
// Architecture:
//
// Nodes live in an arena and are addressed by EntityID values (slot index plus
// generation). Directories only reference their children, never their parent,
// so the node graph is a tree by construction and cycles cannot exist. When a
// node is freed its slot generation is bumped, which turns every stale
// EntityID into a detectable ErrStaleEntity instead of a use-after-free.
//
// Each node carries two independent counters:
//   - link ref: how many directories point at it (0 or 1 in this tree model)
//   - handle ref: how many open handles or in-progress path resolutions are
//     using it
//
// A node can only be unlinked while its handle ref is zero, and a directory
// only while it is empty. Recursive deletion is a FileSystem level concern.
//
// Thread Safety:
// All arena state is protected by one mutex. File content is a
// randomaccess.Memory buffer with its own lock, so content I/O never holds
// the arena mutex.
package memory

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/dittovfs/pkg/randomaccess"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

var (
	// ErrStaleEntity indicates an EntityID whose node has been freed.
	ErrStaleEntity = fmt.Errorf("stale entity: %w", vfs.ErrNotFound)

	// ErrAlreadyLinked indicates an attempt to add a node that already has a
	// parent directory.
	ErrAlreadyLinked = fmt.Errorf("entity already linked: %w", vfs.ErrInvalidArgument)

	// ErrNotLinked indicates releasing a link that does not exist.
	ErrNotLinked = fmt.Errorf("entity not linked: %w", vfs.ErrInvalidBackendState)

	// ErrEntityBusy indicates an unlink of a node that still has open handles.
	ErrEntityBusy = fmt.Errorf("entity has open handles: %w", vfs.ErrBusy)

	// ErrHandleUnderflow indicates more handle releases than acquisitions.
	ErrHandleUnderflow = fmt.Errorf("handle reference underflow: %w", vfs.ErrInvalidBackendState)
)

// EntityID addresses one node of the arena.
type EntityID struct {
	index      uint32
	generation uint32
}

// IsZero reports whether id was never assigned.
func (id EntityID) IsZero() bool {
	return id.generation == 0
}

func (id EntityID) String() string {
	return fmt.Sprintf("%d@%d", id.index, id.generation)
}

type nodeKind int

const (
	kindFree nodeKind = iota
	kindDirectory
	kindFile
)

type node struct {
	generation uint32
	kind       nodeKind
	name       string

	linkRef   int
	handleRef int

	children map[string]EntityID
	content  *randomaccess.Memory[byte]

	attributes vfs.FileAttributes
	created    time.Time
	written    time.Time
	accessed   time.Time

	security        *vfs.FileSecurityMetadata
	alternateStream *vfs.FileAlternateStreamMetadata
	author          *vfs.FileAuthorMetadata
}

// Arena owns every node of one virtual tree.
type Arena struct {
	mu    sync.Mutex
	nodes []node
	free  []uint32
	root  EntityID
	now   func() time.Time
}

// NewArena creates an arena holding an empty root directory. The root is
// permanently linked so it can never be removed.
func NewArena() *Arena {
	a := &Arena{now: time.Now}
	a.mu.Lock()
	a.root = a.allocLocked(kindDirectory, "")
	a.nodes[a.root.index].linkRef = 1
	a.mu.Unlock()
	return a
}

// Root returns the root directory.
func (a *Arena) Root() Directory {
	return Directory{Entity{arena: a, id: a.root}}
}

func (a *Arena) allocLocked(kind nodeKind, name string) EntityID {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.nodes = append(a.nodes, node{})
		index = uint32(len(a.nodes) - 1)
	}

	nd := &a.nodes[index]
	gen := nd.generation + 1
	now := a.now()
	*nd = node{
		generation: gen,
		kind:       kind,
		name:       name,
		created:    now,
		written:    now,
		accessed:   now,
	}
	switch kind {
	case kindDirectory:
		nd.children = make(map[string]EntityID)
		nd.attributes = vfs.AttrDirectory
	case kindFile:
		nd.content = randomaccess.NewMemory[byte](nil)
		nd.attributes = vfs.AttrNormal
	}
	return EntityID{index: index, generation: gen}
}

func (a *Arena) freeLocked(id EntityID) {
	nd := &a.nodes[id.index]
	gen := nd.generation
	*nd = node{generation: gen}
	a.free = append(a.free, id.index)
}

func (a *Arena) getLocked(id EntityID) (*node, error) {
	if int(id.index) >= len(a.nodes) {
		return nil, fmt.Errorf("entity %s: %w", id, ErrStaleEntity)
	}
	nd := &a.nodes[id.index]
	if nd.kind == kindFree || nd.generation != id.generation {
		return nil, fmt.Errorf("entity %s: %w", id, ErrStaleEntity)
	}
	return nd, nil
}

// NewRamDirectory allocates an unlinked directory.
func (a *Arena) NewRamDirectory(name string) Directory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Directory{Entity{arena: a, id: a.allocLocked(kindDirectory, name)}}
}

// NewRamFile allocates an unlinked, empty file.
func (a *Arena) NewRamFile(name string) File {
	a.mu.Lock()
	defer a.mu.Unlock()
	return File{Entity{arena: a, id: a.allocLocked(kindFile, name)}}
}

// Len returns the number of live nodes, the root included.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.nodes) - len(a.free)
}

// ============================================================================
// Entities
// ============================================================================

// Entity is a handle on one arena node. It is a small value type; copying it
// does not copy the node.
type Entity struct {
	arena *Arena
	id    EntityID
}

// ID returns the arena address of the entity.
func (e Entity) ID() EntityID { return e.id }

// Name returns the entity name.
func (e Entity) Name() (string, error) {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	nd, err := e.arena.getLocked(e.id)
	if err != nil {
		return "", err
	}
	return nd.name, nil
}

// IsDirectory reports whether the entity is a directory.
func (e Entity) IsDirectory() bool {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	nd, err := e.arena.getLocked(e.id)
	return err == nil && nd.kind == kindDirectory
}

// IsAlive reports whether the node has not been freed.
func (e Entity) IsAlive() bool {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	_, err := e.arena.getLocked(e.id)
	return err == nil
}

// Refs returns the link and handle reference counts.
func (e Entity) Refs() (link, handle int, err error) {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	nd, err := e.arena.getLocked(e.id)
	if err != nil {
		return 0, 0, err
	}
	return nd.linkRef, nd.handleRef, nil
}

// AddHandleRef marks the node busy.
func (e Entity) AddHandleRef() error {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	nd, err := e.arena.getLocked(e.id)
	if err != nil {
		return err
	}
	nd.handleRef++
	return nil
}

// ReleaseHandleRef undoes one AddHandleRef.
func (e Entity) ReleaseHandleRef() error {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	return e.arena.releaseHandleLocked(e.id)
}

func (a *Arena) releaseHandleLocked(id EntityID) error {
	nd, err := a.getLocked(id)
	if err != nil {
		return err
	}
	if nd.handleRef == 0 {
		return fmt.Errorf("entity %s: %w", id, ErrHandleUnderflow)
	}
	nd.handleRef--
	return nil
}

// ReleaseLink drops one link reference and frees the node when none is left.
// It fails while the node has open handles or, for a directory, children.
func (e Entity) ReleaseLink() error {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	return e.arena.releaseLinkLocked(e.id)
}

func (a *Arena) releaseLinkLocked(id EntityID) error {
	nd, err := a.getLocked(id)
	if err != nil {
		return err
	}
	if nd.linkRef == 0 {
		return fmt.Errorf("entity %s: %w", id, ErrNotLinked)
	}
	if nd.handleRef > 0 {
		return fmt.Errorf("entity %s (%d handles): %w", id, nd.handleRef, ErrEntityBusy)
	}
	if len(nd.children) > 0 {
		return fmt.Errorf("entity %s: %w", id, vfs.ErrNotEmpty)
	}
	nd.linkRef--
	if nd.linkRef == 0 {
		a.freeLocked(id)
	}
	return nil
}

// Discard frees a node that was never linked. Linked or busy nodes are left
// untouched and reported.
func (e Entity) Discard() error {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	nd, err := e.arena.getLocked(e.id)
	if err != nil {
		return err
	}
	if nd.linkRef > 0 {
		return fmt.Errorf("entity %s: %w", e.id, ErrAlreadyLinked)
	}
	if nd.handleRef > 0 {
		return fmt.Errorf("entity %s: %w", e.id, ErrEntityBusy)
	}
	e.arena.freeDeepLocked(e.id)
	return nil
}

func (a *Arena) freeDeepLocked(id EntityID) {
	nd := &a.nodes[id.index]
	for _, child := range nd.children {
		a.freeDeepLocked(child)
	}
	a.freeLocked(id)
}

// Metadata returns a snapshot of the node metadata.
func (e Entity) Metadata(flags vfs.FileMetadataGetFlags) (*vfs.FileMetadata, error) {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	nd, err := e.arena.getLocked(e.id)
	if err != nil {
		return nil, err
	}
	return nd.metadataLocked(flags), nil
}

func (nd *node) metadataLocked(flags vfs.FileMetadataGetFlags) *vfs.FileMetadata {
	md := &vfs.FileMetadata{IsDirectory: nd.kind == kindDirectory}
	if nd.content != nil {
		md.Size = nd.content.Len()
		md.PhysicalSize = md.Size
	}
	if flags.Has(vfs.GetAttributes) {
		md.Attributes = vfs.AttrPtr(nd.attributes)
	}
	if flags.Has(vfs.GetTimes) {
		md.CreationTime = vfs.TimePtr(nd.created)
		md.LastWriteTime = vfs.TimePtr(nd.written)
		md.LastAccessTime = vfs.TimePtr(nd.accessed)
	}
	if flags.Has(vfs.GetSecurity) && nd.security != nil {
		sec := *nd.security
		md.Security = &sec
	}
	if flags.Has(vfs.GetAlternateStream) && nd.alternateStream != nil {
		md.AlternateStream = (&vfs.FileMetadata{AlternateStream: nd.alternateStream}).
			Clone(vfs.CopyAlternateStream).AlternateStream
	}
	if flags.Has(vfs.GetAuthor) && nd.author != nil {
		author := *nd.author
		md.Author = &author
	}
	return md
}

// SetMetadata applies the facets of md selected by mode.
func (e Entity) SetMetadata(md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) error {
	e.arena.mu.Lock()
	defer e.arena.mu.Unlock()
	nd, err := e.arena.getLocked(e.id)
	if err != nil {
		return err
	}

	current := nd.metadataLocked(vfs.GetAll)
	md.CopyTo(current, mode)

	nd.attributes = current.AttributesOrDefault()
	if current.CreationTime != nil {
		nd.created = *current.CreationTime
	}
	if current.LastWriteTime != nil {
		nd.written = *current.LastWriteTime
	}
	if current.LastAccessTime != nil {
		nd.accessed = *current.LastAccessTime
	}
	nd.security = current.Security
	nd.alternateStream = current.AlternateStream
	nd.author = current.Author
	return nil
}

func (nd *node) entityLocked(name, fullPath string) vfs.FileSystemEntity {
	e := vfs.FileSystemEntity{
		Name:           name,
		FullPath:       fullPath,
		Attributes:     nd.attributes,
		CreationTime:   nd.created,
		LastWriteTime:  nd.written,
		LastAccessTime: nd.accessed,
	}
	if nd.kind == kindDirectory {
		e.Attributes |= vfs.AttrDirectory
	}
	if nd.content != nil {
		e.Size = nd.content.Len()
		e.PhysicalSize = e.Size
	}
	return e
}

// ============================================================================
// Directories
// ============================================================================

// Directory is an Entity known to be a directory.
type Directory struct {
	Entity
}

func (d Directory) dirLocked() (*node, error) {
	nd, err := d.arena.getLocked(d.id)
	if err != nil {
		return nil, err
	}
	if nd.kind != kindDirectory {
		return nil, fmt.Errorf("entity %s: %w", d.id, vfs.ErrNotDirectory)
	}
	return nd, nil
}

// AddDirectory links child under d using the child's name. The child must
// not be linked anywhere yet.
func (d Directory) AddDirectory(child Directory) error {
	return d.add(child.Entity, kindDirectory)
}

// AddFile links child under d using the child's name. The child must not be
// linked anywhere yet.
func (d Directory) AddFile(child File) error {
	return d.add(child.Entity, kindFile)
}

func (d Directory) add(child Entity, kind nodeKind) error {
	d.arena.mu.Lock()
	defer d.arena.mu.Unlock()

	parent, err := d.dirLocked()
	if err != nil {
		return err
	}
	nd, err := d.arena.getLocked(child.id)
	if err != nil {
		return err
	}
	if nd.kind != kind {
		return fmt.Errorf("entity %s has the wrong kind: %w", child.id, vfs.ErrInvalidArgument)
	}
	if child.id == d.id {
		return fmt.Errorf("entity %s into itself: %w", child.id, vfs.ErrInvalidArgument)
	}
	if nd.linkRef != 0 {
		return fmt.Errorf("entity %s (link ref %d): %w", child.id, nd.linkRef, ErrAlreadyLinked)
	}
	if nd.name == "" || nd.name == vfs.CurrentDirectoryName || nd.name == vfs.ParentDirectoryName {
		return fmt.Errorf("name %q: %w", nd.name, vfs.ErrInvalidArgument)
	}
	if _, exists := parent.children[nd.name]; exists {
		return fmt.Errorf("%s: %w", nd.name, vfs.ErrAlreadyExists)
	}

	nd.linkRef = 1
	parent.children[nd.name] = child.id
	parent.written = d.arena.now()
	return nil
}

// RemoveDirectory unlinks the empty, unreferenced child directory name.
func (d Directory) RemoveDirectory(name string) error {
	return d.remove(name, kindDirectory)
}

// RemoveFile unlinks the unreferenced child file name.
func (d Directory) RemoveFile(name string) error {
	return d.remove(name, kindFile)
}

func (d Directory) remove(name string, kind nodeKind) error {
	d.arena.mu.Lock()
	defer d.arena.mu.Unlock()

	parent, err := d.dirLocked()
	if err != nil {
		return err
	}
	id, ok := parent.children[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, vfs.ErrNotFound)
	}
	nd, err := d.arena.getLocked(id)
	if err != nil {
		return err
	}
	switch {
	case kind == kindFile && nd.kind == kindDirectory:
		return fmt.Errorf("%s: %w", name, vfs.ErrIsDirectory)
	case kind == kindDirectory && nd.kind == kindFile:
		return fmt.Errorf("%s: %w", name, vfs.ErrNotDirectory)
	case nd.kind == kindDirectory && len(nd.children) > 0:
		return fmt.Errorf("%s: %w", name, vfs.ErrNotEmpty)
	case nd.handleRef > 0:
		return fmt.Errorf("%s (%d handles): %w", name, nd.handleRef, ErrEntityBusy)
	}

	delete(parent.children, name)
	parent.written = d.arena.now()
	return d.arena.releaseLinkLocked(id)
}

// Child returns the entity called name.
func (d Directory) Child(name string) (Entity, error) {
	d.arena.mu.Lock()
	defer d.arena.mu.Unlock()

	parent, err := d.dirLocked()
	if err != nil {
		return Entity{}, err
	}
	id, ok := parent.children[name]
	if !ok {
		return Entity{}, fmt.Errorf("%s: %w", name, vfs.ErrNotFound)
	}
	return Entity{arena: d.arena, id: id}, nil
}

// Names returns the sorted child names.
func (d Directory) Names() ([]string, error) {
	d.arena.mu.Lock()
	defer d.arena.mu.Unlock()

	parent, err := d.dirLocked()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(parent.children))
	for name := range parent.children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Entities lists d as "." followed by its children sorted by name. fullPath is
// the path of d; children paths are built with join.
func (d Directory) Entities(fullPath string, join func(dir, name string) string) ([]vfs.FileSystemEntity, error) {
	d.arena.mu.Lock()
	defer d.arena.mu.Unlock()

	parent, err := d.dirLocked()
	if err != nil {
		return nil, err
	}
	out := make([]vfs.FileSystemEntity, 0, len(parent.children)+1)
	out = append(out, parent.entityLocked(vfs.CurrentDirectoryName, fullPath))

	names := make([]string, 0, len(parent.children))
	for name := range parent.children {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		child, err := d.arena.getLocked(parent.children[name])
		if err != nil {
			return nil, err
		}
		out = append(out, child.entityLocked(name, join(fullPath, name)))
	}
	parent.accessed = d.arena.now()
	return out, nil
}

// MoveChild moves the child name of d into dst under newName. An existing
// destination file is replaced when overwrite is set; an existing directory
// is never replaced.
func (d Directory) MoveChild(name string, dst Directory, newName string, overwrite bool) error {
	d.arena.mu.Lock()
	defer d.arena.mu.Unlock()

	src, err := d.dirLocked()
	if err != nil {
		return err
	}
	target, err := dst.dirLocked()
	if err != nil {
		return err
	}
	id, ok := src.children[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, vfs.ErrNotFound)
	}
	if d.id == dst.id && name == newName {
		return nil
	}
	if d.arena.containsLocked(id, dst.id) {
		return fmt.Errorf("%s into its own subtree: %w", name, vfs.ErrInvalidArgument)
	}

	if existingID, exists := target.children[newName]; exists {
		existing, err := d.arena.getLocked(existingID)
		if err != nil {
			return err
		}
		if !overwrite || existing.kind == kindDirectory {
			return fmt.Errorf("%s: %w", newName, vfs.ErrAlreadyExists)
		}
		if existing.handleRef > 0 {
			return fmt.Errorf("%s (%d handles): %w", newName, existing.handleRef, ErrEntityBusy)
		}
		delete(target.children, newName)
		if err := d.arena.releaseLinkLocked(existingID); err != nil {
			return err
		}
	}

	nd, err := d.arena.getLocked(id)
	if err != nil {
		return err
	}
	delete(src.children, name)
	target.children[newName] = id
	nd.name = newName

	now := d.arena.now()
	src.written = now
	target.written = now
	return nil
}

// containsLocked reports whether node id is ancestor or equal to other.
func (a *Arena) containsLocked(id, other EntityID) bool {
	if id == other {
		return true
	}
	nd := &a.nodes[id.index]
	for _, child := range nd.children {
		if a.containsLocked(child, other) {
			return true
		}
	}
	return false
}

// ============================================================================
// Files
// ============================================================================

// File is an Entity known to be a file.
type File struct {
	Entity
}

func (f File) fileLocked() (*node, error) {
	nd, err := f.arena.getLocked(f.id)
	if err != nil {
		return nil, err
	}
	if nd.kind != kindFile {
		return nil, fmt.Errorf("entity %s: %w", f.id, vfs.ErrIsDirectory)
	}
	return nd, nil
}

// content returns the buffer of the file and stamps the access time, or the
// write time when write is set.
func (f File) content(write bool) (*randomaccess.Memory[byte], error) {
	f.arena.mu.Lock()
	defer f.arena.mu.Unlock()

	nd, err := f.fileLocked()
	if err != nil {
		return nil, err
	}
	now := f.arena.now()
	nd.accessed = now
	if write {
		nd.written = now
	}
	return nd.content, nil
}
