package memory

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// NotFoundError is returned by ParsePath when an element is missing.
//
// ResolvedCount is the number of elements below the root that were found
// before the missing one. Create operations use it to tell "only the last
// element is missing" (ResolvedCount == len(elements)-1) from "an
// intermediate directory is missing".
type NotFoundError struct {
	Path          string
	ResolvedCount int
	Missing       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: element %q (after %d resolved) not found", e.Path, e.Missing, e.ResolvedCount)
}

// Is makes errors.Is(err, vfs.ErrNotFound) hold.
func (e *NotFoundError) Is(target error) bool {
	return target == vfs.ErrNotFound
}

// ParseContext is the result of a successful ParsePath. It holds a handle
// reference on every node from the root to the target so none of them can be
// unlinked until Close is called.
type ParseContext struct {
	arena    *Arena
	path     string
	elements []string
	ids      []EntityID
	once     sync.Once
}

// Path returns the parsed path.
func (pc *ParseContext) Path() string { return pc.path }

// Elements returns the path elements below the root.
func (pc *ParseContext) Elements() []string { return pc.elements }

// Target returns the entity the path resolved to.
func (pc *ParseContext) Target() Entity {
	return Entity{arena: pc.arena, id: pc.ids[len(pc.ids)-1]}
}

// Parent returns the directory holding the target. For the root it returns
// the root itself.
func (pc *ParseContext) Parent() Directory {
	if len(pc.ids) < 2 {
		return Directory{pc.Target()}
	}
	return Directory{Entity{arena: pc.arena, id: pc.ids[len(pc.ids)-2]}}
}

// Close releases the handle references. Only the first call has an effect.
func (pc *ParseContext) Close() error {
	var err error
	pc.once.Do(func() {
		pc.arena.mu.Lock()
		defer pc.arena.mu.Unlock()
		err = pc.arena.releaseAllLocked(pc.ids)
	})
	return err
}

func (a *Arena) releaseAllLocked(ids []EntityID) error {
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := a.releaseHandleLocked(ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SplitPath turns a slash path into its elements below the root.
func SplitPath(path string) []string {
	clean := vfs.CleanSlashPath(path)
	if clean == "/" {
		return nil
	}
	return strings.Split(clean[1:], "/")
}

// ParsePath resolves path one element at a time starting at the root,
// acquiring a handle reference on every node it traverses. On failure every
// reference taken so far is released.
func (a *Arena) ParsePath(path string) (*ParseContext, error) {
	elements := SplitPath(path)

	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]EntityID, 0, len(elements)+1)
	fail := func(err error) (*ParseContext, error) {
		_ = a.releaseAllLocked(ids)
		return nil, err
	}

	root, err := a.getLocked(a.root)
	if err != nil {
		return nil, err
	}
	root.handleRef++
	ids = append(ids, a.root)
	current := root

	for i, elem := range elements {
		if current.kind != kindDirectory {
			return fail(fmt.Errorf("%s: %s: %w", path, strings.Join(elements[:i], "/"), vfs.ErrNotDirectory))
		}
		id, ok := current.children[elem]
		if !ok {
			return fail(&NotFoundError{Path: path, ResolvedCount: i, Missing: elem})
		}
		nd, err := a.getLocked(id)
		if err != nil {
			return fail(err)
		}
		nd.handleRef++
		ids = append(ids, id)
		current = nd
	}

	return &ParseContext{arena: a, path: path, elements: elements, ids: ids}, nil
}

// IsOnlyLastMissing reports whether err is a NotFoundError for the final
// element of a path with the given number of elements.
func IsOnlyLastMissing(err error, elements int) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.ResolvedCount == elements-1
}
