package vfs

import (
	"path"
	"path/filepath"
	"strings"
)

// PathParser knows the path syntax of one backend.
//
// The base FileSystem never manipulates paths with string operations directly;
// it always goes through the backend's parser so that host paths and virtual
// slash paths are handled by the same code.
type PathParser interface {
	// Separator returns the element separator.
	Separator() string

	// Join joins elements into one path.
	Join(elem ...string) string

	// Dir returns all but the last element.
	Dir(p string) string

	// Base returns the last element.
	Base(p string) string

	// Ext returns the extension of the last element, including the dot.
	Ext(p string) string

	// Split returns the root and the list of elements below it.
	Split(p string) (root string, elems []string)

	// IsRoot reports whether p addresses the root directory.
	IsRoot(p string) bool

	// CaseSensitive reports whether two paths differing only by case address
	// different entries.
	CaseSensitive() bool
}

// SlashPathParser handles virtual, slash separated absolute paths rooted at
// "/". The in-memory, KV and object-store backends use it.
type SlashPathParser struct {
	// CaseInsensitive makes CaseSensitive report false.
	CaseInsensitive bool
}

func (SlashPathParser) Separator() string { return "/" }

func (SlashPathParser) Join(elem ...string) string { return path.Join(elem...) }

func (SlashPathParser) Dir(p string) string { return path.Dir(p) }

func (SlashPathParser) Base(p string) string { return path.Base(p) }

func (SlashPathParser) Ext(p string) string { return path.Ext(p) }

func (SlashPathParser) Split(p string) (string, []string) {
	clean := CleanSlashPath(p)
	if clean == "/" {
		return "/", nil
	}
	return "/", strings.Split(strings.TrimPrefix(clean, "/"), "/")
}

func (SlashPathParser) IsRoot(p string) bool { return CleanSlashPath(p) == "/" }

func (s SlashPathParser) CaseSensitive() bool { return !s.CaseInsensitive }

// CleanSlashPath returns the canonical absolute form of a virtual path.
// Backslashes are accepted as separators and ".." cannot climb above "/".
func CleanSlashPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean("/" + p)
}

// HostPathParser handles native paths of the running operating system.
type HostPathParser struct{}

func (HostPathParser) Separator() string { return string(filepath.Separator) }

func (HostPathParser) Join(elem ...string) string { return filepath.Join(elem...) }

func (HostPathParser) Dir(p string) string { return filepath.Dir(p) }

func (HostPathParser) Base(p string) string { return filepath.Base(p) }

func (HostPathParser) Ext(p string) string { return filepath.Ext(p) }

func (HostPathParser) Split(p string) (string, []string) {
	clean := filepath.Clean(p)
	vol := filepath.VolumeName(clean)
	rest := clean[len(vol):]
	root := vol
	if strings.HasPrefix(rest, string(filepath.Separator)) {
		root += string(filepath.Separator)
		rest = rest[1:]
	}
	if rest == "" || rest == "." {
		return root, nil
	}
	return root, strings.Split(rest, string(filepath.Separator))
}

func (h HostPathParser) IsRoot(p string) bool {
	_, elems := h.Split(p)
	return len(elems) == 0
}

func (HostPathParser) CaseSensitive() bool { return hostCaseSensitive }

// IsSubPath reports whether child equals parent or lies below it, according
// to parser.
func IsSubPath(parser PathParser, parent, child string) bool {
	pr, pe := parser.Split(parent)
	cr, ce := parser.Split(child)
	if pr != cr || len(ce) < len(pe) {
		return false
	}
	for i := range pe {
		if !sameElement(parser, pe[i], ce[i]) {
			return false
		}
	}
	return true
}

func sameElement(parser PathParser, a, b string) bool {
	if parser.CaseSensitive() {
		return a == b
	}
	return strings.EqualFold(a, b)
}
