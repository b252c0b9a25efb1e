package vfs

import "time"

const (
	// CurrentDirectoryName is the name of the synthetic first entry of every
	// enumeration.
	CurrentDirectoryName = "."

	// ParentDirectoryName is the name of the optional second entry.
	ParentDirectoryName = ".."
)

// FileSystemEntity is one row of a directory listing.
//
// Entities are produced by enumeration and treated as immutable values. The
// only mutation is MergeShard, used to fold several physical shards of a
// split file into one logical entry.
type FileSystemEntity struct {
	Name               string
	FullPath           string
	Size               int64
	PhysicalSize       int64
	Attributes         FileAttributes
	CreationTime       time.Time
	LastWriteTime      time.Time
	LastAccessTime     time.Time
	SymbolicLinkTarget string
}

// IsDirectory reports whether the entry is a directory.
func (e *FileSystemEntity) IsDirectory() bool {
	return e.Attributes&AttrDirectory != 0
}

// IsSymbolicLink reports whether the entry is a symbolic link.
func (e *FileSystemEntity) IsSymbolicLink() bool {
	return e.SymbolicLinkTarget != "" || e.Attributes&AttrReparsePoint != 0
}

// IsCurrentDirectory reports whether the entry is the synthetic "." entry.
func (e *FileSystemEntity) IsCurrentDirectory() bool {
	return e.Name == CurrentDirectoryName
}

// IsParentDirectory reports whether the entry is the synthetic ".." entry.
func (e *FileSystemEntity) IsParentDirectory() bool {
	return e.Name == ParentDirectoryName
}

// MergeShard folds one shard that starts at logical offset into e.
//
// Size becomes the furthest logical end seen, physical sizes add up, the
// creation time is the earliest and the write and access times the latest.
func (e *FileSystemEntity) MergeShard(shard *FileSystemEntity, offset int64) {
	e.Size = max(e.Size, offset+shard.Size)
	e.PhysicalSize += shard.PhysicalSize
	e.CreationTime = earliest(e.CreationTime, shard.CreationTime)
	e.LastWriteTime = latest(e.LastWriteTime, shard.LastWriteTime)
	e.LastAccessTime = latest(e.LastAccessTime, shard.LastAccessTime)
}

// Metadata converts the entity into a FileMetadata with all times and the
// attributes set.
func (e *FileSystemEntity) Metadata() *FileMetadata {
	md := &FileMetadata{
		IsDirectory:  e.IsDirectory(),
		Size:         e.Size,
		PhysicalSize: e.PhysicalSize,
		Attributes:   AttrPtr(e.Attributes),
	}
	if !e.CreationTime.IsZero() {
		md.CreationTime = TimePtr(e.CreationTime)
	}
	if !e.LastWriteTime.IsZero() {
		md.LastWriteTime = TimePtr(e.LastWriteTime)
	}
	if !e.LastAccessTime.IsZero() {
		md.LastAccessTime = TimePtr(e.LastAccessTime)
	}
	return md
}

// EntityFromMetadata builds a listing row from metadata.
func EntityFromMetadata(name, fullPath string, md *FileMetadata) FileSystemEntity {
	e := FileSystemEntity{
		Name:         name,
		FullPath:     fullPath,
		Size:         md.Size,
		PhysicalSize: md.PhysicalSize,
		Attributes:   md.AttributesOrDefault(),
	}
	if md.IsDirectory {
		e.Attributes |= AttrDirectory
	}
	if md.CreationTime != nil {
		e.CreationTime = *md.CreationTime
	}
	if md.LastWriteTime != nil {
		e.LastWriteTime = *md.LastWriteTime
	}
	if md.LastAccessTime != nil {
		e.LastAccessTime = *md.LastAccessTime
	}
	return e
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
