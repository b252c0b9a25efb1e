package vfs

import (
	"slices"
	"time"
)

// FileAttributes mirrors the classic attribute bitset found on desktop
// filesystems. Backends that lack a concept simply never set its bit.
type FileAttributes uint32

const (
	AttrReadOnly          FileAttributes = 0x1
	AttrHidden            FileAttributes = 0x2
	AttrSystem            FileAttributes = 0x4
	AttrDirectory         FileAttributes = 0x10
	AttrArchive           FileAttributes = 0x20
	AttrNormal            FileAttributes = 0x80
	AttrTemporary         FileAttributes = 0x100
	AttrSparseFile        FileAttributes = 0x200
	AttrReparsePoint      FileAttributes = 0x400
	AttrCompressed        FileAttributes = 0x800
	AttrOffline           FileAttributes = 0x1000
	AttrNotContentIndexed FileAttributes = 0x2000
	AttrEncrypted         FileAttributes = 0x4000
)

// Has reports whether all bits of other are set.
func (a FileAttributes) Has(other FileAttributes) bool {
	return a&other == other
}

// FileSecurityMetadata holds SDDL-like descriptor strings. Empty fields mean
// "not fetched" or "not supported".
type FileSecurityMetadata struct {
	Owner string `json:"owner,omitempty"`
	Group string `json:"group,omitempty"`
	Acl   string `json:"acl,omitempty"`
	Audit string `json:"audit,omitempty"`
}

// IsEmpty reports whether no facet is set.
func (s *FileSecurityMetadata) IsEmpty() bool {
	return s == nil || (s.Owner == "" && s.Group == "" && s.Acl == "" && s.Audit == "")
}

// AlternateStreamItem is one named side stream of a file.
type AlternateStreamItem struct {
	Name string `json:"name"`
	Data []byte `json:"data,omitempty"`
}

// FileAlternateStreamMetadata lists the alternate streams of a file.
type FileAlternateStreamMetadata struct {
	Items []AlternateStreamItem `json:"items,omitempty"`
}

// FileAuthorMetadata records who produced the current content.
type FileAuthorMetadata struct {
	Author   string `json:"author,omitempty"`
	CommitID string `json:"commit_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// FileMetadata describes a file or directory.
//
// Optional facets are pointers: nil means "not present / not requested".
// Backends fill only the facets selected by the FileMetadataGetFlags they are
// called with.
type FileMetadata struct {
	IsDirectory  bool  `json:"is_directory"`
	Size         int64 `json:"size"`
	PhysicalSize int64 `json:"physical_size"`

	Attributes     *FileAttributes `json:"attributes,omitempty"`
	CreationTime   *time.Time      `json:"creation_time,omitempty"`
	LastWriteTime  *time.Time      `json:"last_write_time,omitempty"`
	LastAccessTime *time.Time      `json:"last_access_time,omitempty"`

	Security        *FileSecurityMetadata        `json:"security,omitempty"`
	AlternateStream *FileAlternateStreamMetadata `json:"alternate_stream,omitempty"`
	Author          *FileAuthorMetadata          `json:"author,omitempty"`
}

// FileMetadataCopyMode selects which facets Clone and CopyTo propagate.
type FileMetadataCopyMode uint32

const (
	CopyNone            FileMetadataCopyMode = 0
	CopyAttributes      FileMetadataCopyMode = 1 << 0
	CopyCreationTime    FileMetadataCopyMode = 1 << 1
	CopyLastWriteTime   FileMetadataCopyMode = 1 << 2
	CopyLastAccessTime  FileMetadataCopyMode = 1 << 3
	CopySecurityOwner   FileMetadataCopyMode = 1 << 4
	CopySecurityGroup   FileMetadataCopyMode = 1 << 5
	CopySecurityAcl     FileMetadataCopyMode = 1 << 6
	CopySecurityAudit   FileMetadataCopyMode = 1 << 7
	CopyAlternateStream FileMetadataCopyMode = 1 << 8
	CopyAuthor          FileMetadataCopyMode = 1 << 9

	CopyTimeAll     = CopyCreationTime | CopyLastWriteTime | CopyLastAccessTime
	CopySecurityAll = CopySecurityOwner | CopySecurityGroup | CopySecurityAcl | CopySecurityAudit
	CopyAll         = CopyAttributes | CopyTimeAll | CopySecurityAll | CopyAlternateStream | CopyAuthor

	// CopyDefault is what file copies use unless told otherwise.
	CopyDefault = CopyAttributes | CopyTimeAll
)

// FileMetadataGetFlags tells a backend which expensive facets to fetch.
// Size, physical size and the directory bit are always returned.
type FileMetadataGetFlags uint32

const (
	GetBasic           FileMetadataGetFlags = 0
	GetAttributes      FileMetadataGetFlags = 1 << 0
	GetTimes           FileMetadataGetFlags = 1 << 1
	GetSecurity        FileMetadataGetFlags = 1 << 2
	GetAlternateStream FileMetadataGetFlags = 1 << 3
	GetAuthor          FileMetadataGetFlags = 1 << 4

	GetAll = GetAttributes | GetTimes | GetSecurity | GetAlternateStream | GetAuthor
)

// Has reports whether all bits of other are set.
func (m FileMetadataCopyMode) Has(other FileMetadataCopyMode) bool {
	return m&other == other
}

// GetFlags returns the facets a backend must fetch to honor m.
func (m FileMetadataCopyMode) GetFlags() FileMetadataGetFlags {
	var f FileMetadataGetFlags
	if m&CopyAttributes != 0 {
		f |= GetAttributes
	}
	if m&CopyTimeAll != 0 {
		f |= GetTimes
	}
	if m&CopySecurityAll != 0 {
		f |= GetSecurity
	}
	if m&CopyAlternateStream != 0 {
		f |= GetAlternateStream
	}
	if m&CopyAuthor != 0 {
		f |= GetAuthor
	}
	return f
}

// Has reports whether all bits of other are set.
func (f FileMetadataGetFlags) Has(other FileMetadataGetFlags) bool {
	return f&other == other
}

// Clone returns a new FileMetadata holding only the facets selected by mode.
// Size, physical size and the directory bit are always copied.
func (m *FileMetadata) Clone(mode FileMetadataCopyMode) *FileMetadata {
	dst := &FileMetadata{
		IsDirectory:  m.IsDirectory,
		Size:         m.Size,
		PhysicalSize: m.PhysicalSize,
	}
	m.CopyTo(dst, mode)
	return dst
}

// CopyTo overwrites the facets of dst selected by mode with those of m.
//
// A non-directory never ends up with zero attributes: when the source has
// none (or zero) AttrNormal is used. Directories always carry AttrDirectory.
func (m *FileMetadata) CopyTo(dst *FileMetadata, mode FileMetadataCopyMode) {
	if mode.Has(CopyAttributes) {
		var attrs FileAttributes
		if m.Attributes != nil {
			attrs = *m.Attributes
		}
		if dst.IsDirectory {
			attrs |= AttrDirectory
		} else if attrs == 0 {
			attrs = AttrNormal
		}
		dst.Attributes = &attrs
	}

	if mode.Has(CopyCreationTime) {
		dst.CreationTime = cloneTime(m.CreationTime)
	}
	if mode.Has(CopyLastWriteTime) {
		dst.LastWriteTime = cloneTime(m.LastWriteTime)
	}
	if mode.Has(CopyLastAccessTime) {
		dst.LastAccessTime = cloneTime(m.LastAccessTime)
	}

	if mode&CopySecurityAll != 0 && m.Security != nil {
		sec := FileSecurityMetadata{}
		if dst.Security != nil {
			sec = *dst.Security
		}
		if mode.Has(CopySecurityOwner) {
			sec.Owner = m.Security.Owner
		}
		if mode.Has(CopySecurityGroup) {
			sec.Group = m.Security.Group
		}
		if mode.Has(CopySecurityAcl) {
			sec.Acl = m.Security.Acl
		}
		if mode.Has(CopySecurityAudit) {
			sec.Audit = m.Security.Audit
		}
		if !sec.IsEmpty() {
			dst.Security = &sec
		}
	}

	if mode.Has(CopyAlternateStream) && m.AlternateStream != nil {
		items := make([]AlternateStreamItem, len(m.AlternateStream.Items))
		for i, it := range m.AlternateStream.Items {
			items[i] = AlternateStreamItem{Name: it.Name, Data: slices.Clone(it.Data)}
		}
		dst.AlternateStream = &FileAlternateStreamMetadata{Items: items}
	}

	if mode.Has(CopyAuthor) && m.Author != nil {
		author := *m.Author
		dst.Author = &author
	}
}

// AttributesOrDefault returns the attributes, synthesizing AttrDirectory or
// AttrNormal when none were fetched.
func (m *FileMetadata) AttributesOrDefault() FileAttributes {
	if m.Attributes != nil && *m.Attributes != 0 {
		return *m.Attributes
	}
	if m.IsDirectory {
		return AttrDirectory
	}
	return AttrNormal
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// AttrPtr returns a pointer to a.
func AttrPtr(a FileAttributes) *FileAttributes {
	return &a
}
