package badger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Serialization Strategy
// ======================
//
// Node records are JSON: they are small, read far less often than content
// blocks, and easy to inspect with badger's own tooling. Content blocks are
// stored as raw bytes and directory entries as the child UUID string.

// nodeData is the stored record of a file or directory.
type nodeData struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Directory bool      `json:"directory,omitempty"`

	// Size is the logical size of a file. Blocks past it are never kept.
	Size int64 `json:"size,omitempty"`

	// BlockSize is fixed when the file is created so that changing the
	// configuration never reinterprets existing content.
	BlockSize int64 `json:"block_size,omitempty"`

	Attributes vfs.FileAttributes `json:"attributes"`
	Created    time.Time          `json:"created"`
	Written    time.Time          `json:"written"`
	Accessed   time.Time          `json:"accessed"`

	Security        *vfs.FileSecurityMetadata        `json:"security,omitempty"`
	AlternateStream *vfs.FileAlternateStreamMetadata `json:"alternate_stream,omitempty"`
	Author          *vfs.FileAuthorMetadata          `json:"author,omitempty"`
}

// encodeNode serializes a node record to JSON bytes.
func encodeNode(nd *nodeData) ([]byte, error) {
	bytes, err := json.Marshal(nd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node %s: %w", nd.ID, err)
	}
	return bytes, nil
}

// decodeNode deserializes a node record from JSON bytes.
func decodeNode(bytes []byte) (*nodeData, error) {
	var nd nodeData
	if err := json.Unmarshal(bytes, &nd); err != nil {
		return nil, fmt.Errorf("failed to decode node: %w", err)
	}
	return &nd, nil
}

// metadata converts the record into the facets selected by flags. The
// physical size is filled in by the caller.
func (nd *nodeData) metadata(flags vfs.FileMetadataGetFlags) *vfs.FileMetadata {
	md := &vfs.FileMetadata{IsDirectory: nd.Directory, Size: nd.Size}
	if flags.Has(vfs.GetAttributes) {
		md.Attributes = vfs.AttrPtr(nd.attributes())
	}
	if flags.Has(vfs.GetTimes) {
		md.CreationTime = vfs.TimePtr(nd.Created)
		md.LastWriteTime = vfs.TimePtr(nd.Written)
		md.LastAccessTime = vfs.TimePtr(nd.Accessed)
	}
	if flags.Has(vfs.GetSecurity) && nd.Security != nil {
		sec := *nd.Security
		md.Security = &sec
	}
	if flags.Has(vfs.GetAlternateStream) && nd.AlternateStream != nil {
		md.AlternateStream = (&vfs.FileMetadata{AlternateStream: nd.AlternateStream}).
			Clone(vfs.CopyAlternateStream).AlternateStream
	}
	if flags.Has(vfs.GetAuthor) && nd.Author != nil {
		author := *nd.Author
		md.Author = &author
	}
	return md
}

// apply overwrites the facets of the record selected by mode.
func (nd *nodeData) apply(md *vfs.FileMetadata, mode vfs.FileMetadataCopyMode) {
	current := nd.metadata(vfs.GetAll)
	md.CopyTo(current, mode)

	nd.Attributes = current.AttributesOrDefault() &^ vfs.AttrDirectory
	if current.CreationTime != nil {
		nd.Created = *current.CreationTime
	}
	if current.LastWriteTime != nil {
		nd.Written = *current.LastWriteTime
	}
	if current.LastAccessTime != nil {
		nd.Accessed = *current.LastAccessTime
	}
	nd.Security = current.Security
	nd.AlternateStream = current.AlternateStream
	nd.Author = current.Author
}

func (nd *nodeData) attributes() vfs.FileAttributes {
	attrs := nd.Attributes
	if nd.Directory {
		return attrs | vfs.AttrDirectory
	}
	if attrs == 0 {
		return vfs.AttrNormal
	}
	return attrs
}

func (nd *nodeData) entity(fullPath string, physical int64) vfs.FileSystemEntity {
	return vfs.FileSystemEntity{
		Name:           nd.Name,
		FullPath:       fullPath,
		Size:           nd.Size,
		PhysicalSize:   physical,
		Attributes:     nd.attributes(),
		CreationTime:   nd.Created,
		LastWriteTime:  nd.Written,
		LastAccessTime: nd.Accessed,
	}
}
