package badger

import (
	"encoding/binary"
	"strings"

	"github.com/google/uuid"
)

// Key Namespace Design
// ====================
//
// BadgerDB is a flat key-value store. The tree is laid out over it with
// namespaced key prefixes, one per data type:
//
//   Prefix  | Format                          | Value                | Purpose
//   --------|---------------------------------|----------------------|---------------------------
//   n:      | n:<uuid>                        | JSON nodeData        | File or directory record
//   c:      | c:<parentUUID>:<foldedName>     | child UUID (string)  | Directory entry
//   b:      | b:<uuid>:<index BE uint64>      | raw block bytes      | File content block
//
// Identity:
// Every node has a random UUID; the root directory uses uuid.Nil. Paths are
// never part of a key, so renaming a directory rewrites a single "c:" entry
// and leaves the whole subtree and its content blocks untouched.
//
// Directory Entries:
// The child key carries the folded name: the name itself on a case-sensitive
// tree, its lower-case form on a case-insensitive one. The original spelling
// lives in nodeData.Name. A range scan over "c:<parentUUID>:" lists one
// directory.
//
// Content Blocks:
// File content is cut into fixed-size blocks (nodeData.BlockSize). The index
// is a big-endian uint64 so that blocks sort in file order. Blocks never
// written (holes) have no key and read as zeros. Only the last stored block
// of a file may be shorter than the block size.

const (
	prefixNode  = "n:"
	prefixChild = "c:"
	prefixBlock = "b:"
)

// ========================
// Key Generation Functions
// ========================

// keyNode generates the key of a node record.
//
// Format: "n:<uuid>"
// Example: "n:550e8400-e29b-41d4-a716-446655440000"
func keyNode(id uuid.UUID) []byte {
	return []byte(prefixNode + id.String())
}

// keyChild generates the key of a directory entry.
//
// Format: "c:<parentUUID>:<foldedName>"
// Example: "c:00000000-0000-0000-0000-000000000000:report.pdf"
func keyChild(parentID uuid.UUID, folded string) []byte {
	return []byte(prefixChild + parentID.String() + ":" + folded)
}

// keyChildPrefix generates the prefix of every entry of a directory.
//
// Format: "c:<parentUUID>:"
//
// Use it with an iterator Seek/ValidForPrefix pair to list a directory.
func keyChildPrefix(parentID uuid.UUID) []byte {
	return []byte(prefixChild + parentID.String() + ":")
}

// keyBlock generates the key of one content block.
//
// Format: "b:<uuid>:" followed by 8 bytes of big-endian block index.
func keyBlock(id uuid.UUID, index int64) []byte {
	key := keyBlockPrefix(id)
	return binary.BigEndian.AppendUint64(key, uint64(index))
}

// keyBlockPrefix generates the prefix of every content block of a file.
//
// Format: "b:<uuid>:"
func keyBlockPrefix(id uuid.UUID) []byte {
	return []byte(prefixBlock + id.String() + ":")
}

// blockIndex extracts the block index from a key built by keyBlock.
func blockIndex(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// foldName returns the form of name used in directory entry keys.
func foldName(name string, caseInsensitive bool) string {
	if caseInsensitive {
		return strings.ToLower(name)
	}
	return name
}
