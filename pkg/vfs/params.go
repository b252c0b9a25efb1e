package vfs

import "strings"

// FileMode selects how OpenFile treats an existing or missing file.
type FileMode int

const (
	// ModeOpen opens an existing file; a missing file is ErrNotFound.
	ModeOpen FileMode = iota

	// ModeCreate creates the file, truncating it when it already exists.
	ModeCreate

	// ModeCreateNew creates the file; an existing file is ErrAlreadyExists.
	ModeCreateNew

	// ModeOpenOrCreate opens the file, creating it empty when missing.
	ModeOpenOrCreate

	// ModeAppend opens or creates the file with the cursor at the end.
	ModeAppend

	// ModeTruncate opens an existing file and truncates it to zero.
	ModeTruncate
)

func (m FileMode) String() string {
	switch m {
	case ModeOpen:
		return "open"
	case ModeCreate:
		return "create"
	case ModeCreateNew:
		return "create-new"
	case ModeOpenOrCreate:
		return "open-or-create"
	case ModeAppend:
		return "append"
	case ModeTruncate:
		return "truncate"
	default:
		return "unknown"
	}
}

// CreatesFile reports whether the mode may create a missing file.
func (m FileMode) CreatesFile() bool {
	return m == ModeCreate || m == ModeCreateNew || m == ModeOpenOrCreate || m == ModeAppend
}

// FileAccess is the set of operations a handle may perform.
type FileAccess int

const (
	AccessRead      FileAccess = 1
	AccessWrite     FileAccess = 2
	AccessReadWrite            = AccessRead | AccessWrite
)

// FileShare is the sharing mode requested from backends that honor it.
type FileShare int

const (
	ShareNone   FileShare = 0
	ShareRead   FileShare = 1
	ShareWrite  FileShare = 2
	ShareDelete FileShare = 4
)

// FileFlags toggles behavior of a FileObject.
type FileFlags uint32

const (
	FlagNone FileFlags = 0

	// FlagNoPartialRead turns a short read into ErrPartialRead.
	FlagNoPartialRead FileFlags = 1 << iota

	// FlagRandomAccessOnly marks handles used only through ReadRandom and
	// WriteRandom; the cursor is never moved.
	FlagRandomAccessOnly

	// FlagAutoCreateDirectory creates missing parent directories on open.
	FlagAutoCreateDirectory

	// FlagSparseFile lets backends leave holes instead of writing zeros.
	FlagSparseFile

	// FlagWriteOnlyIfChanged skips the backend write when the target range
	// already holds identical bytes.
	FlagWriteOnlyIfChanged

	// FlagDeleteFileOnClose removes the file when the handle is closed.
	FlagDeleteFileOnClose

	// FlagDeleteParentDirOnClose also removes the parent directory on close,
	// but only when it became empty.
	FlagDeleteParentDirOnClose

	// FlagNoCheckFileSize disables the position <= size check.
	FlagNoCheckFileSize

	// FlagLargeFsProhibitWriteWithCrossBorder rejects writes that span shards.
	FlagLargeFsProhibitWriteWithCrossBorder

	// FlagLargeFsAppendWithoutCrossBorder zero-pads the current shard when an
	// append would cross into the next one.
	FlagLargeFsAppendWithoutCrossBorder

	// FlagLargeFsAppendNewLineForCrossBorder is like
	// FlagLargeFsAppendWithoutCrossBorder but writes a line terminator first.
	FlagLargeFsAppendNewLineForCrossBorder

	// FlagBackupMode asks backends to bypass permission checks where possible.
	FlagBackupMode

	// FlagOnCreateSetCompressionFlag marks newly created files as compressed.
	FlagOnCreateSetCompressionFlag
)

// Has reports whether all bits of other are set.
func (f FileFlags) Has(other FileFlags) bool {
	return f&other == other
}

// FileParameters describes one open request.
//
// Access always includes AccessRead: FileObject needs to query size and read
// back data internally even for write-only requests. Use NewFileParameters or
// Normalize to enforce this.
type FileParameters struct {
	Path   string
	Mode   FileMode
	Access FileAccess
	Share  FileShare
	Flags  FileFlags
}

// NewFileParameters builds a parameter set with AccessRead forced on.
func NewFileParameters(path string, mode FileMode, access FileAccess, share FileShare, flags FileFlags) FileParameters {
	p := FileParameters{Path: path, Mode: mode, Access: access, Share: share, Flags: flags}
	p.Normalize()
	return p
}

// Normalize forces AccessRead on. Append mode implies write access.
func (p *FileParameters) Normalize() {
	p.Access |= AccessRead
	if p.Mode == ModeAppend || p.Mode == ModeCreate || p.Mode == ModeCreateNew || p.Mode == ModeTruncate {
		p.Access |= AccessWrite
	}
}

// Clone returns a copy of p.
func (p FileParameters) Clone() FileParameters {
	return p
}

// WithPath returns a copy of p addressing path instead. Decorators use it to
// rewrite a virtual path into the physical path of the layer below.
func (p FileParameters) WithPath(path string) FileParameters {
	p.Path = path
	return p
}

// WithFlags returns a copy of p with flags replacing the current set.
func (p FileParameters) WithFlags(flags FileFlags) FileParameters {
	p.Flags = flags
	return p
}

// CanWrite reports whether the handle may mutate the file.
func (p FileParameters) CanWrite() bool {
	return p.Access&AccessWrite != 0
}

// IsAppend reports whether the handle was opened in append mode.
func (p FileParameters) IsAppend() bool {
	return p.Mode == ModeAppend
}

// IsMutating reports whether opening with p changes the filesystem.
func (p FileParameters) IsMutating() bool {
	return p.CanWrite() || p.Mode.CreatesFile() || p.Mode == ModeTruncate ||
		p.Flags&(FlagDeleteFileOnClose|FlagDeleteParentDirOnClose) != 0
}

func (p FileParameters) String() string {
	var b strings.Builder
	b.WriteString(p.Path)
	b.WriteString(" (")
	b.WriteString(p.Mode.String())
	switch p.Access {
	case AccessReadWrite:
		b.WriteString(", rw")
	case AccessWrite:
		b.WriteString(", w")
	default:
		b.WriteString(", r")
	}
	b.WriteString(")")
	return b.String()
}
