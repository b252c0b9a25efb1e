package vfs

import "context"

// outerOnlyFlags are handled by the outermost FileObject and must not be
// repeated by a FileObject it is layered on.
const outerOnlyFlags = FlagDeleteFileOnClose | FlagDeleteParentDirOnClose | FlagAutoCreateDirectory | FlagNoPartialRead

// NestedParams returns p for opening the same file on an underlying
// FileSystem, with path rewritten and outer side effects removed.
func (p FileParameters) NestedParams(path string) FileParameters {
	return p.WithPath(path).WithFlags(p.Flags &^ outerOnlyFlags)
}

// NestedFile exposes a FileObject of another FileSystem as a FileImpl, for
// decorators that pass files through to the FileSystem they wrap.
type NestedFile struct {
	File *FileObject
}

var (
	_ FileImpl      = (*NestedFile)(nil)
	_ PhysicalSizer = (*NestedFile)(nil)
)

func (n *NestedFile) ReadRandomImpl(ctx context.Context, position int64, buf []byte) (int, error) {
	return n.File.ReadRandom(ctx, position, buf)
}

func (n *NestedFile) WriteRandomImpl(ctx context.Context, position int64, data []byte) error {
	return n.File.WriteRandom(ctx, position, data)
}

func (n *NestedFile) GetFileSizeImpl(ctx context.Context) (int64, error) {
	return n.File.GetFileSize(ctx, true)
}

func (n *NestedFile) SetFileSizeImpl(ctx context.Context, size int64) error {
	return n.File.SetFileSize(ctx, size)
}

func (n *NestedFile) GetPhysicalSizeImpl(ctx context.Context) (int64, error) {
	return n.File.GetPhysicalSize(ctx)
}

func (n *NestedFile) FlushImpl(ctx context.Context) error {
	return n.File.Flush(ctx)
}

func (n *NestedFile) CloseImpl(ctx context.Context) error {
	return n.File.Close(ctx)
}
