package local

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// mapError translates an os error into the vfs vocabulary while keeping the
// original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var sentinel error
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sentinel = vfs.ErrNotFound
	case errors.Is(err, fs.ErrExist):
		sentinel = vfs.ErrAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		sentinel = vfs.ErrAccessDenied
	case errors.Is(err, syscall.ENOTEMPTY):
		sentinel = vfs.ErrNotEmpty
	case errors.Is(err, syscall.EISDIR):
		sentinel = vfs.ErrIsDirectory
	case errors.Is(err, syscall.ENOTDIR):
		sentinel = vfs.ErrNotDirectory
	case errors.Is(err, syscall.EROFS):
		sentinel = vfs.ErrReadOnly
	default:
		return err
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
