package large

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// ErrCrossBorder indicates a write that the handle's border policy does not
// allow to span shards.
var ErrCrossBorder = fmt.Errorf("write crosses shard border: %w", vfs.ErrInvalidArgument)

// BorderViolationError is returned under FlagLargeFsProhibitWriteWithCrossBorder
// for a write spanning exactly two shards.
//
// RequiredPaddingSize is the number of bytes that would have to be written
// first so the rejected data starts at the beginning of the next shard.
// Callers can insert that padding and retry:
//
//	var bv *large.BorderViolationError
//	if errors.As(err, &bv) {
//	    _ = f.Write(ctx, make([]byte, bv.RequiredPaddingSize))
//	    err = f.Write(ctx, data)
//	}
type BorderViolationError struct {
	Path                string
	Position            int64
	Length              int
	RequiredPaddingSize int64
}

func (e *BorderViolationError) Error() string {
	return fmt.Sprintf("write of %d bytes at %d in %s crosses a shard border, %d bytes of padding required",
		e.Length, e.Position, e.Path, e.RequiredPaddingSize)
}

// Unwrap lets errors.Is match ErrCrossBorder and vfs.ErrInvalidArgument.
func (e *BorderViolationError) Unwrap() error {
	return ErrCrossBorder
}

// IsBorderViolation returns the padding required by err when it is a
// BorderViolationError.
func IsBorderViolation(err error) (int64, bool) {
	var bv *BorderViolationError
	if errors.As(err, &bv) {
		return bv.RequiredPaddingSize, true
	}
	return 0, false
}
