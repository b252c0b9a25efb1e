package large

import (
	"fmt"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// Cursor projects a logical position onto one shard.
type Cursor struct {
	// LogicalPosition is the position in the logical file.
	LogicalPosition int64

	// PhysicalFileNumber is the shard holding LogicalPosition.
	PhysicalFileNumber int64

	// PhysicalPosition is the offset of LogicalPosition inside the shard.
	PhysicalPosition int64

	// PhysicalRemainingLength is the room left in the shard from
	// PhysicalPosition to its end.
	PhysicalRemainingLength int64

	// PhysicalDataLength is the part of the requested length that falls into
	// this shard.
	PhysicalDataLength int
}

// NewCursor projects position onto its shard for a transfer of length bytes.
func NewCursor(p Params, position int64, length int) (Cursor, error) {
	if position < 0 {
		return Cursor{}, fmt.Errorf("position %d: %w", position, vfs.ErrOutOfRange)
	}
	n := position / p.MaxSinglePhysicalFileSize
	if n > p.MaxFileNumber() {
		return Cursor{}, fmt.Errorf("position %d needs shard %d beyond %d: %w",
			position, n, p.MaxFileNumber(), vfs.ErrOutOfRange)
	}
	offset := position - n*p.MaxSinglePhysicalFileSize
	remaining := p.MaxSinglePhysicalFileSize - offset
	return Cursor{
		LogicalPosition:         position,
		PhysicalFileNumber:      n,
		PhysicalPosition:        offset,
		PhysicalRemainingLength: remaining,
		PhysicalDataLength:      int(min(int64(length), remaining)),
	}, nil
}

// Cursors splits [position, position+length) into per-shard cursors, in
// order.
func Cursors(p Params, position int64, length int) ([]Cursor, error) {
	var out []Cursor
	for length > 0 {
		c, err := NewCursor(p, position, length)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		position += int64(c.PhysicalDataLength)
		length -= c.PhysicalDataLength
	}
	return out, nil
}
