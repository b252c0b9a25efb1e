package large

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

const (
	// DefaultMaxSinglePhysicalFileSize is the default shard size (1 GiB).
	DefaultMaxSinglePhysicalFileSize = 1 << 30

	// DefaultLogicalMaxSize is the default largest logical file (1 TiB).
	DefaultLogicalMaxSize = 1 << 40

	// DefaultSplitStr separates the base name from the shard number.
	DefaultSplitStr = "~~~"

	// DefaultNewLine is the terminator written by
	// FlagLargeFsAppendNewLineForCrossBorder.
	DefaultNewLine = "\n"
)

// Params describes the shard layout of a LargeFileSystem.
//
// A logical file "dir/name.ext" is stored as "dir/name{SplitStr}{N}.ext" where
// N is the zero padded shard number. The digit width is derived from the
// ratio of LogicalMaxSize to MaxSinglePhysicalFileSize and is part of the on
// disk format: changing either value on an existing tree makes its shards
// unreadable.
type Params struct {
	// MaxSinglePhysicalFileSize is the size of every shard but the last.
	MaxSinglePhysicalFileSize int64

	// LogicalMaxSize is the largest logical file the layout must address.
	LogicalMaxSize int64

	// SplitStr separates the base name from the shard number. Logical names
	// must not contain it.
	SplitStr string

	// NewLine is the line terminator (one or two bytes) used to pad shards
	// under FlagLargeFsAppendNewLineForCrossBorder.
	NewLine string
}

// DefaultParams returns the default layout.
func DefaultParams() Params {
	return Params{
		MaxSinglePhysicalFileSize: DefaultMaxSinglePhysicalFileSize,
		LogicalMaxSize:            DefaultLogicalMaxSize,
		SplitStr:                  DefaultSplitStr,
		NewLine:                   DefaultNewLine,
	}
}

// ApplyDefaults fills zero values.
func (p *Params) ApplyDefaults() {
	if p.MaxSinglePhysicalFileSize <= 0 {
		p.MaxSinglePhysicalFileSize = DefaultMaxSinglePhysicalFileSize
	}
	if p.LogicalMaxSize <= 0 {
		p.LogicalMaxSize = max(DefaultLogicalMaxSize, p.MaxSinglePhysicalFileSize)
	}
	if p.SplitStr == "" {
		p.SplitStr = DefaultSplitStr
	}
	if p.NewLine == "" {
		p.NewLine = DefaultNewLine
	}
}

// Validate checks the layout is usable.
func (p Params) Validate() error {
	if p.MaxSinglePhysicalFileSize <= 0 {
		return fmt.Errorf("max shard size must be positive: %w", vfs.ErrInvalidArgument)
	}
	if p.LogicalMaxSize < p.MaxSinglePhysicalFileSize {
		return fmt.Errorf("logical max size %d below shard size %d: %w",
			p.LogicalMaxSize, p.MaxSinglePhysicalFileSize, vfs.ErrInvalidArgument)
	}
	if p.SplitStr == "" || strings.ContainsAny(p.SplitStr, `/\`) {
		return fmt.Errorf("split string %q: %w", p.SplitStr, vfs.ErrInvalidArgument)
	}
	if n := len(p.NewLine); n < 1 || n > 2 {
		return fmt.Errorf("new line %q must be one or two bytes: %w", p.NewLine, vfs.ErrInvalidArgument)
	}
	if p.NumDigits() > 18 {
		return fmt.Errorf("too many shards (%d digits): %w", p.NumDigits(), vfs.ErrInvalidArgument)
	}
	return nil
}

// NumDigits is the fixed width of shard numbers.
func (p Params) NumDigits() int {
	return len(strconv.FormatInt(p.LogicalMaxSize/p.MaxSinglePhysicalFileSize, 10))
}

// MaxFileNumber is the highest shard number the digit width can express.
func (p Params) MaxFileNumber() int64 {
	return int64(math.Pow10(p.NumDigits())) - 1
}

// ShardOffset returns the logical offset at which shard n starts.
func (p Params) ShardOffset(n int64) int64 {
	return n * p.MaxSinglePhysicalFileSize
}

// LastShard returns the number of the shard holding the last byte of a file
// of the given size. An empty file still has shard 0.
func (p Params) LastShard(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size - 1) / p.MaxSinglePhysicalFileSize
}
