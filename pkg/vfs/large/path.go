package large

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

// ParsedPath is a logical file path split into the parts shard names are
// built from.
//
// "dir/archive.dat" with SplitStr "~~~" and 3 digits maps shard 7 to
// "dir/archive~~~007.dat".
type ParsedPath struct {
	// Dir is the directory holding the logical file and its shards.
	Dir string

	// Base is the file name without extension.
	Base string

	// Ext is the extension including its dot, or empty.
	Ext string

	// Number is the shard number when the path was parsed from a shard name,
	// -1 for logical paths.
	Number int64

	params Params
	parser vfs.PathParser
}

// ParsePath parses a logical path. The file name must not contain SplitStr.
func ParsePath(parser vfs.PathParser, p Params, logical string) (ParsedPath, error) {
	name := parser.Base(logical)
	if strings.Contains(name, p.SplitStr) {
		return ParsedPath{}, fmt.Errorf("name %q contains %q: %w", name, p.SplitStr, vfs.ErrInvalidArgument)
	}
	ext := parser.Ext(name)
	return ParsedPath{
		Dir:    parser.Dir(logical),
		Base:   strings.TrimSuffix(name, ext),
		Ext:    ext,
		Number: -1,
		params: p,
		parser: parser,
	}, nil
}

// ParsePhysicalPath parses a shard path. It fails when the name does not
// carry a shard number of exactly NumDigits digits.
func ParsePhysicalPath(parser vfs.PathParser, p Params, physical string) (ParsedPath, error) {
	name := parser.Base(physical)
	ext := parser.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	i := strings.LastIndex(stem, p.SplitStr)
	if i < 0 {
		return ParsedPath{}, fmt.Errorf("%q is not a shard name: %w", name, vfs.ErrInvalidArgument)
	}
	digits := stem[i+len(p.SplitStr):]
	if len(digits) != p.NumDigits() || strings.Trim(digits, "0123456789") != "" {
		return ParsedPath{}, fmt.Errorf("%q has no %d digit shard number: %w", name, p.NumDigits(), vfs.ErrInvalidArgument)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return ParsedPath{}, fmt.Errorf("%q: %w", name, vfs.ErrInvalidArgument)
	}
	return ParsedPath{
		Dir:    parser.Dir(physical),
		Base:   stem[:i],
		Ext:    ext,
		Number: n,
		params: p,
		parser: parser,
	}, nil
}

// Name returns the logical file name.
func (pp ParsedPath) Name() string {
	return pp.Base + pp.Ext
}

// LogicalPath returns the path of the logical file.
func (pp ParsedPath) LogicalPath() string {
	return pp.parser.Join(pp.Dir, pp.Name())
}

// ShardName returns the file name of shard n.
func (pp ParsedPath) ShardName(n int64) string {
	return fmt.Sprintf("%s%s%0*d%s", pp.Base, pp.params.SplitStr, pp.params.NumDigits(), n, pp.Ext)
}

// PhysicalPath returns the path of shard n.
func (pp ParsedPath) PhysicalPath(n int64) (string, error) {
	if n < 0 || n > pp.params.MaxFileNumber() {
		return "", fmt.Errorf("shard %d outside [0, %d]: %w", n, pp.params.MaxFileNumber(), vfs.ErrOutOfRange)
	}
	return pp.parser.Join(pp.Dir, pp.ShardName(n)), nil
}

// SameFile reports whether other names a shard of the same logical file.
func (pp ParsedPath) SameFile(other ParsedPath) bool {
	if pp.parser.CaseSensitive() {
		return pp.Base == other.Base && pp.Ext == other.Ext
	}
	return strings.EqualFold(pp.Base, other.Base) && strings.EqualFold(pp.Ext, other.Ext)
}
