package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/invopop/jsonschema"
)

// ByteSize is a size in bytes that accepts human readable values such as
// "64MiB", "8 MB" or plain integers.
type ByteSize int64

// UnmarshalText parses s with humanize.ParseBytes.
func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*b = 0
		return nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > 1<<63-1 {
		return fmt.Errorf("invalid size %q: too large", s)
	}
	*b = ByteSize(n)
	return nil
}

var binaryUnits = []struct {
	size ByteSize
	name string
}{
	{1 << 40, "TiB"},
	{1 << 30, "GiB"},
	{1 << 20, "MiB"},
	{1 << 10, "KiB"},
}

// MarshalText renders b in the largest binary unit that divides it exactly,
// so that the value parses back unchanged.
func (b ByteSize) MarshalText() ([]byte, error) {
	if b != 0 {
		for _, u := range binaryUnits {
			if b%u.size == 0 {
				return []byte(strconv.FormatInt(int64(b/u.size), 10) + u.name), nil
			}
		}
	}
	return []byte(strconv.FormatInt(int64(b), 10)), nil
}

// String returns an approximate human readable form for logs.
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	return humanize.IBytes(uint64(b))
}

// JSONSchema describes both accepted forms.
func (ByteSize) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Description: `Size in bytes: an integer or a human readable value such as "64MiB"`,
		OneOf: []*jsonschema.Schema{
			{Type: "integer", Minimum: json.Number("0")},
			{Type: "string", Pattern: `^\s*[0-9.]+\s*[A-Za-z]*\s*$`},
		},
	}
}
