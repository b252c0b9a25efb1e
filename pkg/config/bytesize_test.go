package config

import (
	"testing"
)

func TestByteSize_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{"", 0, false},
		{"4096", 4096, false},
		{"64KiB", 64 << 10, false},
		{"8 MiB", 8 << 20, false},
		{"1GiB", 1 << 30, false},
		{"1kB", 1000, false},
		{"1.5KiB", 1536, false},
		{"many", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var b ByteSize
			err := b.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if b != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, b)
			}
		})
	}
}

func TestByteSize_MarshalText(t *testing.T) {
	tests := []struct {
		in   ByteSize
		want string
	}{
		{0, "0"},
		{1000, "1000"},
		{4 << 10, "4KiB"},
		{8 << 20, "8MiB"},
		{3 << 30, "3GiB"},
		{1 << 40, "1TiB"},
		{1536 << 20, "1536MiB"},
	}

	for _, tt := range tests {
		got, err := tt.in.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%d) failed: %v", tt.in, err)
		}
		if string(got) != tt.want {
			t.Errorf("MarshalText(%d) = %q, want %q", tt.in, got, tt.want)
		}

		var back ByteSize
		if err := back.UnmarshalText(got); err != nil || back != tt.in {
			t.Errorf("Round trip of %d gave %d (%v)", tt.in, back, err)
		}
	}
}

func TestByteSize_String(t *testing.T) {
	if s := ByteSize(8 << 20).String(); s != "8.0 MiB" {
		t.Errorf("Expected '8.0 MiB', got %q", s)
	}
	if s := ByteSize(-1).String(); s != "-1" {
		t.Errorf("Expected '-1', got %q", s)
	}
}
