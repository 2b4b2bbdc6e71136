package download

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	const size = 1000
	tests := []struct {
		header string
		want   RangeSpec
	}{
		{"", RangeSpec{0, 999, 1000, false}},
		{"bytes=0-99", RangeSpec{0, 99, 100, true}},
		{"bytes=-50", RangeSpec{950, 999, 50, true}},
		{"bytes=990-", RangeSpec{990, 999, 10, true}},
		{"bytes=0-2000", RangeSpec{0, 999, 1000, true}},
		{"bytes=0-999", RangeSpec{0, 999, 1000, true}},
		{"bytes=-5000", RangeSpec{0, 999, 1000, true}},
		{"bytes=999-999", RangeSpec{999, 999, 1, true}},
		{"bytes=5-9, 20-30", RangeSpec{5, 9, 5, true}},
		{"items=0-1", RangeSpec{0, 999, 1000, false}},
	}
	for _, tt := range tests {
		got, err := ParseRange(tt.header, size)
		if err != nil {
			t.Errorf("ParseRange(%q) unexpected error: %v", tt.header, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRange(%q) = %+v, want %+v", tt.header, got, tt.want)
		}
	}
}

func TestParseRangeUnsatisfiable(t *testing.T) {
	for _, h := range []string{
		"bytes=1000-",
		"bytes=5000-6000",
		"bytes=9-5",
		"bytes=-0",
		"bytes=abc",
		"bytes=",
		"bytes=-",
		"bytes=1-2-3",
		"bytes=+1-5",
		"bytes=0x10-",
	} {
		if _, err := ParseRange(h, 1000); !errors.Is(err, ErrUnsatisfiable) {
			t.Errorf("ParseRange(%q) error = %v, want ErrUnsatisfiable", h, err)
		}
	}
}

func TestParseRangeEmptyObject(t *testing.T) {
	got, err := ParseRange("bytes=0-10", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Length != 0 || got.Partial {
		t.Errorf("expected empty full range, got %+v", got)
	}
}
