package gateway

import (
	"testing"
	"time"
)

func TestParseTimeArg(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"1705000000", 1705000000000000},        // seconds
		{"1705000000000000", 1705000000000000},  // already microseconds
		{"2024-01-15T12:00:00Z", now.UnixMicro()},
		{"90m", now.Add(-90 * time.Minute).UnixMicro()},
		{"6h", now.Add(-6 * time.Hour).UnixMicro()},
		{"3d", now.Add(-72 * time.Hour).UnixMicro()},
		{"2w", now.Add(-14 * 24 * time.Hour).UnixMicro()},
	}
	for _, c := range cases {
		got, err := parseTimeArg(c.in, now)
		if err != nil {
			t.Errorf("parseTimeArg(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseTimeArg(%q): got %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseTimeArg_Rejects(t *testing.T) {
	now := time.Now()
	for _, in := range []string{"yesterday", "-5", "10x", "2024-01-15"} {
		if _, err := parseTimeArg(in, now); err == nil {
			t.Errorf("parseTimeArg(%q): expected an error", in)
		}
	}
}
