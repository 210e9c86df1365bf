package config

import (
	"testing"
	"time"
)

func TestParseUTCOffset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		secs int
	}{
		{"", 0},
		{"+00:00", 0},
		{"+03:00", 3 * 3600},
		{"-05:30", -(5*3600 + 30*60)},
		{"+07", 7 * 3600},
		{"+14:00", 14 * 3600},
	}
	for _, tt := range tests {
		tt := tt
		t.Run("offset "+tt.raw, func(t *testing.T) {
			loc, err := ParseUTCOffset(tt.raw)
			if err != nil {
				t.Fatalf("ParseUTCOffset(%q) error: %v", tt.raw, err)
			}
			_, off := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
			if off != tt.secs {
				t.Fatalf("ParseUTCOffset(%q) = %ds, want %ds", tt.raw, off, tt.secs)
			}
		})
	}
}

func TestParseUTCOffsetRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"03:00", "+15:00", "+03:60", "+aa:00", "Asia/Jakarta"} {
		raw := raw
		t.Run(raw, func(t *testing.T) {
			if _, err := ParseUTCOffset(raw); err == nil {
				t.Fatalf("ParseUTCOffset(%q) succeeded, want error", raw)
			}
		})
	}
}
