package config

import (
	"testing"
	"time"
)

func TestParseDuration_DaysWeeksAndFallback(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"1w2d3h", (7*24 + 2*24 + 3) * time.Hour},
		{"1.5d", 36 * time.Hour},
		{"-2w", -14 * 24 * time.Hour},
		{"90m", 90 * time.Minute},
		{"2d30m", 48*time.Hour + 30*time.Minute},
	}

	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if err != nil {
			t.Fatalf("ParseDuration(%q) unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDuration(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	bad := []string{"", "   ", "3x", "2d3x", "-", "d"}
	for _, in := range bad {
		if _, err := ParseDuration(in); err == nil {
			t.Fatalf("ParseDuration(%q) expected error, got nil", in)
		}
	}
}
