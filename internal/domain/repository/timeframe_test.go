package repository

import "testing"

func TestNormalizeTimeframe(t *testing.T) {
	cases := map[string]Timeframe{
		"":    TF1d,
		"1h":  TF1h,
		"4h":  TF4h,
		"1w":  TF1w,
		"13m": TF1d,
	}
	for in, want := range cases {
		if got := NormalizeTimeframe(in); got != want {
			t.Fatalf("NormalizeTimeframe(%q) = %q, want %q", in, got, want)
		}
	}
}
