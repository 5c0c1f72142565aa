package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeDate(t *testing.T) {
	got, ok := ParseTime("2024-03-05")
	if !ok || !got.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v, %v", got, ok)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimePtr(t *testing.T) {
	if ParseTimePtr("") != nil || ParseTimePtr("yesterday") != nil {
		t.Fatalf("expected nil for empty or invalid input")
	}
	if p := ParseTimePtr("2024-01-02"); p == nil || p.Day() != 2 {
		t.Fatalf("unexpected %v", p)
	}
}

func TestAlignToTimeframe(t *testing.T) {
	ts := time.Date(2024, 5, 9, 13, 47, 0, 0, time.UTC) // Thursday
	cases := map[string]time.Time{
		"1h": time.Date(2024, 5, 9, 13, 0, 0, 0, time.UTC),
		"4h": time.Date(2024, 5, 9, 12, 0, 0, 0, time.UTC),
		"1d": time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC),
		"1w": time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
	}
	for tf, want := range cases {
		if got := AlignToTimeframe(ts, tf); !got.Equal(want) {
			t.Fatalf("%s: got %v want %v", tf, got, want)
		}
	}
}

func TestParseIntDefault(t *testing.T) {
	if ParseIntDefault("", 5) != 5 || ParseIntDefault("x", 5) != 5 || ParseIntDefault("7", 5) != 7 {
		t.Fatalf("unexpected ParseIntDefault behaviour")
	}
}
