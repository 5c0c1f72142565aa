package util

import (
	"strconv"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// ParseTime tries RFC3339, RFC3339Nano, a calendar date and unix seconds.
// Returns (t, true) if any worked. Results are in UTC.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, DateLayout, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseTimePtr parses s and returns nil when it is empty or invalid.
func ParseTimePtr(s string) *time.Time {
	t, ok := ParseTime(s)
	if !ok {
		return nil
	}
	return &t
}

// AlignToTimeframe rounds t down to the start of its bucket for tf.
// Weekly buckets start on Monday.
func AlignToTimeframe(t time.Time, tf string) time.Time {
	t = t.UTC()
	switch tf {
	case "1h":
		return t.Truncate(time.Hour)
	case "4h":
		return t.Truncate(4 * time.Hour)
	case "1w":
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}
