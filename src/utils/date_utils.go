package utils

import (
	"time"
)

const (
	DateFormat     = "2006-01-02"
	DateTimeFormat = "2006-01-02 15:04:05"
)

// FormatDate renders a date for storage. Zero times become the empty string
// so nullable date columns stay empty rather than holding a bogus epoch.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateFormat)
}

// FormatDateTime renders a timestamp for storage, empty for the zero time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateTimeFormat)
}

// ParseStoredTime reads a stored date back, accepting either format.
// Returns the zero time for empty or malformed values.
func ParseStoredTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(DateTimeFormat, s); err == nil {
		return t
	}
	if t, err := time.Parse(DateFormat, s); err == nil {
		return t
	}
	return time.Time{}
}

// DaysBetween returns the whole days elapsed from open to settle.
func DaysBetween(open, settle time.Time) int {
	if open.IsZero() || settle.IsZero() {
		return 0
	}
	return int(settle.Sub(open).Hours() / 24)
}
