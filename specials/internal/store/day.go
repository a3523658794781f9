package store

import "time"

// DayLayout is the storage format of calendar dates.
const DayLayout = "2006-01-02"

// Day truncates t to its calendar date at UTC midnight. All lifecycle dates
// are whole days.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole days from a to b (negative when b is
// before a).
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// FormatDay renders t as YYYY-MM-DD.
func FormatDay(t time.Time) string { return t.Format(DayLayout) }

// ParseDay parses a YYYY-MM-DD date. Longer timestamps are cut to their date
// part first.
func ParseDay(s string) (time.Time, error) {
	if len(s) > len(DayLayout) {
		s = s[:len(DayLayout)]
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
