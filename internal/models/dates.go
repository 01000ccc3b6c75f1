package models

import (
	"time"
)

// DateLayout is the ACIS calendar date format
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date at UTC midnight
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "date",
			Value:   s,
			Message: "invalid date format, expected YYYY-MM-DD",
		}
	}
	return d, nil
}

// Day truncates t to UTC midnight of its calendar day
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysInclusive returns the number of calendar days in [start, end].
// It is zero when end precedes start.
func DaysInclusive(start, end time.Time) int {
	s, e := Day(start), Day(end)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}

// DayOffset returns how many days t lies after origin
func DayOffset(origin, t time.Time) int {
	return int(Day(t).Sub(Day(origin)).Hours() / 24)
}
