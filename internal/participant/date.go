package participant

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layouts accepted and produced by Date.
const (
	DisplayLayout = "02.01.2006"
	StorageLayout = "2006-01-02"
)

var ErrInvalidDate = errors.New("invalid date")

// Date is a civil calendar date without a time zone. The zero value means
// "unknown".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses the DD.MM.YYYY form users type in chat.
func ParseDate(s string) (Date, error) {
	return parseLayout(DisplayLayout, s)
}

// ParseStorageDate parses the YYYY-MM-DD form used by the store.
func ParseStorageDate(s string) (Date, error) {
	return parseLayout(StorageLayout, s)
}

func parseLayout(layout, s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d.Year == 0 && d.Month == 0 && d.Day == 0 }

// String renders the date as DD.MM.YYYY, or "—" when unknown.
func (d Date) String() string {
	if d.IsZero() {
		return "—"
	}
	return fmt.Sprintf("%02d.%02d.%04d", d.Day, int(d.Month), d.Year)
}

// StorageString renders the date as YYYY-MM-DD, or "" when unknown.
func (d Date) StorageString() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// InYear moves the month/day into year y. It reports false when that day
// does not exist in y (Feb 29 outside leap years).
func (d Date) InYear(y int) (Date, bool) {
	if d.IsZero() {
		return Date{}, false
	}
	t := time.Date(y, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
	if t.Month() != d.Month || t.Day() != d.Day {
		return Date{}, false
	}
	return Date{Year: y, Month: d.Month, Day: d.Day}, true
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// At returns the instant at hh:mm on this date in loc, shifted back by
// daysBefore days. Day underflow is normalized by time.Date.
func (d Date) At(loc *time.Location, hh, mm, daysBefore int) time.Time {
	return time.Date(d.Year, d.Month, d.Day-daysBefore, hh, mm, 0, 0, loc)
}
