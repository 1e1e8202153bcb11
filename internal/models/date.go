package models

import (
	"fmt"
	"strings"
	"time"
)

// DateFormat is the canonical calendar date layout.
const DateFormat = "2006-01-02"

// readDateFormat accepts single-digit month/day ("2015-9-4").
const readDateFormat = "2006-1-2"

// Date is a calendar day with no time component.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalized Date.
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{t.Year(), t.Month(), t.Day()}
}

// ParseDate parses "YYYY-MM-DD". A trailing time component ("YYYY-MM-DD HH:MM") is ignored.
func ParseDate(s string) (Date, error) {
	s = DatePrefix(s)
	t, err := time.Parse(readDateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q want format %q: %w", s, DateFormat, err)
	}
	return NewDate(t.Date()), nil
}

// MustParseDate is like ParseDate but panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

// DatePrefix returns the date-only part of a portal date string.
func DatePrefix(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " T"); i > 0 {
		return s[:i]
	}
	return s
}

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool { return d == Date{} }

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

// Equal reports whether both dates are the same day.
func (d Date) Equal(x Date) bool { return d == x }

// Before reports whether d is before x.
func (d Date) Before(x Date) bool { return d.Time().Before(x.Time()) }

// String formats the date as YYYY-MM-DD. The zero date formats as "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(DateFormat)
}

// MarshalText implements encoding.TextMarshaler (used by both JSON and YAML).
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
