package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Time is a time of day with minute precision. The zero value is midnight.
type Time struct {
	Hour   int `json:"hour" validate:"gte=0,lte=23"`
	Minute int `json:"minute" validate:"gte=0,lte=59"`
}

// Midnight is 00:00.
var Midnight = Time{}

func NewTime(hour, minute int) (Time, error) {
	t := Time{Hour: hour, Minute: minute}
	if !t.Valid() {
		return Time{}, fmt.Errorf("schedule: invalid time %02d:%02d", hour, minute)
	}
	return t, nil
}

// ParseTime parses "HH:MM".
func ParseTime(s string) (Time, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Time{}, fmt.Errorf("schedule: invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return Time{}, fmt.Errorf("schedule: invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return Time{}, fmt.Errorf("schedule: invalid minute in %q", s)
	}
	return NewTime(h, m)
}

// TimeOf extracts the time of day from an instant (seconds are dropped).
func TimeOf(ts time.Time) Time {
	return Time{Hour: ts.Hour(), Minute: ts.Minute()}
}

func (t Time) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

// On returns the instant at this time of day on the calendar date of d,
// in d's location.
func (t Time) On(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, t.Hour, t.Minute, 0, 0, d.Location())
}

func (t Time) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t Time) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Time) UnmarshalText(b []byte) error {
	v, err := ParseTime(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Date returns midnight of the calendar date (y, m, d) taken from ts,
// placed in loc. The wall-clock date is kept as given, not converted.
func Date(ts time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = ts.Location()
	}
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
