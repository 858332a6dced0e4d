// Package month validates and navigates YYYY-MM month keys.
package month

import (
	"errors"
	"fmt"
	"time"
)

const layout = "2006-01"

// ErrInvalid is returned for strings that are not YYYY-MM.
var ErrInvalid = errors.New("month: want YYYY-MM")

// Parse returns the first instant of month in UTC.
func Parse(s string) (time.Time, error) {
	if len(s) != len(layout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return t, nil
}

// Valid reports whether s is a YYYY-MM key.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Of returns the month key containing t.
func Of(t time.Time) string {
	return t.Format(layout)
}

// Current returns the month key for the current local time.
func Current() string {
	return Of(time.Now())
}

// Shift moves s by delta months (negative goes back).
func Shift(s string, delta int) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Of(t.AddDate(0, delta, 0)), nil
}

// Days returns the number of days in month s.
func Days(s string) (int, error) {
	t, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return t.AddDate(0, 1, -1).Day(), nil
}
