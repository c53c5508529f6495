// Package timewindow parses and validates the optional date bounds accepted by
// position queries.
package timewindow

import (
	"errors"
	"fmt"
	"time"
)

// Field names reported by DateFormatError.
const (
	FieldLower = "date_lower_bound"
	FieldUpper = "date_upper_bound"
)

// Accepted layouts, tried in order.
var layouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
}

var (
	// ErrInvalidDateFormat matches any *DateFormatError.
	ErrInvalidDateFormat = errors.New("invalid date format")
	// ErrInvalidDateRange is returned when the upper bound is not after the lower bound.
	ErrInvalidDateRange = errors.New("upper bound date must be greater than lower bound date")
)

// DateFormatError reports a bound that matched none of the accepted layouts.
type DateFormatError struct {
	Field string
	Value string
}

func (e *DateFormatError) Error() string {
	return fmt.Sprintf("%s must be in YYYY-MM-DD or YYYY-MM-DD HH:MM:SS format (got %q)", e.Field, e.Value)
}

// Is lets errors.Is(err, ErrInvalidDateFormat) match.
func (e *DateFormatError) Is(target error) bool {
	return target == ErrInvalidDateFormat
}

// Bounds holds the raw, optional bounds as supplied by a caller.
type Bounds struct {
	Lower *string
	Upper *string
}

// NewBounds builds Bounds from plain strings, treating "" as absent.
func NewBounds(lower, upper string) Bounds {
	var b Bounds
	if lower != "" {
		b.Lower = &lower
	}
	if upper != "" {
		b.Upper = &upper
	}
	return b
}

// Window is a validated time window. Both bounds are exclusive and either may be nil.
type Window struct {
	Lower *time.Time
	Upper *time.Time
}

// Contains reports whether t lies strictly inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Lower != nil && !t.After(*w.Lower) {
		return false
	}
	if w.Upper != nil && !t.Before(*w.Upper) {
		return false
	}
	return true
}

// Parse validates b and returns the corresponding Window.
func Parse(b Bounds) (Window, error) {
	var w Window

	if b.Lower != nil {
		t, err := parseField(FieldLower, *b.Lower)
		if err != nil {
			return Window{}, err
		}
		w.Lower = &t
	}
	if b.Upper != nil {
		t, err := parseField(FieldUpper, *b.Upper)
		if err != nil {
			return Window{}, err
		}
		w.Upper = &t
	}

	if w.Lower != nil && w.Upper != nil && !w.Upper.After(*w.Lower) {
		return Window{}, ErrInvalidDateRange
	}
	return w, nil
}

func parseField(field, value string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &DateFormatError{Field: field, Value: value}
}
