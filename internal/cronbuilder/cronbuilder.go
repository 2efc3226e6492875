// Package cronbuilder converts calendar trigger options into a six-field
// (seconds first) cron expression plus an optional fixed year.
package cronbuilder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidCalendar is returned for options that cannot describe a trigger.
	ErrInvalidCalendar = errors.New("invalid calendar options")
	// ErrNoOccurrence is returned when valid options never fire after now.
	ErrNoOccurrence = errors.New("calendar options have no future occurrence")
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Options are calendar trigger components. Nil fields are unset. Weekday
// runs 1-7 with Sunday as 1.
type Options struct {
	Year    *int `json:"year,omitempty"`
	Month   *int `json:"month,omitempty"`
	Day     *int `json:"day,omitempty"`
	Weekday *int `json:"weekDay,omitempty"`
	Hour    *int `json:"hour,omitempty"`
	Minute  *int `json:"minute,omitempty"`
	Second  *int `json:"second,omitempty"`
	Repeat  bool `json:"repeat,omitempty"`
}

// Expression is a parsed calendar trigger. Year 0 means any year.
type Expression struct {
	Spec string `json:"spec"`
	Year int    `json:"year,omitempty"`

	schedule cron.Schedule
}

type field struct {
	name     string
	value    *int
	min, max int
}

// Build validates the options against now and returns the expression.
func Build(o Options, now time.Time) (Expression, error) {
	if o.Year != nil && o.Repeat {
		return Expression{}, fmt.Errorf("%w: year cannot be combined with repeat", ErrInvalidCalendar)
	}
	if o.Day != nil && o.Weekday != nil {
		return Expression{}, fmt.Errorf("%w: day and weekDay are mutually exclusive", ErrInvalidCalendar)
	}

	// Ordered most to least significant; day and weekday share a rank.
	dayField := field{"day", o.Day, 1, 31}
	if o.Weekday != nil {
		dayField = field{"weekDay", o.Weekday, 1, 7}
	}
	ranked := []field{
		{"month", o.Month, 1, 12},
		dayField,
		{"hour", o.Hour, 0, 23},
		{"minute", o.Minute, 0, 59},
		{"second", o.Second, 0, 59},
	}

	least := -1
	for i, f := range ranked {
		if f.value == nil {
			continue
		}
		if *f.value < f.min || *f.value > f.max {
			return Expression{}, fmt.Errorf("%w: %s %d out of range %d-%d", ErrInvalidCalendar, f.name, *f.value, f.min, f.max)
		}
		least = i
	}
	if o.Year != nil && *o.Year < 1970 {
		return Expression{}, fmt.Errorf("%w: year %d out of range", ErrInvalidCalendar, *o.Year)
	}
	if least < 0 && o.Year == nil {
		return Expression{}, fmt.Errorf("%w: no calendar fields set", ErrInvalidCalendar)
	}

	parts := make([]string, len(ranked))
	for i, f := range ranked {
		switch {
		case f.value != nil:
			parts[i] = strconv.Itoa(*f.value)
		case i > least:
			parts[i] = strconv.Itoa(f.min)
		default:
			parts[i] = "*"
		}
	}

	dom, dow := parts[1], "?"
	if o.Weekday != nil {
		dom, dow = "?", strconv.Itoa(*o.Weekday-1)
	}

	// second minute hour dom month dow
	spec := strings.Join([]string{parts[4], parts[3], parts[2], dom, parts[0], dow}, " ")
	expr, err := Parse(spec, 0)
	if err != nil {
		return Expression{}, err
	}
	if o.Year != nil {
		expr.Year = *o.Year
	}
	// Firings are evaluated in UTC, so validation is too.
	if expr.Next(now.UTC()).IsZero() {
		return Expression{}, fmt.Errorf("%w: %s", ErrNoOccurrence, expr)
	}
	return expr, nil
}

// Parse restores an expression from its stored form.
func Parse(spec string, year int) (Expression, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return Expression{}, fmt.Errorf("%w: %v", ErrInvalidCalendar, err)
	}
	return Expression{Spec: spec, Year: year, schedule: schedule}, nil
}

// Next returns the first activation strictly after t, or the zero time if
// there is none.
func (e Expression) Next(t time.Time) time.Time {
	if e.schedule == nil {
		parsed, err := Parse(e.Spec, e.Year)
		if err != nil {
			return time.Time{}
		}
		e = parsed
	}
	if e.Year == 0 {
		return e.schedule.Next(t)
	}
	if t.Year() > e.Year {
		return time.Time{}
	}
	if t.Year() < e.Year {
		t = time.Date(e.Year, time.January, 1, 0, 0, 0, 0, t.Location()).Add(-time.Second)
	}
	next := e.schedule.Next(t)
	if next.IsZero() || next.Year() != e.Year {
		return time.Time{}
	}
	return next
}

func (e Expression) String() string {
	if e.Year == 0 {
		return e.Spec
	}
	return fmt.Sprintf("%s (year %d)", e.Spec, e.Year)
}
