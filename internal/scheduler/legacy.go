package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidLegacyOptions is returned for legacy options that name no trigger.
var ErrInvalidLegacyOptions = errors.New("invalid legacy schedule options")

// LegacyOptions is the option shape of the older scheduling call.
type LegacyOptions struct {
	// Time is the first firing in epoch milliseconds. Zero means now.
	Time int64 `json:"time,omitempty"`
	// Repeat is one of minute, hour, day, week, month or year.
	Repeat     string `json:"repeat,omitempty"`
	IntervalMs int64  `json:"intervalMs,omitempty"`
}

var fixedRepeats = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// LegacyModel converts legacy options into a model. A first firing in the
// past fires as soon as the model is armed.
func LegacyModel(opts LegacyOptions, details Details, now time.Time) (Model, error) {
	first := now.Add(time.Millisecond)
	if opts.Time > 0 {
		if at := time.UnixMilli(opts.Time); at.After(now) {
			first = at
		}
	}

	if opts.IntervalMs < 0 {
		return nil, fmt.Errorf("%w: negative intervalMs", ErrInvalidLegacyOptions)
	}
	if opts.IntervalMs > 0 {
		return &IntervalModel{
			ScheduledTime: first,
			Interval:      time.Duration(opts.IntervalMs) * time.Millisecond,
			Repeat:        true,
			Detail:        details,
		}, nil
	}

	switch opts.Repeat {
	case "":
		return &IntervalModel{ScheduledTime: first, Detail: details}, nil
	case "month":
		return &MonthlyModel{Anchor: first.UTC(), Months: 1, Detail: details}, nil
	case "year":
		return &MonthlyModel{Anchor: first.UTC(), Months: 12, Detail: details}, nil
	}

	interval, ok := fixedRepeats[opts.Repeat]
	if !ok {
		return nil, fmt.Errorf("%w: unknown repeat %q", ErrInvalidLegacyOptions, opts.Repeat)
	}
	return &IntervalModel{ScheduledTime: first, Interval: interval, Repeat: true, Detail: details}, nil
}
