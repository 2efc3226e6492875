package cronbuilder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-bridge/internal/cronbuilder"
)

func intp(v int) *int { return &v }

func TestBuild(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		options  cronbuilder.Options
		wantSpec string
		wantYear int
	}{
		{
			name:     "Daily at hour and minute",
			options:  cronbuilder.Options{Hour: intp(9), Minute: intp(30), Repeat: true},
			wantSpec: "0 30 9 * * ?",
		},
		{
			name:     "Only minute zeroes seconds",
			options:  cronbuilder.Options{Minute: intp(15), Repeat: true},
			wantSpec: "0 15 * * * ?",
		},
		{
			name:     "Weekday maps Sunday to zero",
			options:  cronbuilder.Options{Weekday: intp(1), Hour: intp(8), Repeat: true},
			wantSpec: "0 0 8 ? * 0",
		},
		{
			name:     "Month only fixes the rest at minimum",
			options:  cronbuilder.Options{Month: intp(6)},
			wantSpec: "0 0 0 1 6 ?",
		},
		{
			name:     "Fixed year",
			options:  cronbuilder.Options{Year: intp(2027), Month: intp(1), Day: intp(2)},
			wantSpec: "0 0 0 2 1 ?",
			wantYear: 2027,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := cronbuilder.Build(tc.options, now)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSpec, expr.Spec)
			assert.Equal(t, tc.wantYear, expr.Year)
		})
	}
}

func TestBuild_Rejects(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		options cronbuilder.Options
		wantErr error
	}{
		{"No fields", cronbuilder.Options{Repeat: true}, cronbuilder.ErrInvalidCalendar},
		{"Year with repeat", cronbuilder.Options{Year: intp(2027), Repeat: true}, cronbuilder.ErrInvalidCalendar},
		{"Day and weekday", cronbuilder.Options{Day: intp(1), Weekday: intp(2)}, cronbuilder.ErrInvalidCalendar},
		{"Hour out of range", cronbuilder.Options{Hour: intp(24)}, cronbuilder.ErrInvalidCalendar},
		{"Weekday out of range", cronbuilder.Options{Weekday: intp(0)}, cronbuilder.ErrInvalidCalendar},
		{"Year in the past", cronbuilder.Options{Year: intp(2020), Month: intp(1)}, cronbuilder.ErrNoOccurrence},
		{"February thirtieth", cronbuilder.Options{Month: intp(2), Day: intp(30)}, cronbuilder.ErrNoOccurrence},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := cronbuilder.Build(tc.options, now)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestExpression_Next(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	t.Run("Repeating daily", func(t *testing.T) {
		expr, err := cronbuilder.Build(cronbuilder.Options{Hour: intp(9), Repeat: true}, now)
		require.NoError(t, err)

		next := expr.Next(now)
		assert.Equal(t, time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC), next)
		assert.Equal(t, time.Date(2026, time.March, 12, 9, 0, 0, 0, time.UTC), expr.Next(next))
	})

	t.Run("Fixed year fires once", func(t *testing.T) {
		expr, err := cronbuilder.Build(cronbuilder.Options{Year: intp(2028), Month: intp(5), Day: intp(4)}, now)
		require.NoError(t, err)

		next := expr.Next(now)
		assert.Equal(t, time.Date(2028, time.May, 4, 0, 0, 0, 0, time.UTC), next)
		assert.True(t, expr.Next(next).IsZero())
	})

	t.Run("Restored from stored form", func(t *testing.T) {
		expr, err := cronbuilder.Parse("0 0 12 * * ?", 0)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, time.March, 11, 12, 0, 0, 0, time.UTC), expr.Next(now))
	})

	t.Run("Zero value re-parses lazily", func(t *testing.T) {
		expr := cronbuilder.Expression{Spec: "0 0 12 * * ?"}
		assert.False(t, expr.Next(now).IsZero())
	})
}

func TestBuild_ValidatesInUTC(t *testing.T) {
	// Already 2027 in the host zone, still 2026 in UTC.
	ahead := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2026, time.December, 31, 23, 30, 0, 0, time.UTC).In(ahead)

	expr, err := cronbuilder.Build(cronbuilder.Options{
		Year: intp(2026), Month: intp(12), Day: intp(31), Hour: intp(23), Minute: intp(45),
	}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.December, 31, 23, 45, 0, 0, time.UTC), expr.Next(now.UTC()))
}
