package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-bridge/internal/cronbuilder"
	"github.com/tinywideclouds/go-notification-bridge/internal/scheduler"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

var t0 = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestIntervalModel_NextFireTime(t *testing.T) {
	t.Run("One shot", func(t *testing.T) {
		m := &scheduler.IntervalModel{ScheduledTime: t0.Add(time.Minute)}
		assert.Equal(t, t0.Add(time.Minute), m.NextFireTime(t0))
		assert.True(t, m.NextFireTime(t0.Add(time.Minute)).IsZero())
	})

	t.Run("Repeating skips missed firings", func(t *testing.T) {
		m := &scheduler.IntervalModel{ScheduledTime: t0, Interval: 10 * time.Second, Repeat: true}
		assert.Equal(t, t0.Add(10*time.Second), m.NextFireTime(t0))
		assert.Equal(t, t0.Add(40*time.Second), m.NextFireTime(t0.Add(35*time.Second)))
	})
}

func TestModelCodec(t *testing.T) {
	details := scheduler.Details{ExperienceID: "exp1", Data: notifications.Payload{"title": "hi"}}

	t.Run("Interval", func(t *testing.T) {
		in := &scheduler.IntervalModel{ScheduledTime: t0, Interval: time.Hour, Repeat: true, Detail: details}
		raw, err := scheduler.EncodeModel(in)
		require.NoError(t, err)

		out, err := scheduler.DecodeModel(scheduler.KindInterval, raw)
		require.NoError(t, err)
		assert.Equal(t, in.NextFireTime(t0), out.NextFireTime(t0))
		assert.Equal(t, "exp1", out.Details().ExperienceID)
		assert.True(t, out.Repeats())
	})

	t.Run("Calendar", func(t *testing.T) {
		expr, err := cronbuilder.Parse("0 0 9 * * ?", 0)
		require.NoError(t, err)
		in := &scheduler.CalendarModel{Calendar: expr, Repeat: true, Detail: details}
		raw, err := scheduler.EncodeModel(in)
		require.NoError(t, err)

		out, err := scheduler.DecodeModel(scheduler.KindCalendar, raw)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC), out.NextFireTime(t0))
	})

	t.Run("Unknown kind", func(t *testing.T) {
		_, err := scheduler.DecodeModel("lunar", []byte("{}"))
		assert.Error(t, err)
	})
}

func TestLegacyModel(t *testing.T) {
	details := scheduler.Details{ExperienceID: "exp1", NotificationID: 42}
	at := t0.Add(time.Hour)

	t.Run("One shot at time", func(t *testing.T) {
		m, err := scheduler.LegacyModel(scheduler.LegacyOptions{Time: at.UnixMilli()}, details, t0)
		require.NoError(t, err)
		assert.False(t, m.Repeats())
		assert.Equal(t, at, m.NextFireTime(t0).UTC())
		assert.Equal(t, 42, m.Details().NotificationID)
	})

	t.Run("Past time fires immediately", func(t *testing.T) {
		m, err := scheduler.LegacyModel(scheduler.LegacyOptions{Time: t0.Add(-time.Hour).UnixMilli()}, details, t0)
		require.NoError(t, err)
		next := m.NextFireTime(t0)
		assert.False(t, next.IsZero())
		assert.WithinDuration(t, t0, next, time.Second)
	})

	t.Run("Fixed repeat", func(t *testing.T) {
		m, err := scheduler.LegacyModel(scheduler.LegacyOptions{Time: at.UnixMilli(), Repeat: "day"}, details, t0)
		require.NoError(t, err)
		assert.Equal(t, at.Add(24*time.Hour), m.NextFireTime(at).UTC())
	})

	t.Run("Interval overrides repeat", func(t *testing.T) {
		m, err := scheduler.LegacyModel(scheduler.LegacyOptions{Time: at.UnixMilli(), Repeat: "day", IntervalMs: 5000}, details, t0)
		require.NoError(t, err)
		assert.Equal(t, at.Add(5*time.Second), m.NextFireTime(at).UTC())
	})

	t.Run("Monthly keeps day and time", func(t *testing.T) {
		m, err := scheduler.LegacyModel(scheduler.LegacyOptions{Time: at.UnixMilli(), Repeat: "month"}, details, t0)
		require.NoError(t, err)
		assert.Equal(t, scheduler.KindMonthly, m.Kind())
		assert.Equal(t, at, m.NextFireTime(t0).UTC())
		assert.Equal(t, time.Date(2026, time.April, 10, 13, 0, 0, 0, time.UTC), m.NextFireTime(at).UTC())
	})

	t.Run("Yearly", func(t *testing.T) {
		m, err := scheduler.LegacyModel(scheduler.LegacyOptions{Time: at.UnixMilli(), Repeat: "year"}, details, t0)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2027, time.March, 10, 13, 0, 0, 0, time.UTC), m.NextFireTime(at).UTC())
	})

	t.Run("Monthly from the thirty-first clamps to short months", func(t *testing.T) {
		endOfJan := time.Date(2026, time.January, 31, 8, 0, 0, 0, time.UTC)
		m, err := scheduler.LegacyModel(scheduler.LegacyOptions{Time: endOfJan.UnixMilli(), Repeat: "month"}, details, endOfJan.Add(-time.Hour))
		require.NoError(t, err)

		var got []time.Time
		next := endOfJan
		for i := 0; i < 4; i++ {
			next = m.NextFireTime(next)
			got = append(got, next.UTC())
		}
		assert.Equal(t, []time.Time{
			time.Date(2026, time.February, 28, 8, 0, 0, 0, time.UTC),
			time.Date(2026, time.March, 31, 8, 0, 0, 0, time.UTC),
			time.Date(2026, time.April, 30, 8, 0, 0, 0, time.UTC),
			time.Date(2026, time.May, 31, 8, 0, 0, 0, time.UTC),
		}, got)
	})

	t.Run("Yearly from a leap day", func(t *testing.T) {
		leap := time.Date(2028, time.February, 29, 8, 0, 0, 0, time.UTC)
		m, err := scheduler.LegacyModel(scheduler.LegacyOptions{Time: leap.UnixMilli(), Repeat: "year"}, details, leap.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2029, time.February, 28, 8, 0, 0, 0, time.UTC), m.NextFireTime(leap).UTC())
	})

	t.Run("Monthly model survives encoding", func(t *testing.T) {
		m, err := scheduler.LegacyModel(scheduler.LegacyOptions{Time: at.UnixMilli(), Repeat: "month"}, details, t0)
		require.NoError(t, err)
		raw, err := scheduler.EncodeModel(m)
		require.NoError(t, err)
		restored, err := scheduler.DecodeModel(m.Kind(), raw)
		require.NoError(t, err)
		assert.Equal(t, m.NextFireTime(at).UTC(), restored.NextFireTime(at).UTC())
	})

	t.Run("Unknown repeat", func(t *testing.T) {
		_, err := scheduler.LegacyModel(scheduler.LegacyOptions{Repeat: "fortnight"}, details, t0)
		assert.ErrorIs(t, err, scheduler.ErrInvalidLegacyOptions)
	})
}
