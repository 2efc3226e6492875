// Package scheduler persists scheduled notifications and fires them through a
// presenter when they fall due.
package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-notification-bridge/internal/cronbuilder"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// Details is the notification a schedule produces.
type Details struct {
	Data         notifications.Payload `json:"data"`
	ExperienceID string                `json:"experienceId"`
	// NotificationID pins every firing to one notification id. Zero allocates
	// a fresh id per firing.
	NotificationID int `json:"notificationId,omitempty"`
}

// Model decides when a schedule fires.
type Model interface {
	Kind() string
	Details() Details
	Repeats() bool
	// NextFireTime returns the first firing strictly after t, or the zero time.
	NextFireTime(t time.Time) time.Time
}

const (
	KindInterval = "interval"
	KindCalendar = "calendar"
	KindMonthly  = "monthly"
)

// IntervalModel fires at ScheduledTime and, when repeating, every Interval after.
type IntervalModel struct {
	ScheduledTime time.Time     `json:"scheduledTime"`
	Interval      time.Duration `json:"interval"`
	Repeat        bool          `json:"repeat"`
	Detail        Details       `json:"details"`
}

func (m *IntervalModel) Kind() string     { return KindInterval }
func (m *IntervalModel) Details() Details { return m.Detail }
func (m *IntervalModel) Repeats() bool    { return m.Repeat }

func (m *IntervalModel) NextFireTime(t time.Time) time.Time {
	if m.ScheduledTime.After(t) {
		return m.ScheduledTime
	}
	if !m.Repeat || m.Interval <= 0 {
		return time.Time{}
	}
	steps := t.Sub(m.ScheduledTime)/m.Interval + 1
	return m.ScheduledTime.Add(steps * m.Interval)
}

// CalendarModel fires on the activations of a cron expression, evaluated in UTC.
type CalendarModel struct {
	Calendar cronbuilder.Expression `json:"calendar"`
	Repeat   bool                   `json:"repeat"`
	Detail   Details                `json:"details"`
}

func (m *CalendarModel) Kind() string     { return KindCalendar }
func (m *CalendarModel) Details() Details { return m.Detail }
func (m *CalendarModel) Repeats() bool    { return m.Repeat }

func (m *CalendarModel) NextFireTime(t time.Time) time.Time {
	return m.Calendar.Next(t.UTC())
}

// MonthlyModel fires at Anchor and then every Months calendar months after
// it, at the anchor's time of day, evaluated in UTC. Months shorter than the
// anchor's day fire on their last day.
type MonthlyModel struct {
	Anchor time.Time `json:"anchor"`
	Months int       `json:"months"`
	Detail Details   `json:"details"`
}

func (m *MonthlyModel) Kind() string     { return KindMonthly }
func (m *MonthlyModel) Details() Details { return m.Detail }
func (m *MonthlyModel) Repeats() bool    { return true }

func (m *MonthlyModel) NextFireTime(t time.Time) time.Time {
	if m.Anchor.After(t) {
		return m.Anchor
	}
	if m.Months <= 0 {
		return time.Time{}
	}
	anchor, t := m.Anchor.UTC(), t.UTC()
	elapsed := (t.Year()-anchor.Year())*12 + int(t.Month()) - int(anchor.Month())
	k := elapsed/m.Months - 1
	if k < 0 {
		k = 0
	}
	for {
		if at := m.occurrence(anchor, k); at.After(t) {
			return at
		}
		k++
	}
}

func (m *MonthlyModel) occurrence(anchor time.Time, k int) time.Time {
	month := time.Date(anchor.Year(), anchor.Month()+time.Month(k*m.Months), 1,
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), time.UTC)
	day := anchor.Day()
	if last := time.Date(month.Year(), month.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day(); day > last {
		day = last
	}
	return month.AddDate(0, 0, day-1)
}

// EncodeModel serializes a model for a Store.
func EncodeModel(m Model) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeModel restores a model written by EncodeModel.
func DecodeModel(kind string, raw []byte) (Model, error) {
	var m Model
	switch kind {
	case KindInterval:
		m = &IntervalModel{}
	case KindCalendar:
		m = &CalendarModel{}
	case KindMonthly:
		m = &MonthlyModel{}
	default:
		return nil, fmt.Errorf("unknown scheduler model kind %q", kind)
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("failed to decode %s model: %w", kind, err)
	}
	return m, nil
}
