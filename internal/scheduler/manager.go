package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-notification-bridge/internal/ids"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

var (
	// ErrUnableToSchedule is passed to a completion when a model cannot be armed.
	ErrUnableToSchedule = errors.New("unable to schedule notification")
	// ErrStopped is passed to completions submitted after Stop.
	ErrStopped = errors.New("scheduler stopped")
)

// CompletionFunc receives the schedule id, or an error, once a submission
// has been processed.
type CompletionFunc func(id string, err error)

type submission struct {
	ctx        context.Context
	model      Model
	onComplete CompletionFunc
}

type entry struct {
	record Record
	model  Model
	timer  *time.Timer
	// ownedID is the id a repeating schedule without a pinned id posts under.
	ownedID int
}

// Manager owns the persisted schedules and their timers.
type Manager struct {
	store     Store
	registry  *ids.Registry
	presenter notifications.Presenter
	logger    *slog.Logger
	clock     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	submissions chan submission
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

type Option func(*Manager)

// WithClock overrides the time source used to compute fire times.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a manager that fires schedules through presenter.
func NewManager(store Store, registry *ids.Registry, presenter notifications.Presenter, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		registry:    registry,
		presenter:   presenter,
		logger:      logger.With("component", "SchedulerManager"),
		clock:       time.Now,
		entries:     make(map[string]*entry),
		submissions: make(chan submission, 64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start reloads persisted schedules, arms their timers and begins
// processing submissions. Overdue schedules fire immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))

	records, err := m.store.List(ctx)
	if err != nil {
		m.cancel()
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	for _, rec := range records {
		model, err := DecodeModel(rec.Kind, rec.Model)
		if err != nil {
			m.logger.Error("Dropping undecodable schedule", "schedule_id", rec.ID, "err", err)
			_ = m.store.Delete(ctx, rec.ID)
			continue
		}
		if rec.NotificationID != 0 {
			if err := m.registry.Reserve(rec.NotificationID); err != nil {
				m.logger.Warn("Restored schedule shares a notification id", "schedule_id", rec.ID, "notification_id", rec.NotificationID, "err", err)
			}
		}
		m.arm(rec, model)
	}
	m.logger.Info("Scheduler started", "restored", len(records))

	m.wg.Add(1)
	go m.run()
	return nil
}

// Stop halts the worker and disarms every timer. Persisted schedules survive.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()

drain:
	for {
		select {
		case sub := <-m.submissions:
			sub.onComplete("", ErrStopped)
		default:
			break drain
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		e.timer.Stop()
	}
	m.entries = make(map[string]*entry)
}

// AddScheduler submits a model. onComplete is always called exactly once,
// from the worker goroutine or, if the submission cannot be queued, from
// the caller's. A submission whose ctx is done before it is persisted is
// dropped, and one whose ctx ends during the save is rolled back.
func (m *Manager) AddScheduler(ctx context.Context, model Model, onComplete CompletionFunc) {
	var done <-chan struct{}
	if m.ctx != nil {
		done = m.ctx.Done()
		if m.ctx.Err() != nil {
			onComplete("", ErrStopped)
			return
		}
	}
	select {
	case m.submissions <- submission{ctx: ctx, model: model, onComplete: onComplete}:
	case <-ctx.Done():
		onComplete("", ctx.Err())
	case <-done:
		onComplete("", ErrStopped)
	}
}

// RemoveScheduler disarms and deletes a schedule.
func (m *Manager) RemoveScheduler(ctx context.Context, id string) error {
	m.retire(id)
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to remove schedule %s: %w", id, err)
	}
	return nil
}

// RemoveAll deletes every schedule of an experience and returns their ids.
func (m *Manager) RemoveAll(ctx context.Context, experienceID string) ([]string, error) {
	removed, err := m.store.DeleteByExperience(ctx, experienceID)
	if err != nil {
		return nil, fmt.Errorf("failed to remove schedules of %s: %w", experienceID, err)
	}
	for _, id := range removed {
		m.retire(id)
	}
	return removed, nil
}

// Scheduled returns the armed schedules of an experience ordered by next firing.
func (m *Manager) Scheduled(experienceID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, e := range m.entries {
		if e.record.ExperienceID == experienceID {
			out = append(out, e.record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextFire.Before(out[j].NextFire) })
	return out
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case sub := <-m.submissions:
			id, err := m.submit(sub.ctx, sub.model)
			sub.onComplete(id, err)
		}
	}
}

func (m *Manager) submit(ctx context.Context, model Model) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := m.clock()
	next := model.NextFireTime(now)
	if next.IsZero() {
		return "", fmt.Errorf("%w: %s model never fires", ErrUnableToSchedule, model.Kind())
	}

	raw, err := EncodeModel(model)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnableToSchedule, err)
	}
	rec := Record{
		ID:             uuid.NewString(),
		ExperienceID:   model.Details().ExperienceID,
		Kind:           model.Kind(),
		Model:          raw,
		NotificationID: model.Details().NotificationID,
		NextFire:       next,
		CreatedAt:      now,
	}
	if err := m.store.Save(m.ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnableToSchedule, err)
	}
	if err := ctx.Err(); err != nil {
		if delErr := m.store.Delete(m.ctx, rec.ID); delErr != nil && !errors.Is(delErr, ErrNotFound) {
			m.logger.Error("Failed to roll back abandoned schedule", "schedule_id", rec.ID, "err", delErr)
		}
		return "", err
	}
	m.arm(rec, model)
	m.logger.Info("Schedule armed", "schedule_id", rec.ID, "experience_id", rec.ExperienceID, "next_fire", next)
	return rec.ID, nil
}

func (m *Manager) arm(rec Record, model Model) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armLocked(rec, model)
}

func (m *Manager) armLocked(rec Record, model Model) {
	delay := rec.NextFire.Sub(m.clock())
	if delay < 0 {
		delay = 0
	}
	id := rec.ID
	var ownedID int
	if old, ok := m.entries[id]; ok {
		old.timer.Stop()
		ownedID = old.ownedID
	}
	m.entries[id] = &entry{
		record:  rec,
		model:   model,
		timer:   time.AfterFunc(delay, func() { m.fire(id) }),
		ownedID: ownedID,
	}
}

func (m *Manager) disarm(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	e.timer.Stop()
	delete(m.entries, id)
	return e
}

// retire disarms a removed schedule and frees the id its repeats posted under.
func (m *Manager) retire(id string) {
	if e := m.disarm(id); e != nil && e.ownedID != 0 {
		m.registry.Release(e.ownedID)
	}
}

func (m *Manager) fire(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	var prevOwned int
	if ok {
		prevOwned = e.ownedID
	}
	m.mu.Unlock()
	if !ok || m.ctx.Err() != nil {
		return
	}

	logger := m.logger.With("schedule_id", id, "experience_id", e.record.ExperienceID)
	details := e.model.Details()

	firedAt := e.record.NextFire
	if now := m.clock(); now.After(firedAt) {
		firedAt = now
	}
	var next time.Time
	if e.model.Repeats() {
		next = e.model.NextFireTime(firedAt)
	}
	// A schedule with another firing ahead keeps its id bound to it.
	keepID := !next.IsZero()

	ownedID := prevOwned
	notificationID := details.NotificationID
	if notificationID == 0 {
		notificationID = ownedID
	}
	if notificationID == 0 {
		var err error
		notificationID, err = m.registry.Next()
		if err != nil {
			logger.Error("Failed to allocate notification id", "err", err)
			return
		}
		if keepID {
			ownedID = notificationID
		}
	}

	payload := details.Data.Clone()
	payload[notifications.PayloadKeyNotificationID] = strconv.Itoa(notificationID)
	req := notifications.Request{
		ID:           notificationID,
		ExperienceID: details.ExperienceID,
		Payload:      payload,
		ScheduleID:   id,
		KeepID:       keepID,
	}
	if err := m.presenter.Present(m.ctx, req); err != nil {
		logger.Error("Failed to present scheduled notification", "notification_id", notificationID, "err", err)
		if !keepID {
			m.registry.Release(notificationID)
		}
	}

	if keepID {
		rec := e.record
		rec.NextFire = next
		// Held across the save so a concurrent removal cannot be undone.
		m.mu.Lock()
		defer m.mu.Unlock()
		current, still := m.entries[id]
		if !still {
			if ownedID != prevOwned {
				m.registry.Release(ownedID)
			}
			return
		}
		current.ownedID = ownedID
		if err := m.store.Save(m.ctx, rec); err != nil {
			logger.Error("Failed to persist next firing", "err", err)
		}
		m.armLocked(rec, e.model)
		return
	}

	m.disarm(id)
	if err := m.store.Delete(m.ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Error("Failed to delete fired schedule", "err", err)
	}
	logger.Debug("Schedule completed")
}
