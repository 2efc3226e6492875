// Package bridge is the per-experience integration point between the
// application layer and the notification subsystems. Every operation scopes
// its arguments to the experience that owns the module.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tinywideclouds/go-notification-bridge/internal/categories"
	"github.com/tinywideclouds/go-notification-bridge/internal/channels"
	"github.com/tinywideclouds/go-notification-bridge/internal/cronbuilder"
	"github.com/tinywideclouds/go-notification-bridge/internal/ids"
	"github.com/tinywideclouds/go-notification-bridge/internal/manifest"
	"github.com/tinywideclouds/go-notification-bridge/internal/pushtoken"
	"github.com/tinywideclouds/go-notification-bridge/internal/scheduler"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// ErrInactive is the cause of rejections from a module that has not been
// activated or failed activation.
var ErrInactive = errors.New("module is not active")

// Scheduler is the scheduler manager as seen by a module.
type Scheduler interface {
	AddScheduler(ctx context.Context, model scheduler.Model, onComplete scheduler.CompletionFunc)
	RemoveScheduler(ctx context.Context, id string) error
	RemoveAll(ctx context.Context, experienceID string) ([]string, error)
	Scheduled(experienceID string) []scheduler.Record
}

// CategoryRegistry stores action sets under scoped category ids.
type CategoryRegistry interface {
	PutCategory(categoryID string, actions []notifications.Action)
	RemoveCategory(categoryID string)
}

// ExperienceTokenSource returns experience-scoped push tokens.
type ExperienceTokenSource interface {
	ExperienceToken(ctx context.Context, experienceID string) (string, error)
}

// Config holds the settings shared by every module of a host.
type Config struct {
	// Standalone disables experience scoping of category ids and enables
	// device push token retrieval.
	Standalone      bool
	ScheduleTimeout time.Duration
	TokenTimeout    time.Duration
}

// Deps are the shared services a module dispatches to.
type Deps struct {
	Service          notifications.NotificationService
	Presenter        notifications.Presenter
	Scheduler        Scheduler
	PostOffice       notifications.PostOffice
	Categories       CategoryRegistry
	IDs              *ids.Registry
	DeviceTokens     pushtoken.DeviceTokenSource
	ExperienceTokens ExperienceTokenSource
	LegacyChannels   LegacyChannelStore
	Events           notifications.EventEmitter
	Clock            func() time.Time
	Logger           *slog.Logger
}

// TimerOptions configure ScheduleNotificationWithTimer.
type TimerOptions struct {
	// Interval in milliseconds until the first firing and between repeats.
	Interval int64 `json:"interval"`
	Repeat   bool  `json:"repeat"`
}

// Module is the bridge module of one experience.
type Module struct {
	manifest []byte
	cfg      Config
	deps     Deps
	logger   *slog.Logger

	mu           sync.RWMutex
	active       bool
	experienceID string
	caps         notifications.Capabilities
	channels     *channels.ScopeManager
}

// NewModule creates an inactive module for the experience described by
// manifestData.
func NewModule(manifestData []byte, cfg Config, deps Deps) *Module {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.ScheduleTimeout <= 0 {
		cfg.ScheduleTimeout = 10 * time.Second
	}
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = 10 * time.Second
	}
	return &Module{
		manifest: manifestData,
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.With("component", "BridgeModule"),
	}
}

// Activate resolves the experience identity, queries the platform
// capabilities, ensures the default channel and registers with the post
// office, which hands over any deliveries queued while inactive. A manifest
// without an id returns an error wrapping manifest.ErrMissingExperienceID
// and leaves the module inactive.
func (m *Module) Activate(ctx context.Context) error {
	experienceID, err := manifest.ResolveExperienceID(m.manifest)
	if err != nil {
		m.logger.Error("Activation failed", "err", err)
		return err
	}
	caps := m.deps.Service.Capabilities()

	if caps.Channels {
		defaultChannel := notifications.Channel{
			ID:         channels.DefaultChannelID,
			Name:       channels.DefaultChannelName,
			Importance: notifications.ChannelImportanceDefault,
		}
		if err := m.deps.Service.CreateChannel(ctx, defaultChannel); err != nil {
			return fmt.Errorf("failed to create default channel: %w", err)
		}
	}

	m.mu.Lock()
	m.experienceID = experienceID
	m.caps = caps
	m.channels = channels.NewScopeManager(experienceID, m.deps.Service)
	m.active = true
	m.mu.Unlock()

	if err := m.deps.PostOffice.RegisterModuleAndGetPendingDeliveries(ctx, experienceID, m); err != nil {
		m.mu.Lock()
		m.active = false
		m.mu.Unlock()
		return fmt.Errorf("failed to register with post office: %w", err)
	}

	m.logger.Info("Module activated", "experience_id", experienceID, "channels", caps.Channels, "active_notifications", caps.ActiveNotifications)
	return nil
}

// Teardown unregisters from the post office. The module rejects further calls.
func (m *Module) Teardown() {
	m.mu.Lock()
	wasActive := m.active
	m.active = false
	experienceID := m.experienceID
	m.mu.Unlock()

	if wasActive {
		m.deps.PostOffice.UnregisterModule(experienceID)
		m.logger.Info("Module torn down", "experience_id", experienceID)
	}
}

// ExperienceID returns the resolved identity, or "" before activation.
func (m *Module) ExperienceID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.experienceID
}

type state struct {
	experienceID string
	caps         notifications.Capabilities
	channels     *channels.ScopeManager
}

func (m *Module) state() (state, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return state{}, reject(CodeMissingExperienceID, "requires an activated experience", ErrInactive)
	}
	return state{experienceID: m.experienceID, caps: m.caps, channels: m.channels}, nil
}

// --- Categories ---

func (m *Module) CreateCategory(_ context.Context, categoryID string, actions []notifications.Action) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	if categoryID == "" {
		return reject(CodeInvalidArgument, "category id is required", nil)
	}
	m.deps.Categories.PutCategory(m.scopedCategory(st, categoryID), actions)
	return nil
}

func (m *Module) DeleteCategory(_ context.Context, categoryID string) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	m.deps.Categories.RemoveCategory(m.scopedCategory(st, categoryID))
	return nil
}

func (m *Module) scopedCategory(st state, categoryID string) string {
	return categories.ScopedID(st.experienceID, categoryID, m.cfg.Standalone)
}

// --- Channels ---

func (m *Module) CreateChannel(ctx context.Context, channelID string, data notifications.Payload) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	if !st.caps.Channels {
		return nil
	}
	if err := st.channels.AddChannel(ctx, channelID, channels.FromPayload(channelID, data)); err != nil {
		return reject(CodeChannelOperationFailed, "could not create channel", err)
	}
	return nil
}

func (m *Module) DeleteChannel(ctx context.Context, channelID string) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	if !st.caps.Channels {
		return nil
	}
	if err := st.channels.DeleteChannel(ctx, channelID); err != nil {
		return reject(CodeChannelOperationFailed, "could not delete channel", err)
	}
	return nil
}

func (m *Module) CreateChannelGroup(ctx context.Context, groupID, groupName string) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	if !st.caps.Channels {
		return nil
	}
	if err := m.deps.Service.CreateChannelGroup(ctx, notifications.ChannelGroup{ID: groupID, Name: groupName}); err != nil {
		return reject(CodeChannelOperationFailed, "could not create channel group", err)
	}
	return nil
}

func (m *Module) DeleteChannelGroup(ctx context.Context, groupID string) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	if !st.caps.Channels {
		return nil
	}
	if err := m.deps.Service.DeleteChannelGroup(ctx, groupID); err != nil {
		return reject(CodeChannelOperationFailed, "could not delete channel group", err)
	}
	return nil
}

// ensureLegacyChannel records legacy channel data and makes sure the
// channel exists on the notification service.
func (m *Module) ensureLegacyChannel(ctx context.Context, st state, channelID string, legacy notifications.Payload) error {
	ch, created, err := m.deps.LegacyChannels.MaybeCreateLegacyStoredChannel(ctx, st.experienceID, channelID, legacy)
	if err != nil {
		return err
	}
	if !st.caps.Channels {
		return nil
	}
	if _, exists := st.channels.GetChannel(ctx, channelID); exists && !created {
		return nil
	}
	return st.channels.AddChannel(ctx, channelID, ch)
}

// --- Presenting and dismissing ---

// PresentLocalNotification presents data immediately and returns the
// notification id in decimal.
func (m *Module) PresentLocalNotification(ctx context.Context, data, legacyChannelData notifications.Payload) (string, error) {
	st, err := m.state()
	if err != nil {
		return "", err
	}

	if legacyChannelData != nil {
		channelID := data.String("channelId")
		if channelID == "" {
			return "", reject(CodeFailedPresenting, "legacyChannelData was nonnull with no channelId", nil)
		}
		if err := m.ensureLegacyChannel(ctx, st, channelID, legacyChannelData); err != nil {
			return "", reject(CodeFailedPresenting, "could not create legacy channel", err)
		}
	}

	id, err := m.deps.IDs.Next()
	if err != nil {
		return "", reject(CodeFailedPresenting, "could not allocate notification id", err)
	}

	payload := m.scopedPayload(st, data)
	payload[notifications.PayloadKeyNotificationID] = strconv.Itoa(id)

	req := notifications.Request{ID: id, ExperienceID: st.experienceID, Payload: payload}
	if err := m.deps.Presenter.Present(ctx, req); err != nil {
		m.deps.IDs.Release(id)
		return "", reject(CodeFailedPresenting, "could not present notification", err)
	}
	return strconv.Itoa(id), nil
}

// scopedPayload copies data, stamps the experience id and scopes the category.
func (m *Module) scopedPayload(st state, data notifications.Payload) notifications.Payload {
	payload := data.Clone()
	payload[notifications.PayloadKeyExperienceID] = st.experienceID
	if categoryID := data.String("categoryId"); categoryID != "" {
		payload["categoryId"] = m.scopedCategory(st, categoryID)
	}
	return payload
}

func (m *Module) DismissNotification(ctx context.Context, notificationID string) error {
	if _, err := m.state(); err != nil {
		return err
	}
	id, err := strconv.Atoi(notificationID)
	if err != nil {
		return reject(CodeInvalidNotificationID, fmt.Sprintf("%q is not a notification id", notificationID), err)
	}
	m.cancel(ctx, id)
	return nil
}

// DismissAllNotifications cancels every shown notification of this experience.
func (m *Module) DismissAllNotifications(ctx context.Context) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	return m.dismissMatching(ctx, st, func(n notifications.ActiveNotification) bool {
		return n.Tag == st.experienceID
	})
}

func (m *Module) dismissMatching(ctx context.Context, st state, match func(notifications.ActiveNotification) bool) error {
	if !st.caps.ActiveNotifications {
		return reject(CodeUnsupported, "listing shown notifications is not supported by the platform", notifications.ErrUnsupported)
	}
	active, err := m.deps.Service.ActiveNotifications(ctx)
	if err != nil {
		return reject(CodeUnsupported, "could not list shown notifications", err)
	}
	for _, n := range active {
		if match(n) {
			m.cancel(ctx, n.ID)
		}
	}
	return nil
}

func (m *Module) cancel(ctx context.Context, id int) {
	if err := m.deps.Service.Cancel(ctx, id); err != nil {
		m.logger.Warn("Failed to cancel notification", "notification_id", id, "err", err)
	}
	m.deps.IDs.Release(id)
}

// --- Scheduling ---

// ScheduleNotificationWithTimer fires data after opts.Interval milliseconds,
// repeating at that interval when opts.Repeat is set.
func (m *Module) ScheduleNotificationWithTimer(ctx context.Context, data notifications.Payload, opts TimerOptions) (string, error) {
	st, err := m.state()
	if err != nil {
		return "", err
	}
	if opts.Interval <= 0 {
		return "", reject(CodeUnableToSchedule, "interval must be positive", scheduler.ErrUnableToSchedule)
	}
	interval := time.Duration(opts.Interval) * time.Millisecond
	model := &scheduler.IntervalModel{
		ScheduledTime: m.deps.Clock().Add(interval),
		Interval:      interval,
		Repeat:        opts.Repeat,
		Detail:        scheduler.Details{Data: m.scopedPayload(st, data), ExperienceID: st.experienceID},
	}
	return m.submit(ctx, model)
}

// ScheduleNotificationWithCalendar fires data on the calendar described by opts.
func (m *Module) ScheduleNotificationWithCalendar(ctx context.Context, data notifications.Payload, opts cronbuilder.Options) (string, error) {
	st, err := m.state()
	if err != nil {
		return "", err
	}
	expr, err := cronbuilder.Build(opts, m.deps.Clock())
	if err != nil {
		return "", reject(CodeInvalidCalendar, "calendar options cannot be scheduled", err)
	}
	model := &scheduler.CalendarModel{
		Calendar: expr,
		Repeat:   opts.Repeat,
		Detail:   scheduler.Details{Data: m.scopedPayload(st, data), ExperienceID: st.experienceID},
	}
	return m.submit(ctx, model)
}

// ScheduleLocalNotificationWithChannel is the older scheduling call. It
// returns the notification id the schedule will post under, in decimal.
func (m *Module) ScheduleLocalNotificationWithChannel(ctx context.Context, data notifications.Payload, opts scheduler.LegacyOptions, legacyChannelData notifications.Payload) (string, error) {
	st, err := m.state()
	if err != nil {
		return "", err
	}

	if legacyChannelData != nil {
		channelID := data.String("channelId")
		if channelID == "" || st.experienceID == "" {
			return "", reject(CodeFailedPresenting, "legacyChannelData was nonnull with no channelId or no experienceId", nil)
		}
		if err := m.ensureLegacyChannel(ctx, st, channelID, legacyChannelData); err != nil {
			return "", reject(CodeFailedPresenting, "could not create legacy channel", err)
		}
	}

	id, err := m.deps.IDs.Next()
	if err != nil {
		return "", reject(CodeUnableToSchedule, "could not allocate notification id", err)
	}
	payload := m.scopedPayload(st, data)
	payload[notifications.PayloadKeyNotificationID] = strconv.Itoa(id)

	model, err := scheduler.LegacyModel(opts, scheduler.Details{
		Data:           payload,
		ExperienceID:   st.experienceID,
		NotificationID: id,
	}, m.deps.Clock())
	if err != nil {
		m.deps.IDs.Release(id)
		return "", reject(CodeUnableToSchedule, "invalid schedule options", err)
	}
	if _, err := m.submit(ctx, model); err != nil {
		m.deps.IDs.Release(id)
		return "", err
	}
	return strconv.Itoa(id), nil
}

type completion struct {
	id  string
	err error
}

// submit hands the model to the scheduler and waits for its completion,
// bounded by the configured schedule timeout.
func (m *Module) submit(ctx context.Context, model scheduler.Model) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ScheduleTimeout)
	defer cancel()

	done := make(chan completion, 1)
	m.deps.Scheduler.AddScheduler(ctx, model, func(id string, err error) {
		done <- completion{id: id, err: err}
	})

	select {
	case c := <-done:
		if c.err != nil {
			return "", reject(CodeUnableToSchedule, "could not schedule notification", c.err)
		}
		return c.id, nil
	case <-ctx.Done():
		go m.discardLateSchedule(done)
		return "", reject(CodeUnableToSchedule, "scheduler did not respond", ctx.Err())
	}
}

// discardLateSchedule removes a schedule that was armed after its caller had
// already been told scheduling failed.
func (m *Module) discardLateSchedule(done <-chan completion) {
	c := <-done
	if c.err != nil {
		return
	}
	m.logger.Warn("Removing schedule armed after its caller timed out", "schedule_id", c.id)
	m.removeSchedule(context.Background(), c.id)
}

// CancelScheduledNotification removes a schedule and dismisses what it
// posted. id is either a schedule id or, for the older scheduling call, the
// decimal notification id.
func (m *Module) CancelScheduledNotification(ctx context.Context, id string) error {
	st, err := m.state()
	if err != nil {
		return err
	}

	if notificationID, convErr := strconv.Atoi(id); convErr == nil {
		for _, rec := range m.deps.Scheduler.Scheduled(st.experienceID) {
			if rec.NotificationID == notificationID {
				m.removeSchedule(ctx, rec.ID)
			}
		}
		m.cancel(ctx, notificationID)
		return nil
	}

	m.removeSchedule(ctx, id)
	if !st.caps.ActiveNotifications {
		return nil
	}
	return m.dismissMatching(ctx, st, func(n notifications.ActiveNotification) bool {
		return n.Tag == st.experienceID && n.ScheduleID == id
	})
}

func (m *Module) removeSchedule(ctx context.Context, id string) {
	if err := m.deps.Scheduler.RemoveScheduler(ctx, id); err != nil && !errors.Is(err, scheduler.ErrNotFound) {
		m.logger.Warn("Failed to remove schedule", "schedule_id", id, "err", err)
	}
}

// CancelAllScheduledNotifications removes every schedule of the experience
// and dismisses all of its notifications.
func (m *Module) CancelAllScheduledNotifications(ctx context.Context) error {
	st, err := m.state()
	if err != nil {
		return err
	}
	removed, err := m.deps.Scheduler.RemoveAll(ctx, st.experienceID)
	if err != nil {
		return reject(CodeUnableToSchedule, "could not remove schedules", err)
	}
	for _, rec := range removed {
		m.logger.Debug("Schedule removed", "schedule_id", rec)
	}
	return m.DismissAllNotifications(ctx)
}

// ScheduledNotifications lists the armed schedules of the experience.
func (m *Module) ScheduledNotifications() ([]scheduler.Record, error) {
	st, err := m.state()
	if err != nil {
		return nil, err
	}
	return m.deps.Scheduler.Scheduled(st.experienceID), nil
}

// --- Push tokens ---

// GetDevicePushToken returns the platform push token. Standalone hosts only.
func (m *Module) GetDevicePushToken(ctx context.Context, _ notifications.Payload) (string, error) {
	st, err := m.state()
	if err != nil {
		return "", err
	}
	if !m.cfg.Standalone {
		return "", reject(CodeNotStandalone, "getDevicePushTokenAsync is only accessible within standalone applications", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.TokenTimeout)
	defer cancel()

	token, err := m.deps.DeviceTokens.DeviceToken(ctx, st.experienceID)
	if err != nil {
		return "", reject(CodeGetDeviceTokenFailed, "Couldn't get device push token", err)
	}
	return token, nil
}

// GetExperiencePushToken returns the experience-scoped push token.
func (m *Module) GetExperiencePushToken(ctx context.Context) (string, error) {
	st, err := m.state()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.TokenTimeout)
	defer cancel()

	token, err := m.deps.ExperienceTokens.ExperienceToken(ctx, st.experienceID)
	if errors.Is(err, pushtoken.ErrNoInstallationID) {
		return "", reject(CodeGetGCMTokenFailed, "Couldn't get GCM token on device.", err)
	}
	if err != nil {
		return "", reject(CodeGetGCMTokenFailed, "Couldn't get GCM token for device", err)
	}
	return token, nil
}

// --- Mailbox ---

func (m *Module) OnUserInteraction(ctx context.Context, payload notifications.Payload) {
	m.emit(ctx, notifications.EventUserInteraction, payload)
}

func (m *Module) OnForegroundNotification(ctx context.Context, payload notifications.Payload) {
	m.emit(ctx, notifications.EventForegroundNotification, payload)
}

func (m *Module) emit(ctx context.Context, name string, payload notifications.Payload) {
	event := notifications.Event{Name: name, ExperienceID: m.ExperienceID(), Payload: payload}
	if err := m.deps.Events.Emit(ctx, event); err != nil {
		m.logger.Error("Failed to emit event", "event", name, "err", err)
	}
}
