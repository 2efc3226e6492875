// Package device implements the platform notification service: it owns the
// channel registry and the set of shown notifications, and fans every posted
// notification out to the devices registered for its experience.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// Manager is the device notification service.
type Manager struct {
	caps   notifications.Capabilities
	tokens dispatch.TokenStore
	mobile dispatch.Dispatcher
	web    dispatch.WebDispatcher
	clock  func() time.Time
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string]notifications.Channel
	groups   map[string]notifications.ChannelGroup
	active   map[int]notifications.ActiveNotification
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenStore enables fan-out to the devices registered in the store.
func WithTokenStore(store dispatch.TokenStore) Option {
	return func(m *Manager) { m.tokens = store }
}

// WithMobileDispatcher sets the token-addressed transport (FCM or APNs).
func WithMobileDispatcher(d dispatch.Dispatcher) Option {
	return func(m *Manager) { m.mobile = d }
}

// WithWebDispatcher sets the Web Push transport.
func WithWebDispatcher(d dispatch.WebDispatcher) Option {
	return func(m *Manager) { m.web = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a device notification service with a fixed capability set.
func NewManager(caps notifications.Capabilities, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		caps:     caps,
		clock:    time.Now,
		logger:   logger.With("component", "DeviceManager"),
		channels: make(map[string]notifications.Channel),
		groups:   make(map[string]notifications.ChannelGroup),
		active:   make(map[int]notifications.ActiveNotification),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Capabilities() notifications.Capabilities {
	return m.caps
}

// --- Channels ---

func (m *Manager) CreateChannel(_ context.Context, channel notifications.Channel) error {
	if !m.caps.Channels {
		return notifications.ErrUnsupported
	}
	if channel.ID == "" {
		return fmt.Errorf("channel id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channel.ID] = channel
	return nil
}

func (m *Manager) DeleteChannel(_ context.Context, channelID string) error {
	if !m.caps.Channels {
		return notifications.ErrUnsupported
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
	return nil
}

func (m *Manager) GetChannel(_ context.Context, channelID string) (notifications.Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[channelID]
	return ch, ok
}

func (m *Manager) CreateChannelGroup(_ context.Context, group notifications.ChannelGroup) error {
	if !m.caps.Channels {
		return notifications.ErrUnsupported
	}
	if group.ID == "" {
		return fmt.Errorf("channel group id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = group
	return nil
}

// DeleteChannelGroup removes the group together with the channels in it.
func (m *Manager) DeleteChannelGroup(_ context.Context, groupID string) error {
	if !m.caps.Channels {
		return notifications.ErrUnsupported
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, groupID)
	for id, ch := range m.channels {
		if ch.GroupID == groupID {
			delete(m.channels, id)
		}
	}
	return nil
}

// --- Notifications ---

// Notify records the notification as shown and dispatches it to the devices
// registered for its tag. If dispatch fails the notification is not kept.
func (m *Manager) Notify(ctx context.Context, n notifications.PostedNotification) error {
	if n.ChannelID != "" && m.caps.Channels {
		if _, ok := m.GetChannel(ctx, n.ChannelID); !ok {
			m.logger.Warn("Posting to unknown channel", "channel_id", n.ChannelID, "notification_id", n.ID)
		}
	}

	m.mu.Lock()
	previous, replaced := m.active[n.ID]
	m.active[n.ID] = notifications.ActiveNotification{
		ID:         n.ID,
		Tag:        n.Tag,
		ChannelID:  n.ChannelID,
		ScheduleID: n.ScheduleID,
		Content:    n.Content,
		PostedAt:   m.clock(),
	}
	m.mu.Unlock()

	if err := m.fanOut(ctx, n); err != nil {
		m.mu.Lock()
		if replaced {
			m.active[n.ID] = previous
		} else {
			delete(m.active, n.ID)
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) Cancel(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
	return nil
}

func (m *Manager) ActiveNotifications(_ context.Context) ([]notifications.ActiveNotification, error) {
	if !m.caps.ActiveNotifications {
		return nil, notifications.ErrUnsupported
	}
	m.mu.RLock()
	out := make([]notifications.ActiveNotification, 0, len(m.active))
	for _, n := range m.active {
		out = append(out, n)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PostedAt.Equal(out[j].PostedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].PostedAt.Before(out[j].PostedAt)
	})
	return out, nil
}

// fanOut looks up the devices of the experience and sends to each transport,
// removing tokens the transports report as dead.
func (m *Manager) fanOut(ctx context.Context, n notifications.PostedNotification) error {
	if m.tokens == nil {
		return nil
	}
	procLogger := m.logger.With("experience_id", n.Tag, "notification_id", n.ID)

	targets, err := m.tokens.Fetch(ctx, n.Tag)
	if err != nil {
		procLogger.Error("Failed to fetch device tokens", "err", err)
		return fmt.Errorf("failed to fetch device tokens: %w", err)
	}

	data := dispatchData(n)

	// Path A: mobile (FCM or APNs)
	if m.mobile != nil && len(targets.MobileTokens) > 0 {
		receipt, invalidTokens, err := m.mobile.Dispatch(ctx, targets.MobileTokens, n.Content, data)

		if len(invalidTokens) > 0 {
			procLogger.Info("Cleaning up invalid mobile tokens", "count", len(invalidTokens))
			for _, t := range invalidTokens {
				if err := m.tokens.UnregisterMobile(ctx, n.Tag, t); err != nil {
					procLogger.Warn("Failed to delete mobile token", "token", t, "err", err)
				}
			}
		}
		if err != nil {
			procLogger.Error("Mobile dispatch failed", "err", err)
			return fmt.Errorf("mobile dispatch failed: %w", err)
		}
		procLogger.Debug("Mobile dispatched", "receipt", receipt)
	}

	// Path B: Web (VAPID)
	if m.web != nil && len(targets.WebSubscriptions) > 0 {
		receipt, invalidSubs, err := m.web.Dispatch(ctx, targets.WebSubscriptions, n.Content, data)

		if len(invalidSubs) > 0 {
			procLogger.Info("Cleaning up invalid Web subscriptions", "count", len(invalidSubs))
			for _, sub := range invalidSubs {
				if err := m.tokens.UnregisterWeb(ctx, n.Tag, sub.Endpoint); err != nil {
					procLogger.Warn("Failed to delete Web subscription", "endpoint", sub.Endpoint, "err", err)
				}
			}
		}
		if err != nil {
			procLogger.Error("Web dispatch failed", "err", err)
			return fmt.Errorf("web dispatch failed: %w", err)
		}
		procLogger.Debug("Web dispatched", "receipt", receipt)
	}

	if len(targets.MobileTokens) == 0 && len(targets.WebSubscriptions) == 0 {
		procLogger.Debug("No devices registered for experience; kept locally only")
	}
	return nil
}

func dispatchData(n notifications.PostedNotification) map[string]string {
	data := make(map[string]string, len(n.Data)+4)
	for k, v := range n.Data {
		data[k] = v
	}
	data[dispatch.DataKeyNotificationID] = strconv.Itoa(n.ID)
	data[dispatch.DataKeyExperienceID] = n.Tag
	if n.ChannelID != "" {
		data[dispatch.DataKeyChannelID] = n.ChannelID
	}
	if n.CategoryID != "" {
		data[dispatch.DataKeyCategoryID] = n.CategoryID
	}
	return data
}
