package device_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-bridge/internal/device"
	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockMobileDispatcher struct {
	mock.Mock
}

func (m *mockMobileDispatcher) Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (string, []string, error) {
	args := m.Called(ctx, tokens, content, data)
	return args.String(0), args.Get(1).([]string), args.Error(2)
}

type mockWebDispatcher struct {
	mock.Mock
}

func (m *mockWebDispatcher) Dispatch(ctx context.Context, subs []notification.WebPushSubscription, content notification.NotificationContent, data map[string]string) (string, []notification.WebPushSubscription, error) {
	args := m.Called(ctx, subs, content, data)
	return args.String(0), args.Get(1).([]notification.WebPushSubscription), args.Error(2)
}

type mockTokenStore struct {
	mock.Mock
}

func (m *mockTokenStore) Fetch(ctx context.Context, experienceID string) (*dispatch.DeviceTargets, error) {
	args := m.Called(ctx, experienceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatch.DeviceTargets), args.Error(1)
}
func (m *mockTokenStore) UnregisterMobile(ctx context.Context, experienceID, token string) error {
	return m.Called(ctx, experienceID, token).Error(0)
}
func (m *mockTokenStore) UnregisterWeb(ctx context.Context, experienceID, endpoint string) error {
	return m.Called(ctx, experienceID, endpoint).Error(0)
}

// Satisfy strict interface (stubs for unused methods)
func (m *mockTokenStore) RegisterMobile(_ context.Context, _, _ string) error { return nil }
func (m *mockTokenStore) RegisterWeb(_ context.Context, _ string, _ notification.WebPushSubscription) error {
	return nil
}

var allCaps = notifications.Capabilities{Channels: true, ActiveNotifications: true}

func TestManager_Channels(t *testing.T) {
	ctx := context.Background()

	t.Run("Create then delete", func(t *testing.T) {
		m := device.NewManager(allCaps, newTestLogger())
		require.NoError(t, m.CreateChannel(ctx, notifications.Channel{ID: "exp/news", Name: "News"}))

		ch, ok := m.GetChannel(ctx, "exp/news")
		require.True(t, ok)
		assert.Equal(t, "News", ch.Name)

		require.NoError(t, m.DeleteChannel(ctx, "exp/news"))
		_, ok = m.GetChannel(ctx, "exp/news")
		assert.False(t, ok)
	})

	t.Run("Deleting a group removes its channels", func(t *testing.T) {
		m := device.NewManager(allCaps, newTestLogger())
		require.NoError(t, m.CreateChannelGroup(ctx, notifications.ChannelGroup{ID: "g1", Name: "Group"}))
		require.NoError(t, m.CreateChannel(ctx, notifications.Channel{ID: "a", GroupID: "g1"}))
		require.NoError(t, m.CreateChannel(ctx, notifications.Channel{ID: "b"}))

		require.NoError(t, m.DeleteChannelGroup(ctx, "g1"))
		_, okA := m.GetChannel(ctx, "a")
		_, okB := m.GetChannel(ctx, "b")
		assert.False(t, okA)
		assert.True(t, okB)
	})

	t.Run("Unsupported without capability", func(t *testing.T) {
		m := device.NewManager(notifications.Capabilities{}, newTestLogger())
		err := m.CreateChannel(ctx, notifications.Channel{ID: "x"})
		assert.ErrorIs(t, err, notifications.ErrUnsupported)
		assert.ErrorIs(t, m.CreateChannelGroup(ctx, notifications.ChannelGroup{ID: "g"}), notifications.ErrUnsupported)
	})
}

func TestManager_NotifyAndCancel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("Local only without token store", func(t *testing.T) {
		m := device.NewManager(allCaps, newTestLogger(), device.WithClock(clock))
		require.NoError(t, m.Notify(ctx, notifications.PostedNotification{ID: 1, Tag: "exp1"}))
		require.NoError(t, m.Notify(ctx, notifications.PostedNotification{ID: 2, Tag: "exp2"}))

		active, err := m.ActiveNotifications(ctx)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, 1, active[0].ID)
		assert.Equal(t, now, active[0].PostedAt)

		require.NoError(t, m.Cancel(ctx, 1))
		active, err = m.ActiveNotifications(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, 2, active[0].ID)
	})

	t.Run("Active query unsupported", func(t *testing.T) {
		m := device.NewManager(notifications.Capabilities{}, newTestLogger())
		_, err := m.ActiveNotifications(ctx)
		assert.ErrorIs(t, err, notifications.ErrUnsupported)
	})

	t.Run("Routes Mixed Traffic Correctly", func(t *testing.T) {
		mobileMock := new(mockMobileDispatcher)
		webMock := new(mockWebDispatcher)
		storeMock := new(mockTokenStore)

		targets := &dispatch.DeviceTargets{
			ExperienceID:     "exp1",
			MobileTokens:     []string{"fcm-123"},
			WebSubscriptions: []notification.WebPushSubscription{{Endpoint: "https://web.push/abc"}},
		}
		storeMock.On("Fetch", mock.Anything, "exp1").Return(targets, nil)

		content := notification.NotificationContent{Title: "Hello"}
		dataMatcher := mock.MatchedBy(func(d map[string]string) bool {
			return d[dispatch.DataKeyNotificationID] == "7" && d[dispatch.DataKeyExperienceID] == "exp1" && d["custom"] == "v"
		})
		mobileMock.On("Dispatch", mock.Anything, []string{"fcm-123"}, content, dataMatcher).Return("ok", []string{}, nil)
		webMock.On("Dispatch", mock.Anything, targets.WebSubscriptions, content, dataMatcher).
			Return("ok", []notification.WebPushSubscription{}, nil)

		m := device.NewManager(allCaps, newTestLogger(),
			device.WithTokenStore(storeMock),
			device.WithMobileDispatcher(mobileMock),
			device.WithWebDispatcher(webMock),
		)
		err := m.Notify(ctx, notifications.PostedNotification{ID: 7, Tag: "exp1", Content: content, Data: map[string]string{"custom": "v"}})

		require.NoError(t, err)
		mobileMock.AssertExpectations(t)
		webMock.AssertExpectations(t)
	})

	t.Run("Self-Healing Mobile Cleanup", func(t *testing.T) {
		mobileMock := new(mockMobileDispatcher)
		storeMock := new(mockTokenStore)

		storeMock.On("Fetch", mock.Anything, "exp1").Return(&dispatch.DeviceTargets{MobileTokens: []string{"dead"}}, nil)
		mobileMock.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("failed", []string{"dead"}, nil)
		storeMock.On("UnregisterMobile", mock.Anything, "exp1", "dead").Return(nil)

		m := device.NewManager(allCaps, newTestLogger(), device.WithTokenStore(storeMock), device.WithMobileDispatcher(mobileMock))
		require.NoError(t, m.Notify(ctx, notifications.PostedNotification{ID: 3, Tag: "exp1"}))
		storeMock.AssertExpectations(t)
	})

	t.Run("Dispatch failure does not leave an active notification", func(t *testing.T) {
		mobileMock := new(mockMobileDispatcher)
		storeMock := new(mockTokenStore)

		storeMock.On("Fetch", mock.Anything, "exp1").Return(&dispatch.DeviceTargets{MobileTokens: []string{"t"}}, nil)
		mobileMock.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", []string{}, errors.New("transport down"))

		m := device.NewManager(allCaps, newTestLogger(), device.WithTokenStore(storeMock), device.WithMobileDispatcher(mobileMock))
		err := m.Notify(ctx, notifications.PostedNotification{ID: 4, Tag: "exp1"})
		require.Error(t, err)

		active, err := m.ActiveNotifications(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}
