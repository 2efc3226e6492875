package bridge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-bridge/internal/bridge"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

func TestHost(t *testing.T) {
	ctx := context.Background()

	t.Run("Activate, look up and deactivate", func(t *testing.T) {
		h := newHarness(t, allCaps, false)
		h.activate(t, "exp1")
		h.activate(t, "exp2")
		assert.Equal(t, []string{"exp1", "exp2"}, h.host.Experiences())

		mod, ok := h.host.Module("exp1")
		require.True(t, ok)
		assert.Equal(t, "exp1", mod.ExperienceID())

		assert.True(t, h.host.Deactivate("exp1"))
		assert.False(t, h.host.Deactivate("exp1"))
		_, ok = h.host.Module("exp1")
		assert.False(t, ok)
	})

	t.Run("Reactivation replaces the module and keeps the mailbox", func(t *testing.T) {
		h := newHarness(t, allCaps, false)
		first := h.activate(t, "exp1")
		second := h.activate(t, "exp1")

		_, err := first.PresentLocalNotification(ctx, notifications.Payload{}, nil)
		assert.Equal(t, bridge.CodeMissingExperienceID, bridge.CodeOf(err))

		require.NoError(t, h.office.SendForegroundNotification(ctx, "exp1", notifications.Payload{"title": "hi"}))
		got := h.events.Drain("exp1")
		require.Len(t, got, 1, "the replacement module still receives deliveries")

		_, err = second.PresentLocalNotification(ctx, notifications.Payload{}, nil)
		assert.NoError(t, err)
	})

	t.Run("Invalid manifest", func(t *testing.T) {
		h := newHarness(t, allCaps, false)
		_, err := h.host.Activate(ctx, []byte(`not json`))
		assert.Error(t, err)
		assert.Empty(t, h.host.Experiences())
	})

	t.Run("Failed re-registration leaves no module behind", func(t *testing.T) {
		h := newHarness(t, allCaps, false)
		office := &flakyOffice{PostOffice: h.office, failOnCall: 3}
		deps := h.deps
		deps.PostOffice = office
		host := bridge.NewHost(bridge.Config{ScheduleTimeout: time.Second, TokenTimeout: time.Second}, deps)

		_, err := host.Activate(ctx, []byte(`{"id":"exp1"}`))
		require.NoError(t, err)
		_, err = host.Activate(ctx, []byte(`{"id":"exp1"}`))
		require.Error(t, err)

		assert.Empty(t, host.Experiences())
		_, ok := host.Module("exp1")
		assert.False(t, ok)
	})

	t.Run("Shutdown tears down every module", func(t *testing.T) {
		h := newHarness(t, allCaps, false)
		mod := h.activate(t, "exp1")
		h.host.Shutdown()

		assert.Empty(t, h.host.Experiences())
		assert.Error(t, mod.DismissAllNotifications(ctx))
	})
}

func TestError(t *testing.T) {
	cause := context.DeadlineExceeded
	err := &bridge.Error{Code: bridge.CodeUnableToSchedule, Message: "scheduler did not respond", Cause: cause}

	assert.Equal(t, "E_UNABLE_TO_SCHEDULE: scheduler did not respond: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, bridge.CodeUnableToSchedule, bridge.CodeOf(err))
	assert.Equal(t, bridge.Code(""), bridge.CodeOf(cause))
}

// flakyOffice fails the registration numbered failOnCall.
type flakyOffice struct {
	notifications.PostOffice
	calls      int
	failOnCall int
}

func (o *flakyOffice) RegisterModuleAndGetPendingDeliveries(ctx context.Context, experienceID string, mailbox notifications.Mailbox) error {
	o.calls++
	if o.calls == o.failOnCall {
		return errors.New("pending store down")
	}
	return o.PostOffice.RegisterModuleAndGetPendingDeliveries(ctx, experienceID, mailbox)
}
