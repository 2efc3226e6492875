package channels_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-bridge/internal/channels"
	"github.com/tinywideclouds/go-notification-bridge/internal/device"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

func newService() *device.Manager {
	return device.NewManager(
		notifications.Capabilities{Channels: true, ActiveNotifications: true},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestScopeManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	service := newService()
	exp1 := channels.NewScopeManager("@alice/app", service)
	exp2 := channels.NewScopeManager("@bob/app", service)

	require.NoError(t, exp1.AddChannel(ctx, "chat", notifications.Channel{Name: "Chat"}))

	ch, ok := exp1.GetChannel(ctx, "chat")
	require.True(t, ok)
	assert.Equal(t, "@alice/app/chat", ch.ID)
	assert.Equal(t, notifications.ChannelImportanceDefault, ch.Importance)

	_, ok = exp2.GetChannel(ctx, "chat")
	assert.False(t, ok, "channel must not leak across experiences")

	require.NoError(t, exp2.DeleteChannel(ctx, "chat"))
	_, ok = exp1.GetChannel(ctx, "chat")
	assert.True(t, ok, "deleting another experience's channel id must not remove ours")

	require.NoError(t, exp1.DeleteChannel(ctx, "chat"))
	_, ok = exp1.GetChannel(ctx, "chat")
	assert.False(t, ok)
}

func TestScopeManager_RejectsEmptyID(t *testing.T) {
	m := channels.NewScopeManager("exp", newService())
	assert.Error(t, m.AddChannel(context.Background(), " ", notifications.Channel{}))
}

func TestFromPayload(t *testing.T) {
	ch := channels.FromPayload("promo", notifications.Payload{
		"name":        "Promotions",
		"description": "Deals",
		"priority":    "high",
		"sound":       true,
		"vibrate":     []any{0.0, 250.0},
		"badge":       false,
	})

	assert.Equal(t, "promo", ch.ID)
	assert.Equal(t, "Promotions", ch.Name)
	assert.Equal(t, "Deals", ch.Description)
	assert.Equal(t, notifications.ChannelImportanceHigh, ch.Importance)
	assert.True(t, ch.Sound)
	assert.True(t, ch.Vibrate)
	assert.False(t, ch.Badge)

	fallback := channels.FromPayload("x", notifications.Payload{"priority": "urgent"})
	assert.Equal(t, notifications.ChannelImportanceDefault, fallback.Importance)
}
