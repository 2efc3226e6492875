// Package dispatch defines the contracts between the device notification
// manager and the push transports that deliver to physical devices.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Reserved data keys the device layer attaches to every dispatched message.
// Dispatchers lift them into platform-specific fields where one exists.
const (
	DataKeyNotificationID = "notificationId"
	DataKeyExperienceID   = "experienceId"
	DataKeyChannelID      = "channelId"
	DataKeyCategoryID     = "categoryId"
)

// Dispatcher defines the contract for a component that can send notifications
// to a token-addressed platform (e.g., Apple's APNS, Google's FCM).
type Dispatcher interface {
	// Dispatch sends the content to a batch of tokens. It returns a receipt and
	// the tokens the platform reported as permanently invalid.
	Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (string, []string, error)
}

// WebDispatcher sends to VAPID Web Push subscriptions.
type WebDispatcher interface {
	Dispatch(ctx context.Context, subs []notification.WebPushSubscription, content notification.NotificationContent, data map[string]string) (string, []notification.WebPushSubscription, error)
}

// DeviceTargets is the fan-out set of devices registered for one experience.
type DeviceTargets struct {
	ExperienceID     string                             `json:"experienceId"`
	MobileTokens     []string                           `json:"mobileTokens"`
	WebSubscriptions []notification.WebPushSubscription `json:"webSubscriptions"`
}

// TokenStore defines the contract for managing device tokens per experience.
// It allows the service to remember "where" to send notifications.
type TokenStore interface {
	RegisterMobile(ctx context.Context, experienceID, token string) error
	RegisterWeb(ctx context.Context, experienceID string, sub notification.WebPushSubscription) error
	UnregisterMobile(ctx context.Context, experienceID, token string) error
	UnregisterWeb(ctx context.Context, experienceID, endpoint string) error

	// Fetch returns every registered device for the experience.
	Fetch(ctx context.Context, experienceID string) (*DeviceTargets, error)
}
