package notifications

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by a NotificationService asked to use a
// capability it does not have.
var ErrUnsupported = errors.New("operation not supported by platform")

// NotificationService is the platform notification service: it owns
// channels and the set of shown notifications.
type NotificationService interface {
	Capabilities() Capabilities

	CreateChannel(ctx context.Context, channel Channel) error
	DeleteChannel(ctx context.Context, channelID string) error
	GetChannel(ctx context.Context, channelID string) (Channel, bool)
	CreateChannelGroup(ctx context.Context, group ChannelGroup) error
	DeleteChannelGroup(ctx context.Context, groupID string) error

	// Notify shows a notification. A notification with the same ID replaces the old one.
	Notify(ctx context.Context, n PostedNotification) error
	// Cancel removes a shown notification. Unknown IDs are ignored.
	Cancel(ctx context.Context, id int) error
	// ActiveNotifications requires Capabilities().ActiveNotifications.
	ActiveNotifications(ctx context.Context) ([]ActiveNotification, error)
}

// Presenter renders a notification request.
type Presenter interface {
	Present(ctx context.Context, req Request) error
}

// Mailbox receives deliveries addressed to one experience.
type Mailbox interface {
	OnUserInteraction(ctx context.Context, payload Payload)
	OnForegroundNotification(ctx context.Context, payload Payload)
}

// PostOffice routes deliveries to registered mailboxes, holding them while
// the addressee is not registered.
type PostOffice interface {
	RegisterModuleAndGetPendingDeliveries(ctx context.Context, experienceID string, mailbox Mailbox) error
	UnregisterModule(experienceID string)
	SendForegroundNotification(ctx context.Context, experienceID string, payload Payload) error
	NotifyUserInteraction(ctx context.Context, experienceID string, payload Payload) error
}

// ImportanceProvider reports the current importance of an experience.
type ImportanceProvider interface {
	Importance(experienceID string) Importance
}

// EventEmitter forwards named events to the application layer.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) error
}
