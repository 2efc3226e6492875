// Package notifications contains the public domain models and collaborator
// contracts shared by the bridge, the presenters and the device layer.
package notifications

import (
	"time"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Payload is the free-form structured data carried by a notification
// between the application layer and the bridge.
type Payload map[string]any

// String returns the string value stored under key, or "" if absent or not a string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Payload keys stamped by the bridge on every notification it creates.
const (
	PayloadKeyNotificationID = "notificationId"
	PayloadKeyExperienceID   = "experienceId"
)

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Importance is the process importance of an experience, mirroring the
// ordering used by mobile platforms: lower means more visible to the user.
type Importance int

const (
	ImportanceForeground Importance = 100
	ImportanceVisible    Importance = 200
	ImportanceService    Importance = 300
	ImportanceBackground Importance = 400
	ImportanceGone       Importance = 1000
)

// IsForegroundOrVisible reports whether a notification can be rendered in-process.
func (i Importance) IsForegroundOrVisible() bool {
	return i == ImportanceForeground || i == ImportanceVisible
}

func (i Importance) String() string {
	switch i {
	case ImportanceForeground:
		return "foreground"
	case ImportanceVisible:
		return "visible"
	case ImportanceService:
		return "service"
	case ImportanceBackground:
		return "background"
	default:
		return "gone"
	}
}

// ParseImportance maps the wire name of an importance level back to its value.
func ParseImportance(s string) (Importance, bool) {
	switch s {
	case "foreground":
		return ImportanceForeground, true
	case "visible":
		return ImportanceVisible, true
	case "service":
		return ImportanceService, true
	case "background":
		return ImportanceBackground, true
	case "gone":
		return ImportanceGone, true
	}
	return ImportanceGone, false
}

// ChannelImportance controls how intrusively a channel presents notifications.
type ChannelImportance string

const (
	ChannelImportanceMin     ChannelImportance = "min"
	ChannelImportanceLow     ChannelImportance = "low"
	ChannelImportanceDefault ChannelImportance = "default"
	ChannelImportanceHigh    ChannelImportance = "high"
	ChannelImportanceMax     ChannelImportance = "max"
)

// Channel is a platform notification channel.
type Channel struct {
	ID          string            `json:"id" firestore:"id"`
	Name        string            `json:"name" firestore:"name"`
	Description string            `json:"description,omitempty" firestore:"description,omitempty"`
	Importance  ChannelImportance `json:"importance" firestore:"importance"`
	Sound       bool              `json:"sound" firestore:"sound"`
	Vibrate     bool              `json:"vibrate" firestore:"vibrate"`
	Badge       bool              `json:"badge" firestore:"badge"`
	GroupID     string            `json:"groupId,omitempty" firestore:"group_id,omitempty"`
}

// ChannelGroup groups channels in the platform settings UI.
type ChannelGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TextInput describes the inline reply field of an action.
type TextInput struct {
	Submit      string `json:"submitButtonTitle"`
	Placeholder string `json:"placeholder"`
}

// Action is a single button attached to a notification category.
type Action struct {
	ActionID                 string     `json:"actionId"`
	ButtonTitle              string     `json:"buttonTitle"`
	IsDestructive            bool       `json:"isDestructive,omitempty"`
	IsAuthenticationRequired bool       `json:"isAuthenticationRequired,omitempty"`
	TextInput                *TextInput `json:"textInput,omitempty"`
}

// Category is a named set of actions.
type Category struct {
	ID      string   `json:"id"`
	Actions []Action `json:"actions"`
}

// Request is a single notification presentation request.
type Request struct {
	ID           int
	ExperienceID string
	Payload      Payload
	// ScheduleID is set when the request was produced by a firing schedule.
	ScheduleID string
	// KeepID is set when ID stays bound to its schedule after this delivery.
	KeepID bool
}

// PostedNotification is what the presenter hands to the notification service.
type PostedNotification struct {
	ID         int
	Tag        string
	ChannelID  string
	CategoryID string
	ScheduleID string
	Content    notification.NotificationContent
	Data       map[string]string
}

// ActiveNotification is a notification currently shown by the notification service.
type ActiveNotification struct {
	ID         int
	Tag        string
	ChannelID  string
	ScheduleID string
	Content    notification.NotificationContent
	PostedAt   time.Time
}

// Capabilities is the set of optional platform features, queried once.
type Capabilities struct {
	// Channels reports support for notification channels and channel groups.
	Channels bool
	// ActiveNotifications reports support for listing shown notifications.
	ActiveNotifications bool
}

// Event names delivered to the application layer.
const (
	EventUserInteraction        = "Exponent.onUserInteraction"
	EventForegroundNotification = "Exponent.onForegroundNotification"
)

// Event is a named payload forwarded to the application layer.
type Event struct {
	Name         string  `json:"name"`
	ExperienceID string  `json:"experienceId"`
	Payload      Payload `json:"payload"`
}
