// Package channels manages notification channels scoped to one experience.
package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// Default channel every experience posts to when no channel is named.
const (
	DefaultChannelID   = "expo-default"
	DefaultChannelName = "Default"
)

const scopeSeparator = "/"

// ScopeManager creates and deletes channels on the notification service under
// experience-scoped identifiers, so two experiences may use the same channel id.
type ScopeManager struct {
	experienceID string
	service      notifications.NotificationService
}

// NewScopeManager creates a channel manager for one experience.
func NewScopeManager(experienceID string, service notifications.NotificationService) *ScopeManager {
	return &ScopeManager{experienceID: experienceID, service: service}
}

// ScopedID returns the platform identifier of a channel of this experience.
func (s *ScopeManager) ScopedID(channelID string) string {
	return ScopedID(s.experienceID, channelID)
}

// ScopedID scopes a channel id to an experience.
func ScopedID(experienceID, channelID string) string {
	return experienceID + scopeSeparator + channelID
}

// AddChannel creates (or updates) the channel on the notification service.
func (s *ScopeManager) AddChannel(ctx context.Context, channelID string, channel notifications.Channel) error {
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("channel id is required")
	}
	channel.ID = s.ScopedID(channelID)
	if channel.Name == "" {
		channel.Name = channelID
	}
	if channel.Importance == "" {
		channel.Importance = notifications.ChannelImportanceDefault
	}
	if err := s.service.CreateChannel(ctx, channel); err != nil {
		return fmt.Errorf("failed to create channel %s: %w", channelID, err)
	}
	return nil
}

// DeleteChannel removes the channel from the notification service.
func (s *ScopeManager) DeleteChannel(ctx context.Context, channelID string) error {
	if err := s.service.DeleteChannel(ctx, s.ScopedID(channelID)); err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", channelID, err)
	}
	return nil
}

// GetChannel looks up a channel of this experience by its unscoped id.
func (s *ScopeManager) GetChannel(ctx context.Context, channelID string) (notifications.Channel, bool) {
	return s.service.GetChannel(ctx, s.ScopedID(channelID))
}

// FromPayload builds a channel from the loosely typed data the application
// layer sends. Unknown keys are ignored.
func FromPayload(channelID string, data notifications.Payload) notifications.Channel {
	ch := notifications.Channel{
		ID:          channelID,
		Name:        data.String("name"),
		Description: data.String("description"),
		Importance:  notifications.ChannelImportanceDefault,
	}
	switch notifications.ChannelImportance(data.String("priority")) {
	case notifications.ChannelImportanceMin, notifications.ChannelImportanceLow,
		notifications.ChannelImportanceHigh, notifications.ChannelImportanceMax:
		ch.Importance = notifications.ChannelImportance(data.String("priority"))
	}
	if v, ok := data["sound"].(bool); ok {
		ch.Sound = v
	}
	switch v := data["vibrate"].(type) {
	case bool:
		ch.Vibrate = v
	case []any:
		ch.Vibrate = len(v) > 0
	}
	if v, ok := data["badge"].(bool); ok {
		ch.Badge = v
	}
	ch.GroupID = data.String("groupId")
	return ch
}
