// Package presenter turns notification requests into shown notifications,
// either through the notification service or, for experiences the user is
// looking at, through in-process foreground delivery.
package presenter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-notification-bridge/internal/channels"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Payload keys read by the presenters.
const (
	KeyTitle      = "title"
	KeyBody       = "body"
	KeySound      = "sound"
	KeyData       = "data"
	KeyChannelID  = "channelId"
	KeyCategoryID = "categoryId"
)

// CategoryLookup resolves a scoped category id to its actions.
type CategoryLookup interface {
	GetCategory(categoryID string) (notifications.Category, bool)
}

// System posts notifications to the notification service, tagged with the
// experience identity.
type System struct {
	service    notifications.NotificationService
	categories CategoryLookup
	logger     *slog.Logger
}

func NewSystem(service notifications.NotificationService, categories CategoryLookup, logger *slog.Logger) *System {
	return &System{
		service:    service,
		categories: categories,
		logger:     logger.With("component", "SystemPresenter"),
	}
}

func (p *System) Present(ctx context.Context, req notifications.Request) error {
	posted, err := p.build(req)
	if err != nil {
		return err
	}
	if err := p.service.Notify(ctx, posted); err != nil {
		return fmt.Errorf("failed to post notification %d: %w", req.ID, err)
	}
	p.logger.Debug("Notification posted", "notification_id", req.ID, "experience_id", req.ExperienceID, "channel_id", posted.ChannelID)
	return nil
}

func (p *System) build(req notifications.Request) (notifications.PostedNotification, error) {
	payload := req.Payload
	posted := notifications.PostedNotification{
		ID:         req.ID,
		Tag:        req.ExperienceID,
		ScheduleID: req.ScheduleID,
		Content: notification.NotificationContent{
			Title: payload.String(KeyTitle),
			Body:  payload.String(KeyBody),
			Sound: soundOf(payload),
		},
		Data: make(map[string]string),
	}

	if p.service.Capabilities().Channels {
		if channelID := payload.String(KeyChannelID); channelID != "" {
			posted.ChannelID = channels.ScopedID(req.ExperienceID, channelID)
		} else {
			posted.ChannelID = channels.DefaultChannelID
		}
	}

	if raw, ok := payload[KeyData]; ok && raw != nil {
		b, err := json.Marshal(raw)
		if err != nil {
			return notifications.PostedNotification{}, fmt.Errorf("failed to encode notification data: %w", err)
		}
		posted.Data[KeyData] = string(b)
	}

	if categoryID := payload.String(KeyCategoryID); categoryID != "" && p.categories != nil {
		posted.CategoryID = categoryID
		if cat, ok := p.categories.GetCategory(categoryID); ok {
			b, err := json.Marshal(cat.Actions)
			if err != nil {
				return notifications.PostedNotification{}, fmt.Errorf("failed to encode category actions: %w", err)
			}
			posted.Data["actions"] = string(b)
		} else {
			p.logger.Warn("Unknown category", "category_id", categoryID)
		}
	}
	return posted, nil
}

func soundOf(payload notifications.Payload) string {
	switch v := payload[KeySound].(type) {
	case bool:
		if v {
			return "default"
		}
	case string:
		return v
	}
	return ""
}
