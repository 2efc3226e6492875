// Package fcm delivers notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

const defaultWebIcon = "/assets/icons/icon-192x192.png"

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts any MessagingClient; *messaging.Client satisfies it.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch sends one multicast. Channel, category and experience data keys
// are lifted into the Android and APNs sections of the message.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	br, err := d.client.SendEachForMulticast(ctx, buildMessage(tokens, content, data))
	if err != nil {
		// A rejected batch will never succeed; ack it instead of retrying.
		if messaging.IsInvalidArgument(err) {
			d.logger.Error("FCM rejected batch as InvalidArgument (dropping)", "err", err)
			return "skipped: invalid_argument", nil, nil
		}
		return "", nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	var invalidTokens []string
	retryableErrors := 0

	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if resp.Success {
				continue
			}
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				invalidTokens = append(invalidTokens, tokens[idx])
				continue
			}
			retryableErrors++
		}
	}

	if retryableErrors > 0 {
		return "", invalidTokens, fmt.Errorf("batch had %d retryable errors", retryableErrors)
	}

	receipt := fmt.Sprintf("success:%d invalid:%d", br.SuccessCount, len(invalidTokens))
	return receipt, invalidTokens, nil
}

func buildMessage(tokens []string, content notification.NotificationContent, data map[string]string) *messaging.MulticastMessage {
	android := &messaging.AndroidNotification{
		Title:     content.Title,
		Body:      content.Body,
		Sound:     content.Sound,
		ChannelID: data[dispatch.DataKeyChannelID],
		Tag:       data[dispatch.DataKeyExperienceID],
	}
	aps := &messaging.Aps{
		Category: data[dispatch.DataKeyCategoryID],
		ThreadID: data[dispatch.DataKeyExperienceID],
	}
	if content.Sound != "" {
		aps.Sound = content.Sound
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
		Android: &messaging.AndroidConfig{
			CollapseKey:  data[dispatch.DataKeyNotificationID],
			Notification: android,
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: aps},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: content.Title,
				Body:  content.Body,
				Icon:  defaultWebIcon,
				Tag:   data[dispatch.DataKeyExperienceID],
			},
		},
	}
}
