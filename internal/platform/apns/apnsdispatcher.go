// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.tinywide.messenger)
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string `yaml:"-"`
	// Development routes pushes to the sandbox gateway.
	Development bool `yaml:"development"`
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Development {
		client = client.Development()
	} else {
		client = client.Production()
	}

	return &Dispatcher{
		client: client,
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

// Dispatch sends the notification to a batch of APNs tokens.
// The APNs HTTP/2 API is unary, so tokens are sent one at a time.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	tokens []string,
	content notification.NotificationContent,
	data map[string]string,
) (string, []string, error) {
	if len(tokens) == 0 {
		return "skipped: no tokens", nil, nil
	}

	var invalidTokens []string
	successCount := 0
	failureCount := 0

	p := buildPayload(content, data)

	for _, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return "", invalidTokens, err
		}

		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			Payload:     p,
			CollapseID:  data[dispatch.DataKeyNotificationID],
		}

		res, err := d.client.PushWithContext(ctx, n)
		if err != nil {
			d.logger.Error("APNs transport failed", "token", deviceToken, "err", err)
			failureCount++
			continue
		}

		if res.Sent() {
			successCount++
			continue
		}

		failureCount++
		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			invalidTokens = append(invalidTokens, deviceToken)
		default:
			// The token may be fine; our configuration is not.
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidTokens), failureCount)
	return receipt, invalidTokens, nil
}

func buildPayload(content notification.NotificationContent, data map[string]string) *payload.Payload {
	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body)

	if content.Sound != "" {
		builder.Sound(content.Sound)
	}
	if category := data[dispatch.DataKeyCategoryID]; category != "" {
		builder.Category(category)
	}
	if exp := data[dispatch.DataKeyExperienceID]; exp != "" {
		builder.ThreadID(exp)
	}
	for k, v := range data {
		builder.Custom(k, v)
	}
	return builder
}
