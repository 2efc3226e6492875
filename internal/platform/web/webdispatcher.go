// Package web delivers notifications to browsers with VAPID Web Push.
package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// Config holds the VAPID identity.
type Config struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"-"`
	SubscriberEmail string `yaml:"subscriber_email"`
	TTL             int    `yaml:"ttl_seconds"`
}

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient *http.Client
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the client used to reach push services.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

func NewDispatcher(cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60
	}
	d := &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        ttl,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends to each subscription and returns the ones the push
// service reported as gone, for removal.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	subs []notification.WebPushSubscription,
	content notification.NotificationContent,
	data map[string]string,
) (string, []notification.WebPushSubscription, error) {

	var invalidSubs []notification.WebPushSubscription
	successCount := 0
	failureCount := 0

	payloadBytes, err := json.Marshal(map[string]interface{}{
		"notification": map[string]string{
			"title": content.Title,
			"body":  content.Body,
			"tag":   data[dispatch.DataKeyExperienceID],
		},
		"data": data,
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	for _, sub := range subs {
		s := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: base64.RawURLEncoding.EncodeToString(sub.Keys.P256dh),
				Auth:   base64.RawURLEncoding.EncodeToString(sub.Keys.Auth),
			},
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, s, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             d.ttl,
			Topic:           data[dispatch.DataKeyNotificationID],
			HTTPClient:      d.httpClient,
		})
		if err != nil {
			// Transport error (DNS, Timeout) - Log and skip, don't delete
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			failureCount++
			continue
		}
		status := resp.StatusCode
		_ = resp.Body.Close()

		switch status {
		case http.StatusCreated, http.StatusOK:
			successCount++
		case http.StatusGone, http.StatusNotFound:
			invalidSubs = append(invalidSubs, sub)
			failureCount++
		default:
			d.logger.Warn("WebPush rejected", "status", status, "endpoint", sub.Endpoint)
			failureCount++
		}
	}

	receipt := fmt.Sprintf("success:%d invalid:%d total_fail:%d", successCount, len(invalidSubs), failureCount)
	return receipt, invalidSubs, nil
}
