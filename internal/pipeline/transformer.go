// Package pipeline ingests remote notifications from Pub/Sub and hands them
// to the presenter.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// ErrMissingExperienceID rejects messages that cannot be routed.
var ErrMissingExperienceID = errors.New("remote notification has no experienceId")

// RemoteNotification is the wire form of an inbound push.
type RemoteNotification struct {
	ExperienceID string                `json:"experienceId"`
	Data         notifications.Payload `json:"data"`
}

// RemoteNotificationTransformer is a dataflow Transformer that unmarshals and
// validates a raw message payload. Failures set skip so the subscription
// dead-letters the message instead of redelivering it forever.
func RemoteNotificationTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*RemoteNotification, bool, error) {
	var remote RemoteNotification
	if err := json.Unmarshal(msg.Payload, &remote); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal remote notification from message %s: %w", msg.ID, err)
	}
	if remote.ExperienceID == "" {
		return nil, true, fmt.Errorf("message %s: %w", msg.ID, ErrMissingExperienceID)
	}
	if remote.Data == nil {
		remote.Data = notifications.Payload{}
	}
	return &remote, false, nil
}
