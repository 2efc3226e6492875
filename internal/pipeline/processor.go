package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// IDAllocator hands out notification ids.
type IDAllocator interface {
	Next() (int, error)
	Release(id int)
}

// NewProcessor presents each remote notification with a fresh id. A
// presentation failure is returned so the message is redelivered.
func NewProcessor(
	presenter notifications.Presenter,
	ids IDAllocator,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[RemoteNotification] {

	return func(ctx context.Context, original messagepipeline.Message, remote *RemoteNotification) error {
		procLogger := logger.With(
			"experience_id", remote.ExperienceID,
			"pubsub_msg_id", original.ID,
		)

		id, err := ids.Next()
		if err != nil {
			procLogger.Error("Failed to allocate notification id", "err", err)
			return fmt.Errorf("failed to allocate notification id: %w", err)
		}

		payload := remote.Data.Clone()
		payload[notifications.PayloadKeyNotificationID] = strconv.Itoa(id)
		payload[notifications.PayloadKeyExperienceID] = remote.ExperienceID

		req := notifications.Request{ID: id, ExperienceID: remote.ExperienceID, Payload: payload}
		if err := presenter.Present(ctx, req); err != nil {
			ids.Release(id)
			procLogger.Error("Failed to present remote notification", "err", err)
			return err
		}

		procLogger.Info("Remote notification presented", "notification_id", id)
		return nil
	}
}
