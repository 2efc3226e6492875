package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-notification-bridge/internal/channels"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// LegacyChannelStore keeps channels declared through legacy channel data.
type LegacyChannelStore struct {
	client *firestore.Client
}

func NewLegacyChannelStore(client *firestore.Client) *LegacyChannelStore {
	return &LegacyChannelStore{client: client}
}

type legacyChannelRecord struct {
	ExperienceID string                `firestore:"experience_id"`
	Channel      notifications.Channel `firestore:"channel"`
	CreatedAt    time.Time             `firestore:"created_at"`
}

// MaybeCreateLegacyStoredChannel creates the record unless it exists. The
// first writer wins; later data for the same channel is ignored.
func (s *LegacyChannelStore) MaybeCreateLegacyStoredChannel(ctx context.Context, experienceID, channelID string, data notifications.Payload) (notifications.Channel, bool, error) {
	ref := s.client.Collection("legacy_channels").Doc(docKey(channels.ScopedID(experienceID, channelID)))

	record := legacyChannelRecord{
		ExperienceID: experienceID,
		Channel:      channels.FromPayload(channelID, data),
		CreatedAt:    time.Now(),
	}
	_, err := ref.Create(ctx, record)
	if err == nil {
		return record.Channel, true, nil
	}
	if status.Code(err) != codes.AlreadyExists {
		return notifications.Channel{}, false, fmt.Errorf("failed to create legacy channel: %w", err)
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		return notifications.Channel{}, false, fmt.Errorf("failed to read legacy channel: %w", err)
	}
	var existing legacyChannelRecord
	if err := snap.DataTo(&existing); err != nil {
		return notifications.Channel{}, false, fmt.Errorf("failed to decode legacy channel: %w", err)
	}
	return existing.Channel, false, nil
}
