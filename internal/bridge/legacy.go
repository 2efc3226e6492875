package bridge

import (
	"context"
	"sync"

	"github.com/tinywideclouds/go-notification-bridge/internal/channels"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// LegacyChannelStore keeps channels declared through the older per-call
// channel data, so they can be recreated without that data.
type LegacyChannelStore interface {
	// MaybeCreateLegacyStoredChannel stores the channel unless one with the same
	// id already exists, and returns the stored channel and whether it was created.
	MaybeCreateLegacyStoredChannel(ctx context.Context, experienceID, channelID string, data notifications.Payload) (notifications.Channel, bool, error)
}

// MemoryLegacyChannels is a LegacyChannelStore without durability.
type MemoryLegacyChannels struct {
	mu       sync.Mutex
	channels map[string]notifications.Channel
}

func NewMemoryLegacyChannels() *MemoryLegacyChannels {
	return &MemoryLegacyChannels{channels: make(map[string]notifications.Channel)}
}

func (s *MemoryLegacyChannels) MaybeCreateLegacyStoredChannel(_ context.Context, experienceID, channelID string, data notifications.Payload) (notifications.Channel, bool, error) {
	key := channels.ScopedID(experienceID, channelID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.channels[key]; ok {
		return existing, false, nil
	}
	ch := channels.FromPayload(channelID, data)
	s.channels[key] = ch
	return ch, true, nil
}
