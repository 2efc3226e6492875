package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-notification-bridge/internal/postoffice"
)

// ListClient is the list subset of Redis used for queues.
type ListClient interface {
	Append(ctx context.Context, key string, value []byte, ttl time.Duration) error
	TakeAll(ctx context.Context, key string) ([][]byte, error)
}

// PendingDeliveries is a postoffice.PendingStore that survives restarts.
type PendingDeliveries struct {
	lists  ListClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewPendingDeliveries(lists ListClient, ttl time.Duration, logger *slog.Logger) *PendingDeliveries {
	return &PendingDeliveries{
		lists:  lists,
		ttl:    ttl,
		logger: logger.With("component", "PendingDeliveries"),
	}
}

func (p *PendingDeliveries) Push(ctx context.Context, experienceID string, d postoffice.Delivery) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode delivery: %w", err)
	}
	return p.lists.Append(ctx, p.key(experienceID), b, p.ttl)
}

func (p *PendingDeliveries) Drain(ctx context.Context, experienceID string) ([]postoffice.Delivery, error) {
	raw, err := p.lists.TakeAll(ctx, p.key(experienceID))
	if err != nil {
		return nil, fmt.Errorf("failed to read pending deliveries: %w", err)
	}
	out := make([]postoffice.Delivery, 0, len(raw))
	for _, b := range raw {
		var d postoffice.Delivery
		if err := json.Unmarshal(b, &d); err != nil {
			p.logger.Warn("Dropping undecodable delivery", "experience_id", experienceID, "err", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *PendingDeliveries) key(experienceID string) string {
	return fmt.Sprintf("notify:pending:%s", experienceID)
}
