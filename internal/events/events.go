// Package events forwards bridge events to the application layer.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// Message attributes set on every published event.
const (
	AttrEvent        = "event"
	AttrExperienceID = "experience_id"
)

// PubsubEmitter publishes each event as a JSON message to a topic.
type PubsubEmitter struct {
	publisher *pubsub.Publisher
	logger    *slog.Logger
}

func NewPubsubEmitter(client *pubsub.Client, topicID string, logger *slog.Logger) *PubsubEmitter {
	return &PubsubEmitter{
		publisher: client.Publisher(topicID),
		logger:    logger.With("component", "PubsubEmitter", "topic", topicID),
	}
}

func (e *PubsubEmitter) Emit(ctx context.Context, event notifications.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	result := e.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrEvent:        event.Name,
			AttrExperienceID: event.ExperienceID,
		},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Name, err)
	}
	e.logger.Debug("Event published", "event", event.Name, "experience_id", event.ExperienceID, "message_id", id)
	return nil
}

// Stop flushes pending publishes.
func (e *PubsubEmitter) Stop() {
	e.publisher.Stop()
}

// Buffer keeps a bounded queue of events per experience for clients that poll.
type Buffer struct {
	mu     sync.Mutex
	limit  int
	queues map[string][]notifications.Event
}

func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = 100
	}
	return &Buffer{limit: limit, queues: make(map[string][]notifications.Event)}
}

// Emit appends the event, dropping the oldest once the queue is full.
func (b *Buffer) Emit(_ context.Context, event notifications.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := append(b.queues[event.ExperienceID], event)
	if len(q) > b.limit {
		q = q[len(q)-b.limit:]
	}
	b.queues[event.ExperienceID] = q
	return nil
}

// Drain returns and clears the queued events of an experience.
func (b *Buffer) Drain(experienceID string) []notifications.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queues[experienceID]
	delete(b.queues, experienceID)
	return out
}

// LogEmitter only logs events.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With("component", "LogEmitter")}
}

func (e *LogEmitter) Emit(_ context.Context, event notifications.Event) error {
	e.logger.Info("Event", "event", event.Name, "experience_id", event.ExperienceID)
	return nil
}

// Multi emits to every emitter and joins their errors.
type Multi []notifications.EventEmitter

func (m Multi) Emit(ctx context.Context, event notifications.Event) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
