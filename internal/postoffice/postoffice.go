// Package postoffice routes in-process deliveries to the bridge module of an
// experience, queueing them while that module is not active.
package postoffice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// Kind distinguishes the two mailbox callbacks.
type Kind string

const (
	KindUserInteraction        Kind = "user_interaction"
	KindForegroundNotification Kind = "foreground_notification"
)

// Delivery is a single queued mailbox item.
type Delivery struct {
	Kind     Kind                  `json:"kind"`
	Payload  notifications.Payload `json:"payload"`
	QueuedAt time.Time             `json:"queuedAt"`
}

// PendingStore holds deliveries for experiences without a registered mailbox.
type PendingStore interface {
	Push(ctx context.Context, experienceID string, d Delivery) error
	// Drain returns and removes every queued delivery, oldest first.
	Drain(ctx context.Context, experienceID string) ([]Delivery, error)
}

// Office is the post office. Each experience has its own lane lock that
// serializes registration and sends for it, so a mailbox sees pending
// deliveries before any new ones. Mailbox callbacks run outside the office
// lock and never hold up other experiences.
type Office struct {
	mu        sync.Mutex
	mailboxes map[string]notifications.Mailbox
	lanes     map[string]*sync.Mutex
	pending   PendingStore
	clock     func() time.Time
	logger    *slog.Logger
}

func New(pending PendingStore, logger *slog.Logger) *Office {
	if pending == nil {
		pending = NewMemoryStore()
	}
	return &Office{
		mailboxes: make(map[string]notifications.Mailbox),
		lanes:     make(map[string]*sync.Mutex),
		pending:   pending,
		clock:     time.Now,
		logger:    logger.With("component", "PostOffice"),
	}
}

func (o *Office) lane(experienceID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.lanes[experienceID]
	if !ok {
		l = &sync.Mutex{}
		o.lanes[experienceID] = l
	}
	return l
}

func (o *Office) mailbox(experienceID string) (notifications.Mailbox, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	mailbox, ok := o.mailboxes[experienceID]
	return mailbox, ok
}

// RegisterModuleAndGetPendingDeliveries attaches the mailbox and hands it
// everything queued while the experience had none.
func (o *Office) RegisterModuleAndGetPendingDeliveries(ctx context.Context, experienceID string, mailbox notifications.Mailbox) error {
	lane := o.lane(experienceID)
	lane.Lock()
	defer lane.Unlock()

	o.mu.Lock()
	o.mailboxes[experienceID] = mailbox
	o.mu.Unlock()

	queued, err := o.pending.Drain(ctx, experienceID)
	if err != nil {
		return fmt.Errorf("failed to drain pending deliveries for %s: %w", experienceID, err)
	}
	if len(queued) > 0 {
		o.logger.Info("Delivering pending items", "experience_id", experienceID, "count", len(queued))
	}
	for _, d := range queued {
		deliver(ctx, mailbox, d)
	}
	return nil
}

func (o *Office) UnregisterModule(experienceID string) {
	lane := o.lane(experienceID)
	lane.Lock()
	defer lane.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.mailboxes, experienceID)
}

func (o *Office) SendForegroundNotification(ctx context.Context, experienceID string, payload notifications.Payload) error {
	return o.send(ctx, experienceID, KindForegroundNotification, payload)
}

func (o *Office) NotifyUserInteraction(ctx context.Context, experienceID string, payload notifications.Payload) error {
	return o.send(ctx, experienceID, KindUserInteraction, payload)
}

func (o *Office) send(ctx context.Context, experienceID string, kind Kind, payload notifications.Payload) error {
	d := Delivery{Kind: kind, Payload: payload, QueuedAt: o.clock()}

	lane := o.lane(experienceID)
	lane.Lock()
	defer lane.Unlock()

	if mailbox, ok := o.mailbox(experienceID); ok {
		deliver(ctx, mailbox, d)
		return nil
	}
	if err := o.pending.Push(ctx, experienceID, d); err != nil {
		return fmt.Errorf("failed to queue %s for %s: %w", kind, experienceID, err)
	}
	o.logger.Debug("Queued delivery", "experience_id", experienceID, "kind", kind)
	return nil
}

func deliver(ctx context.Context, mailbox notifications.Mailbox, d Delivery) {
	switch d.Kind {
	case KindUserInteraction:
		mailbox.OnUserInteraction(ctx, d.Payload)
	case KindForegroundNotification:
		mailbox.OnForegroundNotification(ctx, d.Payload)
	}
}
