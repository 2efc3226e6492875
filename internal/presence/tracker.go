// Package presence tracks how visible each experience currently is, as
// reported by the application layer.
package presence

import (
	"sync"

	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

// Tracker stores the last reported importance per experience.
type Tracker struct {
	mu       sync.RWMutex
	states   map[string]notifications.Importance
	fallback notifications.Importance
}

// NewTracker creates a tracker that reports fallback for unknown experiences.
func NewTracker(fallback notifications.Importance) *Tracker {
	return &Tracker{
		states:   make(map[string]notifications.Importance),
		fallback: fallback,
	}
}

func (t *Tracker) Importance(experienceID string) notifications.Importance {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if imp, ok := t.states[experienceID]; ok {
		return imp
	}
	return t.fallback
}

// Set records the importance of an experience. Gone forgets it.
func (t *Tracker) Set(experienceID string, imp notifications.Importance) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if imp == notifications.ImportanceGone {
		delete(t.states, experienceID)
		return
	}
	t.states[experienceID] = imp
}
