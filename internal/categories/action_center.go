// Package categories keeps the notification categories (named action sets)
// registered by experiences.
package categories

import (
	"sync"

	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

const scopeSeparator = ":"

// ScopedID scopes a category id to an experience. Standalone hosts run a
// single experience and use ids unchanged.
func ScopedID(experienceID, categoryID string, standalone bool) string {
	if standalone {
		return categoryID
	}
	return experienceID + scopeSeparator + categoryID
}

// ActionCenter is the process-wide category registry. Ids are expected to be
// scoped by the caller.
type ActionCenter struct {
	mu         sync.RWMutex
	categories map[string][]notifications.Action
}

func NewActionCenter() *ActionCenter {
	return &ActionCenter{categories: make(map[string][]notifications.Action)}
}

// PutCategory creates or replaces a category.
func (c *ActionCenter) PutCategory(categoryID string, actions []notifications.Action) {
	cp := make([]notifications.Action, len(actions))
	copy(cp, actions)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories[categoryID] = cp
}

// RemoveCategory deletes a category. Unknown ids are ignored.
func (c *ActionCenter) RemoveCategory(categoryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.categories, categoryID)
}

// GetCategory returns the category with the given scoped id.
func (c *ActionCenter) GetCategory(categoryID string) (notifications.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	actions, ok := c.categories[categoryID]
	if !ok {
		return notifications.Category{}, false
	}
	cp := make([]notifications.Action, len(actions))
	copy(cp, actions)
	return notifications.Category{ID: categoryID, Actions: cp}, true
}
