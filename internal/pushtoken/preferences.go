package pushtoken

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// EnsureInstallationID returns the stored installation id, minting and
// storing a new one on first use.
func EnsureInstallationID(ctx context.Context, prefs Preferences) (string, error) {
	id, ok, err := prefs.Get(ctx, KeyInstallationID)
	if err != nil {
		return "", fmt.Errorf("failed to read installation id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := prefs.Set(ctx, KeyInstallationID, id); err != nil {
		return "", fmt.Errorf("failed to store installation id: %w", err)
	}
	return id, nil
}

// MemoryPreferences is a Preferences map for tests and single-process runs.
type MemoryPreferences struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{values: make(map[string]string)}
}

func (p *MemoryPreferences) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok, nil
}

func (p *MemoryPreferences) Set(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return nil
}
