package postoffice

import (
	"context"
	"sync"
)

// MemoryStore is an in-process PendingStore.
type MemoryStore struct {
	mu    sync.Mutex
	queue map[string][]Delivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queue: make(map[string][]Delivery)}
}

func (s *MemoryStore) Push(_ context.Context, experienceID string, d Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[experienceID] = append(s.queue[experienceID], d)
	return nil
}

func (s *MemoryStore) Drain(_ context.Context, experienceID string) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue[experienceID]
	delete(s.queue, experienceID)
	return out, nil
}
