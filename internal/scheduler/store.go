package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a schedule id is unknown.
var ErrNotFound = errors.New("schedule not found")

// Record is the persisted form of a schedule. NotificationID is the id
// pinned by the model, or zero.
type Record struct {
	ID             string
	ExperienceID   string
	Kind           string
	Model          []byte
	NotificationID int
	NextFire       time.Time
	CreatedAt      time.Time
}

// Store persists schedules.
type Store interface {
	// Save inserts or replaces a record.
	Save(ctx context.Context, rec Record) error
	// Delete removes a record, returning ErrNotFound if absent.
	Delete(ctx context.Context, id string) error
	// DeleteByExperience removes every record of an experience and returns their ids.
	DeleteByExperience(ctx context.Context, experienceID string) ([]string, error)
	// List returns all records ordered by creation.
	List(ctx context.Context) ([]Record, error)
}

// MemoryStore is a Store without durability.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) DeleteByExperience(_ context.Context, experienceID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, rec := range s.records {
		if rec.ExperienceID == experienceID {
			removed = append(removed, id)
			delete(s.records, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
