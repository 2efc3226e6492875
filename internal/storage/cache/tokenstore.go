// Package cache provides Redis-backed decorators and queues.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-notification-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenStore.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) Fetch(ctx context.Context, experienceID string) (*dispatch.DeviceTargets, error) {
	key := s.cacheKey(experienceID)

	var cached dispatch.DeviceTargets
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.realStore.Fetch(ctx, experienceID)
	if err != nil {
		return nil, err
	}

	// A cache write failure only costs us the next read.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) RegisterMobile(ctx context.Context, experienceID, token string) error {
	if err := s.realStore.RegisterMobile(ctx, experienceID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, experienceID)
}

func (s *CachedTokenStore) RegisterWeb(ctx context.Context, experienceID string, sub notification.WebPushSubscription) error {
	if err := s.realStore.RegisterWeb(ctx, experienceID, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, experienceID)
}

// UnregisterMobile clears the cache even though the next Fetch would
// eventually expire it, so a removed device stops receiving immediately.
func (s *CachedTokenStore) UnregisterMobile(ctx context.Context, experienceID, token string) error {
	if err := s.realStore.UnregisterMobile(ctx, experienceID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, experienceID)
}

func (s *CachedTokenStore) UnregisterWeb(ctx context.Context, experienceID, endpoint string) error {
	if err := s.realStore.UnregisterWeb(ctx, experienceID, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, experienceID)
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, experienceID string) error {
	return s.cache.Del(ctx, s.cacheKey(experienceID))
}

func (s *CachedTokenStore) cacheKey(experienceID string) string {
	return fmt.Sprintf("notify:tokens:%s", experienceID)
}
