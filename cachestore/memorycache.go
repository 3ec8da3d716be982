package cachestore

import (
	"context"
	"sync"
)

// MemoryCache is a Cache implementation that stores entries in an
// in-memory map. cmd/proxy uses it as its cache backend.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string][]byte
	stale map[string]struct{}
}

// NewMemoryCache returns a Cache that stores items in an in-memory map.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: map[string][]byte{}, stale: map[string]struct{}{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (resp []byte, ok bool, err error) {
	c.mu.RLock()
	resp, ok = c.items[key]
	c.mu.RUnlock()
	return resp, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, resp []byte) error {
	c.mu.Lock()
	c.items[key] = resp
	delete(c.stale, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	delete(c.stale, key)
	c.mu.Unlock()
	return nil
}

// MarkStale marks key as stale instead of evicting it, satisfying
// cachestore.StaleCache.
func (c *MemoryCache) MarkStale(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		return nil
	}
	c.stale[key] = struct{}{}
	return nil
}

func (c *MemoryCache) IsStale(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	_, stale := c.stale[key]
	c.mu.RUnlock()
	return stale, nil
}

func (c *MemoryCache) GetStale(ctx context.Context, key string) (resp []byte, ok bool, err error) {
	stale, err := c.IsStale(ctx, key)
	if err != nil || !stale {
		return nil, false, err
	}
	return c.Get(ctx, key)
}

var (
	_ Cache      = (*MemoryCache)(nil)
	_ StaleCache = (*MemoryCache)(nil)
)
