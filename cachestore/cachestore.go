// Package cachestore provides the byte-oriented storage contract that
// backs transact.CacheSubsystem collaborators, plus the adapters that
// translate between a transact.CachedObject and the wire bytes a backend
// actually stores.
//
// A Cache implementation only ever sees opaque, encrypted-if-configured
// byte slices keyed by a hashed cache key; everything HTTP-semantic
// (headers, status, freshness) is encoded/decoded at this layer so that
// swapping Redis for LevelDB for S3 never touches transact.
package cachestore

import "context"

// Cache is the storage contract every backend (memory, redis, memcache,
// mongodb, natskv, leveldb, diskv, freecache, hazelcast, postgresql,
// blobcache) implements: Get/Set/Delete over raw bytes, context-aware so a
// backend can honor cancellation and deadlines on the wire.
type Cache interface {
	Get(ctx context.Context, key string) (responseBytes []byte, ok bool, err error)
	Set(ctx context.Context, key string, responseBytes []byte) error
	Delete(ctx context.Context, key string) error
}

// StaleCache is implemented by backends that can serve a response past its
// normal eviction, for the stale-if-error path (spec §4.B "WhenToRevalidate
// failure", RFC 5861). Not every Cache needs it: a backend that evicts on
// Delete and never retains a stale copy simply doesn't implement it, and
// callers type-assert for it.
type StaleCache interface {
	Cache

	// MarkStale marks key's stored entry as stale instead of evicting it,
	// so a later GetStale can still serve it if revalidation fails.
	MarkStale(ctx context.Context, key string) error

	// IsStale reports whether key's stored entry has been marked stale.
	IsStale(ctx context.Context, key string) (bool, error)

	// GetStale retrieves a stale-marked entry, if any.
	GetStale(ctx context.Context, key string) (responseBytes []byte, ok bool, err error)
}
