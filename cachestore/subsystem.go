package cachestore

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jasmine-nahrain/trafficserver/transact"
)

// Subsystem adapts any Cache backend into a collab.CacheSubsystem, encoding
// and decoding transact.CachedObject values through Encode/Decode and
// tracking write locks in memory. It is the glue the runtime driver wires
// between a transact.Director and a concrete backend (redis, leveldb,
// memcache, ...); transact and collab never reference it directly.
//
// Write locks are process-local: two Subsystem instances backed by the
// same remote store (e.g. two proxy processes sharing one Redis) do not
// coordinate with each other. A deployment that needs cross-process write
// locking puts that coordination in the Cache backend itself (as redis.go
// could, with SETNX) rather than here.
type Subsystem struct {
	cache Cache

	mu     sync.Mutex
	locked map[string]struct{}
}

// NewSubsystem wraps cache as a collab.CacheSubsystem.
func NewSubsystem(cache Cache) *Subsystem {
	return &Subsystem{cache: cache, locked: make(map[string]struct{})}
}

// OpenRead resolves a cache lookup for key, decoding the stored bytes back
// into a CachedObject. A miss or decode failure both return (nil, nil):
// only a storage-layer error propagates, matching the Cacheability
// Evaluator's distinction between "nothing there" and "lookup broke".
func (s *Subsystem) OpenRead(ctx context.Context, key string) (*transact.CachedObject, error) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cachestore: open read %q: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	obj, err := Decode(key, data)
	if err != nil {
		GetLogger().Warn("cachestore: discarding undecodable cache entry", "key", key, "error", err)
		return nil, nil
	}
	return obj, nil
}

// OpenWrite attempts to acquire key's write lock.
func (s *Subsystem) OpenWrite(ctx context.Context, key string) (transact.WriteLockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.locked[key]; busy {
		return transact.LockFail, nil
	}
	s.locked[key] = struct{}{}
	return transact.LockSuccess, nil
}

// Commit stores obj under key and releases the write lock OpenWrite
// acquired. body is accepted for interface compliance: Encode only
// serializes headers, so a deployment that caches bodies persists them
// separately through its own BodyFactory sink.
func (s *Subsystem) Commit(ctx context.Context, key string, obj *transact.CachedObject, body io.Reader) error {
	defer s.unlock(key)
	data, err := Encode(obj)
	if err != nil {
		return fmt.Errorf("cachestore: encode %q: %w", key, err)
	}
	if err := s.cache.Set(ctx, key, data); err != nil {
		return fmt.Errorf("cachestore: commit %q: %w", key, err)
	}
	return nil
}

// UpdateHeaders rewrites the stored headers for key, the
// revalidation-success path (spec's 304 merge). The stored body, if the
// backend keeps one alongside, is untouched since Encode never carries it.
func (s *Subsystem) UpdateHeaders(ctx context.Context, key string, obj *transact.CachedObject) error {
	data, err := Encode(obj)
	if err != nil {
		return fmt.Errorf("cachestore: encode %q: %w", key, err)
	}
	if err := s.cache.Set(ctx, key, data); err != nil {
		return fmt.Errorf("cachestore: update headers %q: %w", key, err)
	}
	return nil
}

// Delete removes key's stored object. On a StaleCache backend this marks
// the entry stale rather than evicting it outright, so a subsequent
// stale-if-error lookup (RFC 5861) can still find it; plain Cache backends
// just delete.
func (s *Subsystem) Delete(ctx context.Context, key string) error {
	if sc, ok := s.cache.(StaleCache); ok {
		if err := sc.MarkStale(ctx, key); err != nil {
			return fmt.Errorf("cachestore: mark stale %q: %w", key, err)
		}
		return nil
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("cachestore: delete %q: %w", key, err)
	}
	return nil
}

// Abort releases a write lock acquired by OpenWrite without storing
// anything.
func (s *Subsystem) Abort(ctx context.Context, key string) error {
	s.unlock(key)
	return nil
}

func (s *Subsystem) unlock(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locked, key)
}
