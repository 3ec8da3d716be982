// Package dnsresolver provides the collab.DNS and collab.HostDB
// implementations the runtime driver (package sm) wires in for real
// deployments: a caching resolver backed by net.Resolver, and an
// in-memory down-host tracker (spec §6 "DNS", "HostDB").
package dnsresolver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// entry is a cached resolution, expiring at expiresAt the way a HostDB
// entry does in the reference implementation.
type entry struct {
	addr      string
	port      int
	expiresAt time.Time
}

// Resolver is a collab.DNS implementation backed by net.Resolver, with a
// small positive-answer cache so repeated lookups for the same hostname
// within a transaction's lifetime don't always hit the wire.
//
// No third-party DNS client is wired here: the only pack repo with
// miekg/dns in its dependency graph (teemuteemu-caddy-language-server)
// never imports it directly, so there is nothing in the corpus to ground
// a hand-rolled resolver client on. net.Resolver is the stdlib's own
// cache-free resolver; Resolver adds the TTL-bounded cache on top.
type Resolver struct {
	resolver *net.Resolver
	ttl      time.Duration

	mu    sync.Mutex
	cache map[string]entry
}

// New returns a Resolver whose positive answers are cached for ttl. A
// ttl of zero disables caching.
func New(ttl time.Duration) *Resolver {
	return &Resolver{
		resolver: net.DefaultResolver,
		ttl:      ttl,
		cache:    make(map[string]entry),
	}
}

// Lookup resolves name to a connectable address and port. DNS answers
// carry no port, so port is always 0; callers combine it with the
// transaction's own port (scheme default or explicit) as needed.
func (r *Resolver) Lookup(ctx context.Context, name string) (addr string, port int, ttl time.Duration, err error) {
	if r.ttl > 0 {
		if e, ok := r.get(name); ok {
			return e.addr, e.port, time.Until(e.expiresAt), nil
		}
	}

	addrs, err := r.resolver.LookupHost(ctx, name)
	if err != nil {
		return "", 0, 0, fmt.Errorf("dnsresolver: lookup %q: %w", name, err)
	}
	if len(addrs) == 0 {
		return "", 0, 0, fmt.Errorf("dnsresolver: lookup %q: no addresses returned", name)
	}

	if r.ttl > 0 {
		r.put(name, entry{addr: addrs[0], expiresAt: time.Now().Add(r.ttl)})
	}
	return addrs[0], 0, r.ttl, nil
}

// ReverseLookup resolves addr to a hostname, used for log formatting and
// PTR-based ACL checks.
func (r *Resolver) ReverseLookup(ctx context.Context, addr string) (name string, err error) {
	names, err := r.resolver.LookupAddr(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("dnsresolver: reverse lookup %q: %w", addr, err)
	}
	if len(names) == 0 {
		return "", fmt.Errorf("dnsresolver: reverse lookup %q: no names returned", addr)
	}
	return names[0], nil
}

func (r *Resolver) get(name string) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[name]
	if !ok || time.Now().After(e.expiresAt) {
		return entry{}, false
	}
	return e, true
}

func (r *Resolver) put(name string, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[name] = e
}

// hostKey identifies a (host, port) pair in the down-host table.
type hostKey struct {
	host string
	port int
}

// HostDB is an in-memory collab.HostDB: it marks a host down until a
// deadline and reports it down until then, matching the mark-down/
// mark-up contract the Next-Hop Selector relies on (spec §4.D).
type HostDB struct {
	mu   sync.Mutex
	down map[hostKey]time.Time
}

// NewHostDB returns an empty HostDB; every host starts up.
func NewHostDB() *HostDB {
	return &HostDB{down: make(map[hostKey]time.Time)}
}

// IsDown reports whether host:port is currently marked down.
func (h *HostDB) IsDown(host string, port int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	until, ok := h.down[hostKey{host, port}]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(h.down, hostKey{host, port})
		return false
	}
	return true
}

// MarkDown records host:port as unreachable until until.
func (h *HostDB) MarkDown(host string, port int, until time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.down[hostKey{host, port}] = until
}

// MarkUp clears any down-mark for host:port.
func (h *HostDB) MarkUp(host string, port int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.down, hostKey{host, port})
}
