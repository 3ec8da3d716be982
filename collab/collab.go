// Package collab defines the I/O collaborator interfaces the transaction
// core (package transact) suspends to: DNS resolution, host reputation,
// parent-proxy selection, the cache subsystem, origin body transfer, and
// this machine's identity. transact itself never imports collab — the
// runtime driver (package sm) depends on both, wiring real
// implementations behind these interfaces (spec §6).
package collab

import (
	"context"
	"io"
	"time"

	"github.com/jasmine-nahrain/trafficserver/transact"
)

// DNS resolves a hostname to a connectable address. Implementations may
// consult a local HostDB cache before going to the wire (spec §6 "DNS").
type DNS interface {
	Lookup(ctx context.Context, name string) (addr string, port int, ttl time.Duration, err error)
	ReverseLookup(ctx context.Context, addr string) (name string, err error)
}

// HostDB records and reports origin/parent server health, backing the
// Next-Hop Selector's mark-down/mark-up decisions (spec §4.D, §6
// "HostDB").
type HostDB interface {
	IsDown(host string, port int) bool
	MarkDown(host string, port int, until time.Time)
	MarkUp(host string, port int)
}

// ParentSelector resolves the ordered candidate list transact.SelectNextHop
// chooses from. A deployment with no parent proxies configured returns an
// empty slice, which SelectNextHop treats as "go direct" (spec §4.D, §6
// "ParentSelector").
type ParentSelector interface {
	Candidates(ctx context.Context, s *transact.State) ([]transact.ParentCandidate, error)
}

// CacheSubsystem is the collaborator behind every CacheAction the core
// issues: lookup, the three PREPARE_TO_* write-lock attempts, and the
// terminal write/update/delete (spec §3 "Cache info", §6 "CacheSubsystem").
type CacheSubsystem interface {
	// OpenRead resolves a cache lookup for key, returning the stored
	// object (nil on miss) or an error for a storage-layer failure.
	OpenRead(ctx context.Context, key string) (*transact.CachedObject, error)

	// OpenWrite attempts to acquire the write lock for a PREPARE_TO_*
	// action, reporting the resulting transact.WriteLockState.
	OpenWrite(ctx context.Context, key string) (transact.WriteLockState, error)

	// Commit durably stores obj (with its body read from body) under key
	// and releases the write lock acquired by OpenWrite.
	Commit(ctx context.Context, key string, obj *transact.CachedObject, body io.Reader) error

	// UpdateHeaders rewrites only the stored headers for key (the
	// revalidation-success path), leaving the stored body untouched.
	UpdateHeaders(ctx context.Context, key string, obj *transact.CachedObject) error

	// Delete removes key's stored object, if any.
	Delete(ctx context.Context, key string) error

	// Abort releases a write lock acquired by OpenWrite without storing
	// anything (the write-lock-fail / abandoned-PREPARE_TO_* path).
	Abort(ctx context.Context, key string) error
}

// BodyFactory streams the origin/parent response body to both the client
// and (when the transaction is writing) the cache subsystem at once,
// without requiring the core to buffer it (spec §6 "BodyFactory").
type BodyFactory interface {
	// Tee returns a reader the client consumes; everything read through
	// it is also written to cacheSink as it streams, unless cacheSink is
	// nil (no cache write in progress).
	Tee(origin io.Reader, cacheSink io.Writer) io.Reader
}

// MachineIdentity reports the values transact.Config's identity fields are
// seeded from: the proxy's own UUID (for self-loop detection and the Via
// token), the addresses it is reachable on (for the transparent/CTA
// check), and the port it listens on (spec §3 "Identity & config
// snapshot", §6 "MachineIdentity").
type MachineIdentity interface {
	UUID() string
	LocalAddrs() []string
	ListenPort() int
}
