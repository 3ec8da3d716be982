// Package transact implements the HTTP transaction decision core: a pure,
// synchronous state machine that decides what a caching forward/reverse
// proxy should do next for a transaction, given the current State and the
// result of the last I/O the surrounding runtime (the SM) performed.
//
// Nothing in this package performs I/O, blocks, or spawns. Handlers are
// plain functions of *State (plus a *Config snapshot); they mutate State
// and return a Result naming the next_action the SM must execute and the
// handler to re-enter once that action completes.
package transact

import (
	"net/http"
	"time"
)

// ConnState is the last observed outcome of a connection attempt, deposited
// by the SM after a suspension point completes.
type ConnState int

const (
	StateUndefined ConnState = iota
	StateAlive
	StateError
	StateClosed
	StateParseError
	StateInactiveTimeout
	StateActiveTimeout
	StateOpenRawError
	StateBadIncomingResponse
	StateOutboundCongestion
	StateParentRetry
)

// Mode is the transaction's handling mode.
type Mode int

const (
	ModeGeneric Mode = iota
	ModeTunnelling
	ModeStatic
)

// CacheAction is the sum type driving the cache subsystem's state machine
// (spec §3, "Cache info"). A terminal action (Write/Update/Replace/Delete)
// may only be reached after its corresponding PrepareTo* action obtained a
// write lock — see CacheInfo.PassedPrepare.
type CacheAction int

const (
	CacheNoAction CacheAction = iota
	CacheLookup
	CacheWrite
	CacheUpdate
	CacheDelete
	CacheReplace
	CacheServe
	CacheServeAndUpdate
	CacheServeAndDelete
	CachePrepareToWrite
	CachePrepareToUpdate
	CachePrepareToDelete
)

// WriteLockState is the result of a cache open_write attempt.
type WriteLockState int

const (
	LockInit WriteLockState = iota
	LockSuccess
	LockFail
	LockReadRetry
)

// HitMissCode classifies the outcome of a cache lookup.
type HitMissCode int

const (
	HitMissUndefined HitMissCode = iota
	HitMissHit
	HitMissMiss
	HitMissDocBusy
	HitMissPush
)

// CachedObject is the borrowed, read-only representation of a stored
// response. The core never mutates a CachedObject in place; revalidation
// produces a new CachedObject via MergeNotModified.
type CachedObject struct {
	URL           string
	StatusCode    int
	Header        http.Header
	BodySize      int64
	RequestSent   time.Time
	ResponseRecvd time.Time
	// NegativeUntil is set when this object was negative-cached, to the end
	// of its configured negative-caching lifetime. Freshness evaluation
	// does not read it.
	NegativeUntil time.Time
	// NeedRevalidateOnce marks an entry that must be revalidated exactly
	// once regardless of freshness (cleared after the first successful
	// negative-revalidation or real revalidation).
	NeedRevalidateOnce bool
}

// CacheInfo is the "Cache info" field group of spec §3.
type CacheInfo struct {
	Action         CacheAction
	LookupURL      string
	ObjectRead     *CachedObject // borrowed, read-only; nil on miss
	ObjectStore    *CachedObject // pending write, owned by this transaction
	WriteLockState WriteLockState
	HitMissCode    HitMissCode
	LookupResult   error
}

// PassedPrepare records which PrepareTo* step (if any) this transaction has
// already passed through, enforcing invariant §8.7 (at most one).
func (c *CacheInfo) PassedPrepare() bool {
	switch c.Action {
	case CachePrepareToWrite, CachePrepareToUpdate, CachePrepareToDelete:
		return true
	}
	return false
}

// ConnAttrs is a connection attribute record shared by client/server/parent.
type ConnAttrs struct {
	Addr              string
	Port              int
	HTTPVersion       string // "1.0" | "1.1" | "2.0"
	KeepAlive         bool
	TransferEncoding  string
	LastConnectError  error
	SourceAddr        string
	IsTransparent     bool // request's address was client-supplied (CTA)
	AlreadyDowngraded bool
}

// Current is the "Current" field group of spec §3.
type Current struct {
	State                          ConnState
	RequestTo                      string // "origin" | "parent"
	Server                         *ConnAttrs // alias: whichever of ServerInfo/ParentInfo is active
	Mode                           Mode
	RetryType                      RetryKind
	SimpleRetryAttempts            int
	UnavailableServerRetryAttempts int
	RetryAttempts                  int
	// ParentCandidateIndex is the Next-Hop Selector's cursor into
	// State.ParentCandidates (spec §4.D): SelectNextHop resets it, and
	// NextParent resumes from it once the current parent is exhausted.
	ParentCandidateIndex int
	// WebSocketUpgrade and PreUpgradeScheme implement the §4.C upgrade
	// path: detected at StartRemapRequest, consumed at EndRemapRequest to
	// restore the original scheme once the remap hooks have run.
	WebSocketUpgrade bool
	PreUpgradeScheme string
	Now              time.Time
	// ReturnPoint names the handler the Director re-enters once the
	// pending next_action's I/O completes. Empty means terminal.
	ReturnPoint HandlerID
	NextAction  Action
}

// DNSLookingUp identifies what a pending DNS suspension point resolves.
type DNSLookingUp int

const (
	DNSNone DNSLookingUp = iota
	DNSOriginServer
	DNSParentProxy
	DNSHostNone
)

// OSAddrStyle controls where the origin-server address comes from.
type OSAddrStyle int

const (
	AddrTryClient OSAddrStyle = iota
	AddrTryHostDB
	AddrUseClient
	AddrUseHostDB
	AddrUseAPI
)

// DNSInfo is the "DNS info" field group of spec §3.
type DNSInfo struct {
	LookingUp   DNSLookingUp
	LookupName  string
	ResolvedP   bool
	Addr        string
	SrvPort     int
	Record      string
	Active      bool
	OSAddrStyle OSAddrStyle
}

// ParentResult is the sum type for parent-selection outcomes.
type ParentResult int

const (
	ParentUndefined ParentResult = iota
	ParentSpecified
	ParentDirect
	ParentFail
)

// ParentSelection is the "Parent selection result" field group of spec §3.
type ParentSelection struct {
	Result    ParentResult
	Hostname  string
	Port      int
	Retry     bool
	RetryType RetryKind
}

// RedirectInfo is the "Redirect info" field group of spec §3.
type RedirectInfo struct {
	InProcess                   bool
	OriginalURL                 string
	NumberOfRedirectsRemaining  int
}

// RangeSetup classifies how a Range: request is being handled.
type RangeSetup int

const (
	RangeNone RangeSetup = iota
	RangeRequested
	RangeNotHandled
	RangeNotSatisfiable
	RangeNotTransformRequested
)

// ByteRange is a single inclusive byte range.
type ByteRange struct {
	Start, End int64 // End == -1 means "to end of representation"
}

// RangeInfo is the "Range info" field group of spec §3.
type RangeInfo struct {
	Setup          RangeSetup
	RangeOutputCL  int64
	Ranges         []ByteRange
}

// Headers is the "Header set" field group of spec §3.
type Headers struct {
	ClientRequest  http.Header
	ServerRequest  http.Header
	ServerResponse http.Header
	ClientResponse http.Header
}

func (h *Headers) valid(which *http.Header) bool { return which != nil && *which != nil }

// ClientRequestValid reports whether ClientRequest has been parsed.
func (h *Headers) ClientRequestValid() bool { return h.valid(&h.ClientRequest) }

// ServerRequestValid reports whether ServerRequest has been built.
func (h *Headers) ServerRequestValid() bool { return h.valid(&h.ServerRequest) }

// ServerResponseValid reports whether a ServerResponse has been read.
func (h *Headers) ServerResponseValid() bool { return h.valid(&h.ServerResponse) }

// ClientResponseValid reports whether ClientResponse has been built.
func (h *Headers) ClientResponseValid() bool { return h.valid(&h.ClientResponse) }

// RequestMeta carries the parts of the client request the core reasons
// about independent of raw headers: method, URL, and wire version.
type RequestMeta struct {
	Method      string
	URL         string
	Scheme      string
	Host        string
	HTTPVersion string
	MaxForwards int
	HasMaxForwards bool
}

// State is the single flat per-transaction record mutated in place by
// successive handler invocations (spec §3). It is never shared across
// goroutines; the SM drives exactly one transaction's State at a time.
type State struct {
	ID int64

	// Config is the immutable global snapshot; Overridable is the
	// per-transaction copy plugins may mutate. Handlers must read
	// Overridable, never Config, once a transaction has started.
	Config      *Config
	Overridable Config

	Headers  Headers
	Request  RequestMeta
	Cache    CacheInfo

	ClientInfo ConnAttrs
	ServerInfo ConnAttrs
	ParentInfo ConnAttrs

	Current Current
	DNS     DNSInfo
	Parent  ParentSelection
	// ParentCandidates is the ordered candidate list a collab.ParentSelector
	// resolved once, before the transaction entered the Director (spec §5:
	// there is no fifth suspension point for next-hop selection, so the SM
	// fetches this synchronously as part of transaction setup, same as the
	// Config snapshot). SelectNextHop and NextParent read it but never
	// perform I/O themselves.
	ParentCandidates []ParentCandidate
	Redirect         RedirectInfo
	Range            RangeInfo

	Via ViaString

	// ErrorKind is set whenever a handler routes to the error path
	// (spec §7); nil otherwise.
	Error *ErrorKind

	// IncomingViaChain holds the hop tokens parsed from the client
	// request's own Via: header, used for self-loop detection (§4.D).
	IncomingViaChain []string
}

// NewState creates a fresh transaction State from a config snapshot. The
// Overridable copy is a shallow copy the transaction, and any plugin
// running against it, may freely mutate.
func NewState(id int64, cfg *Config, now time.Time) *State {
	s := &State{
		ID:          id,
		Config:      cfg,
		Overridable: *cfg,
		Current:     Current{Now: now, ReturnPoint: HandlerModifyRequest},
	}
	return s
}
