package transact

import "time"

// CookiePolicy controls do_cookies_prevent_caching (spec §4.A).
type CookiePolicy int

const (
	CookiesNone CookiePolicy = iota
	CookiesAll
	CookiesImages
	CookiesAllButText
	CookiesAllButTextExt
)

// RequiredHeadersPolicy controls the is_response_cacheable required-headers
// check (spec §4.A).
type RequiredHeadersPolicy int

const (
	RequiredHeadersNone RequiredHeadersPolicy = iota
	RequiredHeadersAtLeastLastModified
	RequiredHeadersCacheControl
)

// ClientIPInsertPolicy controls Client-IP header insertion (spec §4.C).
type ClientIPInsertPolicy int

const (
	ClientIPNeverInsert ClientIPInsertPolicy = iota
	ClientIPIfAbsent
	ClientIPAlways
)

// WhenToRevalidate is the override knob of spec §4.B point 4.
type WhenToRevalidate int

const (
	RevalidateAuto WhenToRevalidate = iota
	RevalidateStaleIfHeuristic
	RevalidateAlwaysStale
	RevalidateNeverStale
	RevalidateStaleIfIMS
)

// WriteLockFailAction controls handle_cache_write_lock's FAIL branch
// (spec §4.F, §7).
type WriteLockFailAction int

const (
	WriteLockFailErrorOnMiss WriteLockFailAction = iota
	WriteLockFailErrorOnMissOrRevalidate
	WriteLockFailErrorOnMissStaleOnRevalidate
	WriteLockFailReadRetry
	WriteLockFailSilentNoAction
)

// RetryKind is the Next-Hop Selector's classification of a retryable
// response (spec §4.D).
type RetryKind int

const (
	RetryNone RetryKind = iota
	RetrySimple
	RetryUnavailableServer
	RetryBoth
)

// Config is the global, shared, read-only configuration snapshot taken at
// transaction start (spec §3, "Identity & config snapshot"; §5, "Shared
// resources"). A transaction's Overridable field is a shallow copy of this
// struct that plugin hooks may mutate freely; handlers must always read
// the overridable copy.
type Config struct {
	// Cacheability (component A)
	CachingEnabled         bool
	CacheableMethods       map[string]bool
	RangeLookupEnabled     bool
	IgnoreAuth             bool
	IgnoreServerNoCache    bool
	RequiredHeaders        RequiredHeadersPolicy
	CookiesPreventCaching  CookiePolicy
	NegativeCachingStatus  map[int]time.Duration

	// Freshness (component B)
	CacheGuaranteedMaxLifetime time.Duration
	HeuristicMinLifetime       time.Duration
	HeuristicMaxLifetime       time.Duration
	HeuristicLMFactor          float64
	WhenToRevalidate           WhenToRevalidate
	CacheMaxStaleAge           time.Duration
	ServeStaleOnWriteLockFail  bool

	// Header Builder (component C)
	ClientIPInsert        ClientIPInsertPolicy
	InsertXForwardedFor   bool
	InsertForwarded       bool
	InsertVia             bool
	ChunkingEnabled       bool
	MaxWebsocketConns     int
	// Websockets is the shared counting semaphore enforcing
	// MaxWebsocketConns (spec §4.C "Upgrade path", §8 scenario 5). It is a
	// pointer so every transaction's Overridable copy still acquires
	// against the same shared count; rebuilt by WithMaxWebsocketConns
	// whenever the limit changes.
	Websockets *WebSocketLimiter

	// Next-Hop Selector (component D)
	GoDirect                          bool
	MaxSimpleRetries                  int
	MaxUnavailableServerRetries       int
	PerParentConnectAttempts          int
	ParentConnectAttempts             int
	EnableParentTimeoutMarkdowns      bool
	MaxProxyCycles                    int
	ConnectAttemptsMaxRetries         int
	ConnectAttemptsMaxRetriesDownServer int
	ConnectAttemptsRRRetries          int
	ConnectPorts                      map[int]bool

	// Write lock / revalidation
	WriteLockFailAction      WriteLockFailAction
	NegativeRevalidatingEnabled bool
	NegativeRevalidatingStatus  map[int]bool
	NegativeRevalidatingLifetime time.Duration
	DocInCacheSkipDNS        bool

	// Cache write-lock conditional stripping suppression (spec §4.C).
	SuppressConditionalStrip bool // mirrors cache_when_to_revalidate == 4

	// Redirects
	MaxRedirects int

	// Identity
	MachineUUID  string
	LocalAddrs   []string
	ListenPort   int
}

// Option configures a Config the way the teacher configures a Transport:
// a small functional-options surface, one With* per tunable.
type Option func(*Config)

// DefaultConfig returns sane defaults matching the reference's documented
// fallbacks (spec §4, §7).
func DefaultConfig() *Config {
	return &Config{
		CachingEnabled: true,
		CacheableMethods: map[string]bool{
			"GET": true, "HEAD": true, "POST": true, "DELETE": true, "PUT": true,
		},
		RangeLookupEnabled:         true,
		RequiredHeaders:            RequiredHeadersNone,
		CookiesPreventCaching:      CookiesNone,
		NegativeCachingStatus:      map[int]time.Duration{},
		CacheGuaranteedMaxLifetime: 365 * 24 * time.Hour,
		HeuristicMinLifetime:       1 * time.Hour,
		HeuristicMaxLifetime:       24 * time.Hour,
		HeuristicLMFactor:          0.10,
		WhenToRevalidate:           RevalidateAuto,
		ClientIPInsert:             ClientIPIfAbsent,
		InsertXForwardedFor:        true,
		InsertVia:                  true,
		ChunkingEnabled:            true,
		MaxWebsocketConns:          1000,
		Websockets:                 NewWebSocketLimiter(1000),
		MaxSimpleRetries:           1,
		MaxUnavailableServerRetries: 2,
		PerParentConnectAttempts:   2,
		ParentConnectAttempts:      4,
		MaxProxyCycles:             1,
		ConnectAttemptsMaxRetries:  1,
		ConnectAttemptsMaxRetriesDownServer: 0,
		ConnectAttemptsRRRetries:   2,
		ConnectPorts:               map[int]bool{80: true, 443: true, 8080: true, 8443: true},
		WriteLockFailAction:        WriteLockFailErrorOnMiss,
		NegativeRevalidatingLifetime: 5 * time.Minute,
		MaxRedirects:               10,
	}
}

// NewConfig builds a Config from DefaultConfig with the given options
// applied, mirroring the teacher's NewTransport(opts ...TransportOption).
func NewConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func WithCachingEnabled(enabled bool) Option {
	return func(c *Config) { c.CachingEnabled = enabled }
}

func WithCookiePolicy(p CookiePolicy) Option {
	return func(c *Config) { c.CookiesPreventCaching = p }
}

func WithWhenToRevalidate(w WhenToRevalidate) Option {
	return func(c *Config) { c.WhenToRevalidate = w }
}

func WithMaxProxyCycles(n int) Option {
	return func(c *Config) { c.MaxProxyCycles = n }
}

// WithMaxWebsocketConns rebuilds the shared WebSocketLimiter at a new cap.
// Call it once at startup; changing MaxWebsocketConns on a live Overridable
// copy would not affect the shared counter.
func WithMaxWebsocketConns(n int) Option {
	return func(c *Config) {
		c.MaxWebsocketConns = n
		c.Websockets = NewWebSocketLimiter(n)
	}
}

func WithConnectPorts(ports ...int) Option {
	return func(c *Config) {
		c.ConnectPorts = make(map[int]bool, len(ports))
		for _, p := range ports {
			c.ConnectPorts[p] = true
		}
	}
}

func WithMachineIdentity(uuid string, localAddrs []string, listenPort int) Option {
	return func(c *Config) {
		c.MachineUUID = uuid
		c.LocalAddrs = localAddrs
		c.ListenPort = listenPort
	}
}

func WithWriteLockFailAction(a WriteLockFailAction) Option {
	return func(c *Config) { c.WriteLockFailAction = a }
}

func WithNegativeRevalidating(enabled bool, statuses []int, lifetime time.Duration) Option {
	return func(c *Config) {
		c.NegativeRevalidatingEnabled = enabled
		c.NegativeRevalidatingStatus = make(map[int]bool, len(statuses))
		for _, s := range statuses {
			c.NegativeRevalidatingStatus[s] = true
		}
		c.NegativeRevalidatingLifetime = lifetime
	}
}
