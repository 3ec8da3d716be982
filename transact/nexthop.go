package transact

import (
	"net"
	"strconv"
	"strings"
)

// ParentCandidate is one entry the Next-Hop Selector may route to: either
// the origin server (IsOrigin) or a configured parent proxy.
type ParentCandidate struct {
	Host     string
	Port     int
	IsOrigin bool
}

// unavailableServerStatus marks origin statuses that should trigger a
// mark-down + unavailable-server retry rather than a simple retry.
var unavailableServerStatus = map[int]bool{
	502: true, 503: true, 504: true,
}

// ResponseIsRetryable implements spec §4.D's retry classification: given
// the outcome of a hop attempt (nil header + non-nil connErr means the
// connection itself failed before any response arrived), it returns which
// RetryKind applies.
func ResponseIsRetryable(cfg *Config, status int, connErr error) RetryKind {
	if connErr != nil {
		return RetrySimple
	}
	if unavailableServerStatus[status] {
		return RetryUnavailableServer
	}
	if status == 0 {
		return RetrySimple
	}
	return RetryNone
}

// retryBudget reports whether another attempt of the given kind is still
// allowed under the configured limits (spec §4.D, §8 "retry counter
// monotonicity").
func retryBudget(cfg *Config, cur *Current, kind RetryKind) bool {
	switch kind {
	case RetrySimple:
		return cur.SimpleRetryAttempts < cfg.MaxSimpleRetries
	case RetryUnavailableServer:
		return cur.UnavailableServerRetryAttempts < cfg.MaxUnavailableServerRetries
	case RetryBoth:
		return cur.SimpleRetryAttempts < cfg.MaxSimpleRetries &&
			cur.UnavailableServerRetryAttempts < cfg.MaxUnavailableServerRetries
	default:
		return false
	}
}

// recordRetryAttempt increments the monotonic counters for the given kind.
// Counters never decrease within a transaction (spec §8 invariant 2).
func recordRetryAttempt(cur *Current, kind RetryKind) {
	switch kind {
	case RetrySimple:
		cur.SimpleRetryAttempts++
	case RetryUnavailableServer:
		cur.UnavailableServerRetryAttempts++
	case RetryBoth:
		cur.SimpleRetryAttempts++
		cur.UnavailableServerRetryAttempts++
	}
	cur.RetryAttempts++
}

// ShouldRetry combines classification, budget, and counter bookkeeping into
// the single call the Director makes from
// handle_response_from_{parent,server} (spec §4.D, §4.F).
func ShouldRetry(s *State, status int, connErr error) bool {
	kind := ResponseIsRetryable(&s.Overridable, status, connErr)
	if kind == RetryNone {
		return false
	}
	if !retryBudget(&s.Overridable, &s.Current, kind) {
		return false
	}
	recordRetryAttempt(&s.Current, kind)
	s.Current.RetryType = kind
	return true
}

// SelectNextHop implements spec §4.D's parent/origin selection. candidates
// is the ordered set a ParentSelector collaborator already resolved (ATS
// parent.config-style rules are out of scope for the pure core); this
// function applies the transparent-passthrough / localhost / go_direct
// policy and produces the final ParentSelection verdict. It always starts
// the candidate cursor (Current.ParentCandidateIndex) at the first
// non-origin entry, so a later NextParent call resumes where this left
// off.
//
// go_direct only governs the *fallback* once every candidate has been
// tried and failed (see NextParent); an empty candidate list always means
// direct, regardless of go_direct, since there is nothing to fail over
// from.
func SelectNextHop(s *State, candidates []ParentCandidate, clientRequestedHost string, clientRequestedPort int) ParentSelection {
	cfg := &s.Overridable
	s.Current.ParentCandidateIndex = 0

	if s.ClientInfo.IsTransparent && cfg.GoDirect {
		return ParentSelection{Result: ParentDirect, Hostname: clientRequestedHost, Port: clientRequestedPort}
	}
	if isLoopbackHost(clientRequestedHost) {
		return ParentSelection{Result: ParentDirect, Hostname: clientRequestedHost, Port: clientRequestedPort}
	}
	if len(candidates) == 0 {
		return ParentSelection{Result: ParentDirect, Hostname: clientRequestedHost, Port: clientRequestedPort}
	}

	if c, next, ok := pickCandidate(candidates, 0); ok {
		s.Current.ParentCandidateIndex = next
		return ParentSelection{Result: ParentSpecified, Hostname: c.Host, Port: c.Port}
	}
	s.Current.ParentCandidateIndex = len(candidates)

	if cfg.GoDirect {
		return ParentSelection{Result: ParentDirect, Hostname: clientRequestedHost, Port: clientRequestedPort}
	}
	return ParentSelection{Result: ParentFail}
}

// pickCandidate scans candidates starting at idx for the first non-origin
// entry, returning it and the index just past it for a subsequent
// NextParent call, or ok=false once none remain.
func pickCandidate(candidates []ParentCandidate, idx int) (c ParentCandidate, next int, ok bool) {
	for idx < len(candidates) {
		if !candidates[idx].IsOrigin {
			return candidates[idx], idx + 1, true
		}
		idx++
	}
	return ParentCandidate{}, idx, false
}

// NextParent implements spec §4.D's nextParent lookup, invoked once the
// current parent is exhausted (a DNS failure in PPDNSLookup, or a connect
// failure that has used up its per_parent_connect_attempts budget). It
// advances the candidate cursor past the exhausted entry and either
// returns the next parent, falls back to direct if go_direct permits, or
// reports ParentFail.
func NextParent(s *State) ParentSelection {
	cfg := &s.Overridable
	if c, next, ok := pickCandidate(s.ParentCandidates, s.Current.ParentCandidateIndex); ok {
		s.Current.ParentCandidateIndex = next
		return ParentSelection{Result: ParentSpecified, Hostname: c.Host, Port: c.Port, Retry: true}
	}
	s.Current.ParentCandidateIndex = len(s.ParentCandidates)

	host, port := requestHostPort(s)
	if cfg.GoDirect {
		return ParentSelection{Result: ParentDirect, Hostname: host, Port: port, Retry: true}
	}
	return ParentSelection{Result: ParentFail}
}

// requestHostPort extracts the client-requested host/port pair SelectNextHop
// needs for its transparent/localhost/direct branches, falling back to the
// scheme's default port when the request carries none.
func requestHostPort(s *State) (string, int) {
	host := stripDefaultPortSuffix(s.Request.Host)
	if h, p, err := net.SplitHostPort(s.Request.Host); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			return host, n
		}
	}
	if s.Request.Scheme == "https" {
		return host, 443
	}
	return host, 80
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// DetectSelfLoop implements spec §4.D's loop-guard: a request is a self
// loop if its own machine uuid appears in the incoming Via chain more than
// cfg.MaxProxyCycles times. With the default of 1, a first occurrence is
// tolerated (this proxy may sit behind another hop of the same cluster)
// and a second one means the request bounced back to us.
func DetectSelfLoop(cfg *Config, incomingVia []string) bool {
	if cfg.MachineUUID == "" {
		return false
	}
	return CountUUIDOccurrences(incomingVia, cfg.MachineUUID) > cfg.MaxProxyCycles
}

// IsConnectPortAllowed implements the connect_ports ACL referenced by
// spec §4.D / §7 (CONNECT and proxy-originated connections are confined to
// an allow-list of ports).
func IsConnectPortAllowed(cfg *Config, port int) bool {
	if len(cfg.ConnectPorts) == 0 {
		return true
	}
	return cfg.ConnectPorts[port]
}

// FormatParentAddr is a small convenience used by collaborators reporting
// a parent attempt back to the core (e.g. for diagnostics/Via annotation).
func FormatParentAddr(c ParentCandidate) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// stripDefaultPortSuffix is used when comparing a Host header value to a
// resolved candidate's hostname.
func stripDefaultPortSuffix(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
