package transact

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

// newDirectorTestState builds a ready-to-dispatch State the way the SM
// would before calling Dispatch(HandlerModifyRequest): client request
// metadata parsed, nothing else populated yet.
func newDirectorTestState(method, rawURL, host string) *State {
	s := newTestState(method, rawURL)
	s.Request.Host = host
	s.Request.Scheme = "http"
	s.Request.HTTPVersion = "1.1"
	s.Headers.ClientRequest = http.Header{"Host": {host}}
	return s
}

// runFrom dispatches handler id against d, recording every (action,
// handler) pair visited until a terminal Result (ReturnPoint ==
// HandlerNone) is reached. deposit is called before each Dispatch except
// the first, so the caller can simulate whatever I/O the previous Result
// asked for.
func runFrom(t *testing.T, d *Director, s *State, id HandlerID, deposit func(step int, prev Result)) []Result {
	t.Helper()
	var trace []Result
	step := 0
	for {
		res := d.Dispatch(s, id)
		trace = append(trace, res)
		if res.ReturnPoint == HandlerNone {
			return trace
		}
		step++
		if deposit != nil {
			deposit(step, res)
		}
		id = res.ReturnPoint
	}
}

// Scenario 1 (spec §8): cold miss, cacheable.
func TestDirectorScenarioColdMissCacheable(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")

	trace := runFrom(t, d, s, HandlerModifyRequest, func(step int, prev Result) {
		switch prev.ReturnPoint {
		case HandlerHandleCacheOpenRead:
			s.Cache.ObjectRead = nil // miss
		case HandlerOSDNSLookup:
			s.DNS.ResolvedP = true
			s.DNS.Addr = "10.0.0.1"
			s.DNS.SrvPort = 80
		case HandlerHandleForwardServerConnectionOpen:
			s.ServerInfo.LastConnectError = nil
		case HandlerHandleResponse:
			s.Headers.ServerResponse = http.Header{
				"X-Status-Code":  {"200"},
				"Content-Length": {"2"},
				"Cache-Control":  {"max-age=60"},
			}
		}
	})

	final := trace[len(trace)-1]
	if final.NextAction != ActionCacheIssueWrite {
		t.Fatalf("final action = %v, want ActionCacheIssueWrite", final.NextAction)
	}
	if s.Cache.Action != CacheWrite {
		t.Fatalf("Cache.Action = %v, want CacheWrite", s.Cache.Action)
	}
	if got := s.Via.String()[ViaCacheResult]; got != ViaCacheMiss {
		t.Errorf("Via CACHE_RESULT = %q, want %q", got, ViaCacheMiss)
	}

	wantActions := []Action{ActionRemapRequest, ActionAPIPreRemap, ActionAPIPostRemap, ActionCacheLookup, ActionDNSLookup, ActionOriginServerOpen, ActionServerRead, ActionCacheIssueWrite}
	if len(trace) != len(wantActions) {
		t.Fatalf("got %d steps, want %d: %+v", len(trace), len(wantActions), trace)
	}
	for i, a := range wantActions {
		if trace[i].NextAction != a {
			t.Errorf("step %d action = %v, want %v", i, trace[i].NextAction, a)
		}
	}
}

// Scenario 2 (spec §8): stale revalidation resolved by a 304.
func TestDirectorScenarioStaleRevalidationTo304(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")

	now := time.Now()
	obj := &CachedObject{
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Cache-Control": {"max-age=60"}, "Last-Modified": {"Mon, 01 Jan 2024 00:00:00 GMT"}, "Etag": {`"e"`}, "Date": {now.Add(-120 * time.Second).Format(http.TimeFormat)}},
		ResponseRecvd: now.Add(-120 * time.Second),
	}

	trace := runFrom(t, d, s, HandlerModifyRequest, func(step int, prev Result) {
		switch prev.ReturnPoint {
		case HandlerHandleCacheOpenRead:
			s.Cache.ObjectRead = obj
		case HandlerOSDNSLookup:
			s.DNS.ResolvedP = true
			s.DNS.Addr = "10.0.0.1"
		case HandlerHandleForwardServerConnectionOpen:
			s.ServerInfo.LastConnectError = nil
		case HandlerHandleResponse:
			s.Headers.ServerResponse = http.Header{"X-Status-Code": {"304"}}
		}
	})

	if got := s.Headers.ServerRequest.Get("If-Modified-Since"); got != "Mon, 01 Jan 2024 00:00:00 GMT" {
		t.Errorf("outgoing If-Modified-Since = %q", got)
	}
	if got := s.Headers.ServerRequest.Get("If-None-Match"); got != `"e"` {
		t.Errorf("outgoing If-None-Match = %q", got)
	}

	final := trace[len(trace)-1]
	if final.NextAction != ActionInternalCacheUpdateHeaders {
		t.Fatalf("final action = %v, want ActionInternalCacheUpdateHeaders", final.NextAction)
	}
	if s.Cache.Action != CacheServeAndUpdate {
		t.Fatalf("Cache.Action = %v, want CacheServeAndUpdate", s.Cache.Action)
	}
	if got := s.Headers.ClientResponse.Get("X-Status-Code"); got != "200" {
		t.Errorf("client response status = %q, want 200 served from the refreshed cache entry", got)
	}
}

// Scenario 3 (spec §8): first parent exhausted, failover to direct.
func TestDirectorScenarioParentFailoverToDirect(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")
	s.Current.Mode = ModeTunnelling // force non-lookupable so HandleRequest skips straight to next-hop selection
	s.ParentCandidates = []ParentCandidate{{Host: "p1", Port: 8080}}
	s.Overridable.GoDirect = true
	s.Overridable.PerParentConnectAttempts = 2
	s.Overridable.ParentConnectAttempts = 0

	parentAttempts := 0
	trace := runFrom(t, d, s, HandlerModifyRequest, func(step int, prev Result) {
		switch prev.ReturnPoint {
		case HandlerPPDNSLookup:
			s.DNS.ResolvedP = true
			s.DNS.Addr = "10.0.0.2"
		case HandlerOSDNSLookup:
			s.DNS.ResolvedP = true
			s.DNS.Addr = "10.0.0.1"
		case HandlerHandleForwardServerConnectionOpen:
			if s.Current.RequestTo == "parent" {
				parentAttempts++
				s.ParentInfo.LastConnectError = errors.New("connection timed out")
			} else {
				s.ServerInfo.LastConnectError = nil
			}
		case HandlerHandleResponse:
			s.Headers.ServerResponse = http.Header{"X-Status-Code": {"200"}}
		}
	})

	if parentAttempts != 2 {
		t.Fatalf("parent connect was attempted %d times, want 2 (per_parent_connect_attempts)", parentAttempts)
	}
	if s.Current.RequestTo != "origin" {
		t.Fatalf("RequestTo = %q, want origin after failover", s.Current.RequestTo)
	}
	if got := s.Via.String()[ViaPPConnect]; got != ViaPPConnectFailed {
		t.Errorf("Via PP_CONNECT = %q, want %q", got, ViaPPConnectFailed)
	}
	if got := s.Via.String()[ViaServerConnect]; got != ViaServerConnectSuccess {
		t.Errorf("Via SERVER_CONNECT = %q, want %q", got, ViaServerConnectSuccess)
	}

	final := trace[len(trace)-1]
	if final.NextAction != ActionInternalCacheNoop {
		t.Fatalf("final action = %v, want ActionInternalCacheNoop (served straight through after falling back to origin)", final.NextAction)
	}
}

// Scenario 4 (spec §8): negative revalidation serves the stale cached
// object rather than surfacing the origin's 503.
func TestDirectorScenarioNegativeRevalidation(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")
	s.Overridable.NegativeRevalidatingEnabled = true
	s.Overridable.NegativeRevalidatingStatus = map[int]bool{503: true}
	s.Overridable.NegativeRevalidatingLifetime = 5 * time.Minute
	s.Overridable.CacheMaxStaleAge = 2 * time.Minute
	s.Overridable.MaxUnavailableServerRetries = 0 // force straight through to cacheability routing on 503

	now := time.Now()
	obj := &CachedObject{
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Cache-Control": {"max-age=60"}, "Date": {now.Add(-120 * time.Second).Format(http.TimeFormat)}, "Warning": {`110 - "Response is Stale"`}},
		ResponseRecvd: now.Add(-120 * time.Second),
	}

	runFrom(t, d, s, HandlerModifyRequest, func(step int, prev Result) {
		switch prev.ReturnPoint {
		case HandlerHandleCacheOpenRead:
			s.Cache.ObjectRead = obj
		case HandlerOSDNSLookup:
			s.DNS.ResolvedP = true
			s.DNS.Addr = "10.0.0.1"
		case HandlerHandleForwardServerConnectionOpen:
			s.ServerInfo.LastConnectError = nil
		case HandlerHandleResponse:
			s.Headers.ServerResponse = http.Header{"X-Status-Code": {"503"}}
		}
	})

	if s.Cache.Action != CacheServeAndUpdate {
		t.Fatalf("Cache.Action = %v, want CacheServeAndUpdate", s.Cache.Action)
	}
	if s.Cache.ObjectStore == nil {
		t.Fatal("expected a stored object recording the bumped Expires")
	}
	if s.Cache.ObjectStore.NeedRevalidateOnce {
		t.Error("NeedRevalidateOnce should be cleared by a negative revalidation")
	}
	if got := s.Cache.ObjectStore.Header.Get("Expires"); got == "" {
		t.Error("expected Expires to be bumped forward")
	}
	if warnings := s.Cache.ObjectStore.Header.Values("Warning"); len(warnings) != 0 {
		t.Errorf("Warning = %v, want the stale 110 warning cleared and none added", warnings)
	}
	if got := s.Via.String()[ViaProxyResult]; got != ViaProxyResultServedStale {
		t.Errorf("Via PROXY_RESULT = %q, want %q", got, ViaProxyResultServedStale)
	}
}

// Scenario 5 (spec §8): WebSocket upgrade, scheme swap, and the
// max_websocket_connections limit.
func TestDirectorScenarioWebSocketUpgrade(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")
	s.Headers.ClientRequest.Set("Connection", "Upgrade")
	s.Headers.ClientRequest.Set("Upgrade", "websocket")
	s.Headers.ClientRequest.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	s.Headers.ClientRequest.Set("Sec-WebSocket-Version", "13")

	startResult := d.ModifyRequest(s)
	remapResult := d.Dispatch(s, startResult.ReturnPoint)
	if s.Request.Scheme != "ws" {
		t.Fatalf("Scheme during remap = %q, want ws", s.Request.Scheme)
	}

	endResult := d.Dispatch(s, remapResult.ReturnPoint)
	if s.Request.Scheme != "http" {
		t.Fatalf("Scheme after remap = %q, want restored to http", s.Request.Scheme)
	}
	if endResult.NextAction != ActionAPIPostRemap {
		t.Fatalf("expected the upgrade to proceed when under the connection limit, got %v", endResult.NextAction)
	}
	if s.Current.Mode != ModeTunnelling {
		t.Error("a successful upgrade should switch Current.Mode to ModeTunnelling")
	}
}

func TestDirectorScenarioWebSocketUpgradeOverLimit(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")
	s.Headers.ClientRequest.Set("Connection", "Upgrade")
	s.Headers.ClientRequest.Set("Upgrade", "websocket")
	s.Overridable.Websockets = NewWebSocketLimiter(1)
	s.Overridable.Websockets.TryAcquire() // occupy the only slot

	startResult := d.ModifyRequest(s)
	remapResult := d.Dispatch(s, startResult.ReturnPoint)
	endResult := d.Dispatch(s, remapResult.ReturnPoint)

	if endResult.NextAction != ActionSendErrorCacheNoop {
		t.Fatalf("action = %v, want ActionSendErrorCacheNoop (503)", endResult.NextAction)
	}
	if got := s.Headers.ClientResponse.Get("X-Status-Code"); got != "503" {
		t.Errorf("X-Status-Code = %q, want 503", got)
	}
	if s.Error == nil || s.Error.Class != ErrorOutboundCongestion {
		t.Errorf("Error = %+v, want ErrorOutboundCongestion", s.Error)
	}
}

// Scenario 6 (spec §8): a request looping back through this proxy is
// rejected before any other work happens.
func TestDirectorScenarioSelfLoopDetected(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")
	s.Overridable.MachineUUID = "proxy-uuid"
	s.IncomingViaChain = []string{
		"1.1 proxy-uuid (uuid=proxy-uuid)",
		"1.1 other-hop",
		"1.1 proxy-uuid (uuid=proxy-uuid)",
	}

	result := d.Dispatch(s, HandlerModifyRequest)

	if result.NextAction != ActionSendErrorCacheNoop {
		t.Fatalf("action = %v, want ActionSendErrorCacheNoop", result.NextAction)
	}
	if got := s.Headers.ClientResponse.Get("X-Status-Code"); got != "400" {
		t.Errorf("X-Status-Code = %q, want 400 Multi-Hop Cycle Detected", got)
	}
	if s.Error == nil || s.Error.Class != ErrorSelfLoop {
		t.Errorf("Error = %+v, want ErrorSelfLoop", s.Error)
	}
}

// Redirect handling (review item): a 3xx with Location re-enters next-hop
// selection and DNS rather than reusing the original connection.
func TestDirectorRedirectReentersDNS(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")
	s.Overridable.MaxRedirects = 2

	dnsLookups := 0
	runFrom(t, d, s, HandlerModifyRequest, func(step int, prev Result) {
		switch prev.ReturnPoint {
		case HandlerHandleCacheOpenRead:
			s.Cache.ObjectRead = nil
		case HandlerOSDNSLookup:
			dnsLookups++
			s.DNS.ResolvedP = true
			s.DNS.Addr = "10.0.0.1"
		case HandlerHandleForwardServerConnectionOpen:
			s.ServerInfo.LastConnectError = nil
		case HandlerHandleResponse:
			if dnsLookups == 1 {
				s.Headers.ServerResponse = http.Header{
					"X-Status-Code": {"302"},
					"Location":      {"http://o2/b"},
				}
			} else {
				s.Headers.ServerResponse = http.Header{"X-Status-Code": {"200"}, "Content-Length": {"0"}}
			}
		}
	})

	if dnsLookups != 2 {
		t.Fatalf("DNS was resolved %d times, want 2 (once per hop of the redirect chain)", dnsLookups)
	}
	if !s.Redirect.InProcess {
		t.Error("Redirect.InProcess should remain set once a redirect chain has started")
	}
	if s.Request.Host != "o2" {
		t.Errorf("Request.Host = %q, want o2 (rewritten from the Location header)", s.Request.Host)
	}
	if s.Redirect.NumberOfRedirectsRemaining != 1 {
		t.Errorf("NumberOfRedirectsRemaining = %d, want 1 (consumed by the one redirect followed)", s.Redirect.NumberOfRedirectsRemaining)
	}
}

func TestDirectorRedirectChainExhaustionErrors(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")
	s.Overridable.MaxRedirects = 1

	trace := runFrom(t, d, s, HandlerModifyRequest, func(step int, prev Result) {
		switch prev.ReturnPoint {
		case HandlerHandleCacheOpenRead:
			s.Cache.ObjectRead = nil
		case HandlerOSDNSLookup:
			s.DNS.ResolvedP = true
			s.DNS.Addr = "10.0.0.1"
		case HandlerHandleForwardServerConnectionOpen:
			s.ServerInfo.LastConnectError = nil
		case HandlerHandleResponse:
			s.Headers.ServerResponse = http.Header{"X-Status-Code": {"302"}, "Location": {"http://o/next"}}
		}
	})

	final := trace[len(trace)-1]
	if final.NextAction != ActionSendErrorCacheNoop {
		t.Fatalf("final action = %v, want ActionSendErrorCacheNoop once max_redirects is exhausted", final.NextAction)
	}
	if s.Error == nil || s.Error.Class != ErrorTooManyRedirects {
		t.Errorf("Error = %+v, want ErrorTooManyRedirects", s.Error)
	}
}

// Range handling (review item): a single satisfiable range is wired end
// to end into a 206 response.
func TestDirectorRangeRequestServes206(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")
	s.Headers.ClientRequest.Set("Range", "bytes=0-9")

	runFrom(t, d, s, HandlerModifyRequest, func(step int, prev Result) {
		switch prev.ReturnPoint {
		case HandlerHandleCacheOpenRead:
			s.Cache.ObjectRead = nil
		case HandlerOSDNSLookup:
			s.DNS.ResolvedP = true
			s.DNS.Addr = "10.0.0.1"
		case HandlerHandleForwardServerConnectionOpen:
			s.ServerInfo.LastConnectError = nil
		case HandlerHandleResponse:
			s.Headers.ServerResponse = http.Header{"X-Status-Code": {"200"}, "Content-Length": {"100"}}
		}
	})

	if got := s.Headers.ClientResponse.Get("X-Status-Code"); got != "206" {
		t.Errorf("X-Status-Code = %q, want 206", got)
	}
	if got := s.Headers.ClientResponse.Get("Content-Range"); got != "bytes 0-9/100" {
		t.Errorf("Content-Range = %q, want bytes 0-9/100", got)
	}
}

func TestDirectorRangeUnsatisfiableAtRequestTime(t *testing.T) {
	d := NewDirector()
	s := newDirectorTestState(http.MethodGet, "http://o/a", "o")
	s.Headers.ClientRequest.Set("Range", "bytes=abc-def")

	result := d.Dispatch(s, HandlerModifyRequest)
	result = d.Dispatch(s, result.ReturnPoint) // StartRemapRequest
	result = d.Dispatch(s, result.ReturnPoint) // EndRemapRequest
	result = d.Dispatch(s, result.ReturnPoint) // HandleRequest

	if result.NextAction != ActionSendErrorCacheNoop {
		t.Fatalf("action = %v, want ActionSendErrorCacheNoop (416)", result.NextAction)
	}
	if s.Error == nil || s.Error.Class != ErrorRangeNotSatisfiable {
		t.Errorf("Error = %+v, want ErrorRangeNotSatisfiable", s.Error)
	}
}
