package transact

import (
	"net/http"
	"net/url"
	"strconv"
)

// Director runs the component F handler set (spec §4.F). It holds no
// state of its own: every field it touches lives on the *State passed to
// each call. A Director value is safe to share across goroutines as long
// as each call operates on a distinct *State.
type Director struct{}

// NewDirector constructs a Director. It takes no arguments today; the
// zero value would do, but a constructor keeps the call sites symmetric
// with the rest of the package and leaves room for shared read-only
// config (e.g. a plugin chain) without breaking callers later.
func NewDirector() *Director { return &Director{} }

// Dispatch runs the handler named by id and returns its Result. The SM
// calls Dispatch once per suspension-point return: it looks up
// Current.ReturnPoint, performs the I/O that handler's previous Result
// requested, deposits the outcome into State, then calls Dispatch again.
func (d *Director) Dispatch(s *State, id HandlerID) Result {
	switch id {
	case HandlerModifyRequest:
		return d.ModifyRequest(s)
	case HandlerStartRemapRequest:
		return d.StartRemapRequest(s)
	case HandlerEndRemapRequest:
		return d.EndRemapRequest(s)
	case HandlerHandleRequest:
		return d.HandleRequest(s)
	case HandlerOSDNSLookup:
		return d.OSDNSLookup(s)
	case HandlerPPDNSLookup:
		return d.PPDNSLookup(s)
	case HandlerHandleCacheOpenRead:
		return d.HandleCacheOpenRead(s)
	case HandlerHandleCacheOpenReadHitFreshness:
		return d.HandleCacheOpenReadHitFreshness(s)
	case HandlerHandleCacheOpenReadHit:
		return d.HandleCacheOpenReadHit(s)
	case HandlerHandleCacheOpenReadMiss:
		return d.HandleCacheOpenReadMiss(s)
	case HandlerHandleCacheWriteLock:
		return d.HandleCacheWriteLock(s)
	case HandlerHandleResponse:
		return d.HandleResponse(s)
	case HandlerHandleResponseFromParent:
		return d.HandleResponseFromParent(s)
	case HandlerHandleResponseFromServer:
		return d.HandleResponseFromServer(s)
	case HandlerHandleForwardServerConnectionOpen:
		return d.HandleForwardServerConnectionOpen(s)
	case HandlerHandleCacheOperationOnForwardServerResponse:
		return d.HandleCacheOperationOnForwardServerResponse(s)
	case HandlerHandleNoCacheOperationOnForwardServerResponse:
		return d.HandleNoCacheOperationOnForwardServerResponse(s)
	case HandlerHandlePushWriteHeaders:
		return d.HandlePushWriteHeaders(s)
	case HandlerHandlePushWriteBody:
		return d.HandlePushWriteBody(s)
	case HandlerHandleUpdateCachedObject:
		return d.HandleUpdateCachedObject(s)
	default:
		return d.sendError(s, NewErrorKind(ErrorBadIncomingResponse, "unknown handler", nil))
	}
}

// ModifyRequest is the transaction's entry point (spec §4.F). It parses
// the minimal request metadata, runs the self-loop guard, and moves on to
// remap.
func (d *Director) ModifyRequest(s *State) Result {
	if !s.Headers.ClientRequestValid() {
		return d.sendError(s, NewErrorKind(ErrorBadIncomingResponse, "no client request", nil))
	}
	if DetectSelfLoop(&s.Overridable, s.IncomingViaChain) {
		return d.sendError(s, NewErrorKind(ErrorSelfLoop, "", nil))
	}
	if s.Request.Method == "" {
		s.Request.Method = http.MethodGet
	}
	return transactReturn(s, ActionRemapRequest, HandlerStartRemapRequest)
}

// StartRemapRequest / EndRemapRequest bracket the remap plugin hook (spec
// §4.F, §6 "remap/plugin hooks"). The pure core performs no remapping
// itself; it only provides the two suspension points plugins attach to.
// They also implement the §4.C "Upgrade path": a detected WebSocket
// upgrade gets its scheme swapped to ws/wss for the duration of the remap
// hooks (so remap rules can match on it) and restored once they're done,
// gated on the shared MaxWebsocketConns limiter.
func (d *Director) StartRemapRequest(s *State) Result {
	if IsWebSocketUpgrade(s.Headers.ClientRequest) {
		s.Current.WebSocketUpgrade = true
		s.Current.PreUpgradeScheme = s.Request.Scheme
		s.Request.Scheme = wsScheme(s.Request.Scheme)
	}
	return transactReturn(s, ActionAPIPreRemap, HandlerEndRemapRequest)
}

func (d *Director) EndRemapRequest(s *State) Result {
	if s.Current.WebSocketUpgrade {
		s.Request.Scheme = s.Current.PreUpgradeScheme
		if !s.Overridable.Websockets.TryAcquire() {
			return d.sendError(s, NewErrorKind(ErrorOutboundCongestion, "max_websocket_connections reached", nil))
		}
		s.Current.Mode = ModeTunnelling
	}
	return transactReturn(s, ActionAPIPostRemap, HandlerHandleRequest)
}

// HandleRequest implements spec §4.F handle_request: parses any Range:
// header, decides whether this transaction is cache-lookupable, and
// issues the first suspension point (cache lookup, or next-hop selection
// followed by DNS if caching is off).
func (d *Director) HandleRequest(s *State) Result {
	ParseRangeHeader(s, -1)
	if s.Range.Setup == RangeNotSatisfiable {
		return d.sendError(s, NewErrorKind(ErrorRangeNotSatisfiable, "", nil))
	}

	lookupable, detail := IsRequestCacheLookupable(s)
	if !lookupable {
		s.Via.Set(ViaDetail, detail)
		s.Cache.Action = CacheNoAction
		return d.selectUpstreamAndConnect(s)
	}
	s.Cache.Action = CacheLookup
	s.Cache.LookupURL = s.Request.URL
	return transactReturn(s, ActionCacheLookup, HandlerHandleCacheOpenRead)
}

// selectUpstreamAndConnect runs the Next-Hop Selector (spec §4.D) against
// the candidate list the SM resolved before this transaction entered the
// Director, and dispatches to whichever DNS suspension point the verdict
// names. This is the single entry point every forward path (cache miss,
// revalidation, non-lookupable request, redirect follow) funnels through,
// so Current.RequestTo and Parent are always populated the same way.
func (d *Director) selectUpstreamAndConnect(s *State) Result {
	host, port := requestHostPort(s)
	sel := SelectNextHop(s, s.ParentCandidates, host, port)
	return d.applyParentSelection(s, sel)
}

// applyParentSelection turns a ParentSelection verdict into a Result,
// setting Current.RequestTo and dispatching to the matching DNS handler
// (spec §4.D, §4.F).
func (d *Director) applyParentSelection(s *State, sel ParentSelection) Result {
	s.Parent = sel
	switch sel.Result {
	case ParentSpecified:
		s.Current.RequestTo = "parent"
		return d.goToParentDNS(s, sel.Hostname, sel.Port)
	case ParentFail:
		if s.Cache.ObjectRead != nil {
			s.Cache.Action = CacheServe
			s.Via.Set(ViaCacheResult, ViaInCacheStale)
			s.Via.Set(ViaProxyResult, ViaProxyResultServedStale)
			BuildClientResponse(s, s.Current.Now)
			return transactReturn(s, ActionServeFromCache, HandlerNone)
		}
		s.Via.Set(ViaProxyResult, ViaProxyResultError)
		return d.sendError(s, NewErrorKind(ErrorConnectFailed, "no parent available and direct not permitted", nil))
	default: // ParentDirect
		s.Current.RequestTo = "origin"
		if sel.Retry {
			s.Via.Set(ViaProxyResult, ViaProxyResultDirectOK)
		}
		return d.goToOriginDNS(s)
	}
}

func (d *Director) goToOriginDNS(s *State) Result {
	s.DNS.LookingUp = DNSOriginServer
	s.DNS.LookupName = s.Request.Host
	return transactReturn(s, ActionDNSLookup, HandlerOSDNSLookup)
}

func (d *Director) goToParentDNS(s *State, hostname string, port int) Result {
	s.DNS.LookingUp = DNSParentProxy
	s.DNS.LookupName = hostname
	s.ParentInfo.Port = port
	return transactReturn(s, ActionDNSLookup, HandlerPPDNSLookup)
}

// OSDNSLookup / PPDNSLookup are re-entered once the SM deposits a DNS
// result into s.DNS (spec §4.F, §6 collaborator "DNS"). A parent DNS
// failure does not fail the transaction outright: it asks NextParent for
// the next candidate, which may itself fall back to direct or fail.
func (d *Director) OSDNSLookup(s *State) Result {
	if !s.DNS.ResolvedP {
		return d.sendError(s, NewErrorKind(ErrorDNSFailed, s.DNS.LookupName, nil))
	}
	s.ServerInfo.Addr = s.DNS.Addr
	s.ServerInfo.Port = s.DNS.SrvPort
	return transactReturn(s, ActionOriginServerOpen, HandlerHandleForwardServerConnectionOpen)
}

func (d *Director) PPDNSLookup(s *State) Result {
	if !s.DNS.ResolvedP {
		return d.applyParentSelection(s, NextParent(s))
	}
	s.ParentInfo.Addr = s.DNS.Addr
	return transactReturn(s, ActionOriginServerOpen, HandlerHandleForwardServerConnectionOpen)
}

// HandleCacheOpenRead is re-entered once the SM deposits a cache lookup
// result (spec §4.F, §6 collaborator "CacheSubsystem").
func (d *Director) HandleCacheOpenRead(s *State) Result {
	if s.Cache.LookupResult != nil {
		return d.sendError(s, NewErrorKind(ErrorCacheReadError, "", s.Cache.LookupResult))
	}
	if s.Cache.ObjectRead == nil {
		s.Cache.HitMissCode = HitMissMiss
		s.Via.Set(ViaCacheResult, ViaCacheMiss)
		return d.HandleCacheOpenReadMiss(s)
	}
	s.Cache.HitMissCode = HitMissHit
	return d.HandleCacheOpenReadHitFreshness(s)
}

// HandleCacheOpenReadHitFreshness runs the Freshness Evaluator against the
// stored object and branches to the hit or (effectively) miss path (spec
// §4.F).
func (d *Director) HandleCacheOpenReadHitFreshness(s *State) Result {
	obj := s.Cache.ObjectRead
	verdict := EvaluateFreshness(&s.Overridable, obj, s.Headers.ClientRequest, s.Current.Now, s.Cache.WriteLockState == LockReadRetry)

	switch verdict {
	case FreshnessFresh:
		s.Via.Set(ViaCacheResult, ViaInCacheFresh)
		return d.HandleCacheOpenReadHit(s)
	case FreshnessWarning:
		s.Via.Set(ViaCacheResult, ViaInCacheFresh)
		warned := *obj
		warned.Header = cloneHeader(obj.Header)
		AddHeuristicExpirationWarning(warned.Header)
		s.Cache.ObjectRead = &warned
		return d.HandleCacheOpenReadHit(s)
	default:
		s.Via.Set(ViaCacheResult, ViaInCacheStale)
		return d.beginRevalidation(s)
	}
}

// HandleCacheOpenReadHit serves a fresh object straight from cache (spec
// §4.F).
func (d *Director) HandleCacheOpenReadHit(s *State) Result {
	if !IsCacheResponseReturnable(s, s.Cache.ObjectRead) {
		return d.HandleCacheOpenReadMiss(s)
	}
	s.Cache.Action = CacheServe
	BuildClientResponse(s, s.Current.Now)
	return transactReturn(s, ActionServeFromCache, HandlerNone)
}

// HandleCacheOpenReadMiss begins the forward path: origin DNS unless a
// parent has already been selected (spec §4.F).
func (d *Director) HandleCacheOpenReadMiss(s *State) Result {
	s.Cache.Action = CachePrepareToWrite
	BuildServerRequest(s)
	return d.selectUpstreamAndConnect(s)
}

// beginRevalidation sets up a conditional server request against the
// stale object and issues the forward-connect suspension point (spec
// §4.F "revalidation path").
func (d *Director) beginRevalidation(s *State) Result {
	s.Cache.Action = CachePrepareToUpdate
	BuildServerRequest(s)
	BuildRevalidationRequest(s, false)
	return d.selectUpstreamAndConnect(s)
}

// HandleCacheWriteLock is re-entered once the SM reports the outcome of an
// open_write attempt for a PREPARE_TO_* action (spec §4.F, §7 "write lock
// fail policy").
func (d *Director) HandleCacheWriteLock(s *State) Result {
	switch s.Cache.WriteLockState {
	case LockSuccess:
		switch s.Cache.Action {
		case CachePrepareToWrite:
			s.Cache.Action = CacheWrite
		case CachePrepareToUpdate:
			s.Cache.Action = CacheUpdate
		case CachePrepareToDelete:
			s.Cache.Action = CacheDelete
		}
		return transactReturn(s, ActionOriginServerOpen, HandlerHandleForwardServerConnectionOpen)
	case LockReadRetry:
		return d.HandleCacheOpenRead(s)
	default: // LockFail
		switch s.Overridable.WriteLockFailAction {
		case WriteLockFailReadRetry:
			return d.HandleCacheOpenRead(s)
		case WriteLockFailSilentNoAction:
			s.Cache.Action = CacheNoAction
			return transactReturn(s, ActionOriginServerOpen, HandlerHandleForwardServerConnectionOpen)
		case WriteLockFailErrorOnMissStaleOnRevalidate:
			if s.Cache.ObjectRead != nil {
				s.Cache.Action = CacheServe
				BuildClientResponse(s, s.Current.Now)
				return transactReturn(s, ActionServeFromCache, HandlerNone)
			}
			return d.sendError(s, NewErrorKind(ErrorCacheReadError, "write lock failed", nil))
		default:
			return d.sendError(s, NewErrorKind(ErrorCacheReadError, "write lock failed", nil))
		}
	}
}

// HandleForwardServerConnectionOpen is re-entered once the SM reports a
// connect outcome against either the origin or a parent (spec §4.F).
func (d *Director) HandleForwardServerConnectionOpen(s *State) Result {
	active := &s.ServerInfo
	if s.Current.RequestTo == "parent" {
		active = &s.ParentInfo
	}
	s.Current.Server = active

	if active.LastConnectError != nil {
		if s.Current.RequestTo == "parent" {
			return d.handleParentConnectFailure(s, active.LastConnectError)
		}
		if ShouldRetry(s, 0, active.LastConnectError) {
			return transactReturn(s, ActionOriginServerOpen, HandlerHandleForwardServerConnectionOpen)
		}
		s.Via.Set(ViaServerConnect, ViaServerConnectFailed)
		return d.sendError(s, NewErrorKind(ErrorConnectFailed, "", active.LastConnectError))
	}

	s.Current.State = StateAlive
	if s.Current.RequestTo == "parent" {
		s.Via.Set(ViaPPConnect, ViaPPConnectSuccess)
	} else {
		s.Via.Set(ViaServerConnect, ViaServerConnectSuccess)
	}
	return transactReturn(s, ActionServerRead, HandlerHandleResponse)
}

// handleParentConnectFailure implements the Next-Hop Selector's per-parent
// retry/exhaustion policy (spec §4.D): bump the shared retry counter and,
// once it crosses either the per-parent or the total parent-attempt
// boundary, give up on this parent (recording the failure in Via) and ask
// NextParent for the next candidate — which may itself fall back to
// direct or fail outright.
func (d *Director) handleParentConnectFailure(s *State, connErr error) Result {
	recordRetryAttempt(&s.Current, RetrySimple)

	perParent := s.Overridable.PerParentConnectAttempts
	exhausted := perParent > 0 && s.Current.RetryAttempts%perParent == 0
	if totalCap := s.Overridable.ParentConnectAttempts; totalCap > 0 && s.Current.RetryAttempts >= totalCap {
		exhausted = true
	}
	if !exhausted {
		return transactReturn(s, ActionOriginServerOpen, HandlerHandleForwardServerConnectionOpen)
	}

	s.Via.Set(ViaPPConnect, ViaPPConnectFailed)
	return d.applyParentSelection(s, NextParent(s))
}

// HandleResponse dispatches to the parent- or server-specific response
// handler depending on which hop this transaction is talking to (spec
// §4.F).
func (d *Director) HandleResponse(s *State) Result {
	if s.Current.RequestTo == "parent" {
		return d.HandleResponseFromParent(s)
	}
	return d.HandleResponseFromServer(s)
}

// HandleResponseFromParent applies the retry/markdown policy before
// falling through to the shared cache-operation logic (spec §4.F, §4.D).
func (d *Director) HandleResponseFromParent(s *State) Result {
	status := responseStatus(s)
	if ShouldRetry(s, status, nil) {
		s.Parent.Retry = true
		return transactReturn(s, ActionOriginServerOpen, HandlerHandleForwardServerConnectionOpen)
	}
	return d.routeOnCacheability(s, status)
}

// HandleResponseFromServer mirrors HandleResponseFromParent for the
// direct-to-origin path, additionally handling the one-shot HTTP/1.0/505
// downgrade retry (spec §4.F, §4.C).
func (d *Director) HandleResponseFromServer(s *State) Result {
	status := responseStatus(s)
	if MaybeDowngrade(s, s.Headers.ServerResponse.Get("X-Server-HTTP-Version"), status) {
		return transactReturn(s, ActionOriginServerOpen, HandlerHandleForwardServerConnectionOpen)
	}
	if ShouldRetry(s, status, nil) {
		return transactReturn(s, ActionOriginServerOpen, HandlerHandleForwardServerConnectionOpen)
	}
	return d.routeOnCacheability(s, status)
}

func (d *Director) routeOnCacheability(s *State, status int) Result {
	if isRedirectStatus(status) {
		if result, handled := d.handleRedirect(s, status); handled {
			return result
		}
	}
	if s.Cache.PassedPrepare() {
		return d.HandleCacheOperationOnForwardServerResponse(s)
	}
	return d.HandleNoCacheOperationOnForwardServerResponse(s)
}

func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// handleRedirect implements the redirect invariant of spec §3 / §8
// invariant 6: a 3xx origin response starts (or continues) a redirect
// chain bounded by max_redirects, and must re-enter next-hop selection and
// DNS for the Location target before any new connection is opened — it
// never reuses the connection or candidate cursor the original request
// picked. Returns handled=false when there is no Location to follow,
// letting the caller treat the response as an ordinary 3xx body.
func (d *Director) handleRedirect(s *State, status int) (Result, bool) {
	location := s.Headers.ServerResponse.Get("Location")
	if location == "" {
		return Result{}, false
	}
	if !s.Redirect.InProcess {
		s.Redirect.InProcess = true
		s.Redirect.OriginalURL = s.Request.URL
		s.Redirect.NumberOfRedirectsRemaining = s.Overridable.MaxRedirects
	}
	if s.Redirect.NumberOfRedirectsRemaining <= 0 {
		return d.sendError(s, NewErrorKind(ErrorTooManyRedirects, location, nil)), true
	}
	s.Redirect.NumberOfRedirectsRemaining--

	s.Request.URL = location
	if u, err := url.Parse(location); err == nil {
		if u.Host != "" {
			s.Request.Host = u.Host
		}
		if u.Scheme != "" {
			s.Request.Scheme = u.Scheme
		}
	}
	s.Cache.Action = CacheNoAction
	s.ServerInfo = ConnAttrs{}
	s.ParentInfo = ConnAttrs{}
	s.Current.RequestTo = ""
	return d.selectUpstreamAndConnect(s), true
}

// HandleCacheOperationOnForwardServerResponse implements spec §4.F for
// transactions that obtained a PREPARE_TO_* write lock: it decides between
// a full write, a revalidation-success update, or abandoning the write
// (spec invariant §8.7: a single PREPARE_TO_* transition already happened,
// this is simply its terminal resolution).
func (d *Director) HandleCacheOperationOnForwardServerResponse(s *State) Result {
	status := responseStatus(s)

	if status == http.StatusNotModified && s.Cache.Action == CachePrepareToUpdate && s.Cache.ObjectRead != nil {
		merged := MergeNotModified(s.Cache.ObjectRead, s.Headers.ServerResponse)
		ClearStaleWarnings(merged.Header)
		merged.NeedRevalidateOnce = false
		s.Cache.ObjectStore = merged
		s.Cache.Action = CacheServeAndUpdate
		BuildClientResponse(s, s.Current.Now)
		return transactReturn(s, ActionCacheIssueUpdate, HandlerHandleUpdateCachedObject)
	}

	if s.Cache.Action == CachePrepareToUpdate && isNegativeRevalidatable(s, status) {
		return d.serveNegativeRevalidation(s)
	}

	if !IsResponseCacheable(s, s.Headers.ServerResponse, status, false) {
		s.Cache.Action = CacheNoAction
		return d.HandleNoCacheOperationOnForwardServerResponse(s)
	}

	obj := &CachedObject{
		URL:           s.Request.URL,
		StatusCode:    status,
		Header:        cloneHeader(s.Headers.ServerResponse),
		ResponseRecvd: s.Current.Now,
	}
	if _, negative := s.Overridable.NegativeCachingStatus[status]; negative {
		obj.NegativeUntil = s.Current.Now.Add(s.Overridable.NegativeCachingStatus[status])
		obj.NeedRevalidateOnce = s.Overridable.NegativeRevalidatingEnabled
	}
	s.Cache.ObjectStore = obj
	s.Cache.Action = CacheWrite
	BuildClientResponse(s, s.Current.Now)
	return transactReturn(s, ActionCacheIssueWrite, HandlerNone)
}

// isNegativeRevalidatable implements spec §4.F's negative-revalidation
// branch: a 5xx (or whatever status list is configured) received while
// revalidating a non-error cached entry, where the entry's staleness is
// still within the tolerance is_stale_cache_response_returnable allows, is
// treated as if the origin had confirmed freshness rather than as a
// server error.
func isNegativeRevalidatable(s *State, status int) bool {
	cfg := &s.Overridable
	if !cfg.NegativeRevalidatingEnabled || !cfg.NegativeRevalidatingStatus[status] {
		return false
	}
	obj := s.Cache.ObjectRead
	if obj == nil || obj.StatusCode >= 400 {
		return false
	}
	age := CurrentAge(cfg, obj, s.Current.Now)
	return IsStaleCacheResponseReturnable(cfg, s.Headers.ClientRequest, obj, age)
}

// serveNegativeRevalidation re-serves the stale cached object with its
// Expires pushed forward by negative_revalidating_lifetime, clearing
// need-revalidate-once and any stale warnings (spec §8 scenario 4).
func (d *Director) serveNegativeRevalidation(s *State) Result {
	obj := s.Cache.ObjectRead
	merged := *obj
	merged.Header = cloneHeader(obj.Header)
	merged.Header.Set("Expires", s.Current.Now.Add(s.Overridable.NegativeRevalidatingLifetime).UTC().Format(http.TimeFormat))
	merged.NeedRevalidateOnce = false
	ClearStaleWarnings(merged.Header)
	s.Cache.ObjectStore = &merged
	s.Cache.Action = CacheServeAndUpdate
	s.Via.Set(ViaProxyResult, ViaProxyResultServedStale)
	BuildClientResponse(s, s.Current.Now)
	return transactReturn(s, ActionCacheIssueUpdate, HandlerHandleUpdateCachedObject)
}

// HandleNoCacheOperationOnForwardServerResponse serves the origin response
// straight through without touching the cache (spec §4.F).
func (d *Director) HandleNoCacheOperationOnForwardServerResponse(s *State) Result {
	s.Cache.Action = CacheNoAction
	BuildClientResponse(s, s.Current.Now)
	return transactReturn(s, ActionInternalCacheNoop, HandlerNone)
}

// HandlePushWriteHeaders / HandlePushWriteBody implement the PUSH method
// write path (spec §6, supplemented feature): a client may directly insert
// an object into the cache by pushing its headers and body rather than
// this proxy fetching them from an origin.
func (d *Director) HandlePushWriteHeaders(s *State) Result {
	if s.Request.Method != "PUSH" {
		return d.sendError(s, NewErrorKind(ErrorBadIncomingResponse, "not a push request", nil))
	}
	if !s.Headers.ServerResponseValid() {
		return d.sendError(s, NewErrorKind(ErrorBadIncomingResponse, "push missing headers", nil))
	}
	status := responseStatus(s)
	if !IsResponseCacheable(s, s.Headers.ServerResponse, status, false) {
		return d.sendError(s, NewErrorKind(ErrorBadIncomingResponse, "pushed object not cacheable", nil))
	}
	s.Cache.Action = CachePrepareToWrite
	s.Cache.HitMissCode = HitMissPush
	return transactReturn(s, ActionStorePushBody, HandlerHandlePushWriteBody)
}

func (d *Director) HandlePushWriteBody(s *State) Result {
	s.Cache.ObjectStore = &CachedObject{
		URL:           s.Request.URL,
		StatusCode:    responseStatus(s),
		Header:        cloneHeader(s.Headers.ServerResponse),
		ResponseRecvd: s.Current.Now,
	}
	s.Cache.Action = CacheWrite
	return transactReturn(s, ActionCacheIssueWrite, HandlerNone)
}

// HandleUpdateCachedObject is re-entered once the SM confirms a
// revalidation-triggered header update has been durably written (spec
// §4.F).
func (d *Director) HandleUpdateCachedObject(s *State) Result {
	return transactReturn(s, ActionInternalCacheUpdateHeaders, HandlerNone)
}

func (d *Director) sendError(s *State, kind *ErrorKind) Result {
	status, header := BuildErrorResponse(s, kind)
	if status != 0 {
		header.Set("X-Status-Code", strconv.Itoa(status))
	}
	s.Headers.ClientResponse = header
	return transactReturn(s, ActionSendErrorCacheNoop, HandlerNone)
}

func responseStatus(s *State) int {
	if s.Headers.ServerResponse == nil {
		return 0
	}
	return statusOf(s)
}
