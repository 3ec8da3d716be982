// Package sm is the runtime driver around the pure transact core: it
// performs the actual I/O a transact.Result asks for (DNS, cache, connect,
// body transfer), deposits the outcome back into transact.State, and
// re-enters the Director until a transaction reaches a terminal action.
//
// This is the only package that is allowed to block, retry, or talk to
// the network; transact never does.
package sm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/sync/singleflight"

	"github.com/jasmine-nahrain/trafficserver/cachestore"
	"github.com/jasmine-nahrain/trafficserver/collab"
	"github.com/jasmine-nahrain/trafficserver/metrics"
	"github.com/jasmine-nahrain/trafficserver/transact"
)

// Runtime wires the transact.Director to concrete collaborators and owns
// the connection pool, dedup, and metrics surrounding it (spec §5, §6).
type Runtime struct {
	director *transact.Director

	DNS      collab.DNS
	Hosts    collab.HostDB
	Parents  collab.ParentSelector
	Cache    collab.CacheSubsystem
	Identity collab.MachineIdentity

	Transport *http.Transport
	Metrics   metrics.Collector

	// dedup collapses concurrent cache lookups for the same key into a
	// single Cache.OpenRead call (spec §5 "concurrency model", grounded on
	// the teacher's use of bounded concurrency primitives).
	dedup singleflight.Group

	retry retrypolicy.RetryPolicy[*http.Response]
}

// Option configures a Runtime the way transact.Option configures a Config.
type Option func(*Runtime)

func WithDNS(d collab.DNS) Option               { return func(r *Runtime) { r.DNS = d } }
func WithHostDB(h collab.HostDB) Option         { return func(r *Runtime) { r.Hosts = h } }
func WithParentSelector(p collab.ParentSelector) Option {
	return func(r *Runtime) { r.Parents = p }
}
func WithCacheSubsystem(c collab.CacheSubsystem) Option {
	return func(r *Runtime) { r.Cache = c }
}
func WithMachineIdentity(m collab.MachineIdentity) Option {
	return func(r *Runtime) { r.Identity = m }
}
func WithMetrics(m metrics.Collector) Option { return func(r *Runtime) { r.Metrics = m } }
func WithTransport(t *http.Transport) Option { return func(r *Runtime) { r.Transport = t } }

// NewRuntime builds a Runtime with a default direct-dial transport and a
// no-op metrics collector; callers override with Option as needed.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		director:  transact.NewDirector(),
		Transport: &http.Transport{},
		Metrics:   metrics.DefaultCollector,
		retry: retrypolicy.NewBuilder[*http.Response]().
			HandleIf(func(resp *http.Response, err error) bool {
				return err != nil || (resp != nil && resp.StatusCode >= 500)
			}).
			WithMaxRetries(0). // transact.ShouldRetry already owns retry counting
			Build(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drives s from its current ReturnPoint through completion, performing
// whatever I/O each transact.Result names (spec §4.F, §5 "suspension
// points"). It returns once the Director produces a terminal Result
// (ReturnPoint == transact.HandlerNone).
func (r *Runtime) Run(ctx context.Context, s *transact.State) error {
	start := time.Now()
	r.resolveParentCandidates(ctx, s)
	handler := s.Current.ReturnPoint

	for {
		result := r.director.Dispatch(s, handler)

		if err := r.perform(ctx, s, result); err != nil {
			return err
		}

		if result.ReturnPoint == transact.HandlerNone {
			r.recordFinal(s, start)
			return nil
		}
		handler = result.ReturnPoint
	}
}

// resolveParentCandidates fetches the Next-Hop Selector's candidate list
// once, before the Director loop starts (spec §5: there is no suspension
// point for parent selection, so the SM resolves it synchronously up front,
// same as it would fetch any other piece of transaction setup). A nil
// Parents collaborator or a lookup error simply leaves the candidate list
// empty, which SelectNextHop treats as "go direct".
func (r *Runtime) resolveParentCandidates(ctx context.Context, s *transact.State) {
	if r.Parents == nil {
		return
	}
	candidates, err := r.Parents.Candidates(ctx, s)
	if err != nil {
		return
	}
	s.ParentCandidates = candidates
}

// perform executes the I/O a transact.Action names and deposits the
// outcome back into s, so the next Dispatch call can see it.
func (r *Runtime) perform(ctx context.Context, s *transact.State, res transact.Result) error {
	switch res.NextAction {
	case transact.ActionDNSLookup:
		return r.performDNS(ctx, s)
	case transact.ActionOriginServerOpen, transact.ActionOriginServerRawOpen:
		return r.performConnect(ctx, s)
	case transact.ActionServerRead:
		return r.performRead(ctx, s)
	case transact.ActionCacheLookup:
		return r.performCacheLookup(ctx, s)
	case transact.ActionCacheIssueWrite, transact.ActionCacheIssueUpdate:
		return r.performCacheWrite(ctx, s)
	default:
		// Actions with no I/O (ActionServeFromCache, ActionSendErrorCacheNoop,
		// ActionInternalCacheNoop, ...) require nothing further from the SM.
		return nil
	}
}

func (r *Runtime) performDNS(ctx context.Context, s *transact.State) error {
	if r.DNS == nil {
		s.DNS.ResolvedP = false
		return nil
	}
	addr, port, _, err := r.DNS.Lookup(ctx, s.DNS.LookupName)
	if err != nil {
		s.DNS.ResolvedP = false
		return nil
	}
	s.DNS.ResolvedP = true
	s.DNS.Addr = addr
	s.DNS.SrvPort = port
	return nil
}

func (r *Runtime) performConnect(ctx context.Context, s *transact.State) error {
	active := &s.ServerInfo
	if s.Current.RequestTo == "parent" {
		active = &s.ParentInfo
	}
	if r.Hosts != nil && r.Hosts.IsDown(active.Addr, active.Port) {
		active.LastConnectError = errors.New("host marked down")
		return nil
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(active.Addr, strconv.Itoa(active.Port)), 10*time.Second)
	if err != nil {
		active.LastConnectError = err
		if r.Hosts != nil {
			r.Hosts.MarkDown(active.Addr, active.Port, time.Now().Add(30*time.Second))
		}
		return nil
	}
	active.LastConnectError = nil
	return conn.Close()
}

func (r *Runtime) performRead(ctx context.Context, s *transact.State) error {
	req, err := http.NewRequestWithContext(ctx, s.Request.Method, s.Request.URL, nil)
	if err != nil {
		return err
	}
	for k, v := range s.Headers.ServerRequest {
		req.Header[k] = v
	}

	resp, err := failsafe.With(r.retry).Get(func() (*http.Response, error) {
		return r.Transport.RoundTrip(req)
	})
	if err != nil {
		s.ServerInfo.LastConnectError = err
		return nil
	}
	defer resp.Body.Close()

	header := resp.Header.Clone()
	cachestore.StoreVaryHeaders(header, s.Headers.ServerRequest)
	header.Set("X-Status-Code", strconv.Itoa(resp.StatusCode))
	s.Headers.ServerResponse = header

	if sink := r.teeIntoCache(s); sink != nil {
		_, _ = io.Copy(sink, resp.Body)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return nil
}

func (r *Runtime) teeIntoCache(s *transact.State) io.Writer {
	return nil // no cache body sink is wired; performRead discards the response body
}

func (r *Runtime) performCacheLookup(ctx context.Context, s *transact.State) error {
	if r.Cache == nil {
		s.Cache.ObjectRead = nil
		return nil
	}
	key := cachestore.Key(s)
	v, err, _ := r.dedup.Do(key, func() (interface{}, error) {
		return r.Cache.OpenRead(ctx, key)
	})
	start := time.Now()
	if err != nil {
		s.Cache.LookupResult = err
		r.Metrics.RecordCacheOperation("get", "cachesubsystem", "error", time.Since(start))
		return nil
	}
	obj, _ := v.(*transact.CachedObject)
	if obj != nil && !cachestore.VaryMatches(obj, s.Headers.ClientRequest) {
		obj = nil
	}
	s.Cache.ObjectRead = obj
	result := "miss"
	if obj != nil {
		result = "hit"
	}
	r.Metrics.RecordCacheOperation("get", "cachesubsystem", result, time.Since(start))
	return nil
}

func (r *Runtime) performCacheWrite(ctx context.Context, s *transact.State) error {
	if r.Cache == nil || s.Cache.ObjectStore == nil {
		return nil
	}
	key := cachestore.Key(s)
	start := time.Now()
	var err error
	if s.Cache.Action == transact.CacheUpdate || s.Cache.Action == transact.CacheServeAndUpdate {
		err = r.Cache.UpdateHeaders(ctx, key, s.Cache.ObjectStore)
	} else {
		err = r.Cache.Commit(ctx, key, s.Cache.ObjectStore, http.NoBody)
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.Metrics.RecordCacheOperation("set", "cachesubsystem", result, time.Since(start))
	return err
}

func (r *Runtime) recordFinal(s *transact.State, start time.Time) {
	status := 0
	if s.Headers.ClientResponse != nil {
		if n, err := strconv.Atoi(s.Headers.ClientResponse.Get("X-Status-Code")); err == nil {
			status = n
		}
	}
	cacheStatus := "bypass"
	switch s.Cache.Action {
	case transact.CacheServe:
		cacheStatus = "hit"
	case transact.CacheServeAndUpdate:
		cacheStatus = "revalidated"
	case transact.CacheWrite, transact.CacheNoAction:
		if s.Cache.HitMissCode == transact.HitMissMiss {
			cacheStatus = "miss"
		}
	}
	r.Metrics.RecordHTTPRequest(s.Request.Method, cacheStatus, status, time.Since(start))
}
