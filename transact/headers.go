package transact

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// hopByHopHeaders lists headers that must never be forwarded across a
// proxy hop (spec §4.C).
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Connection", "TE", "Trailer",
	"Transfer-Encoding", "Upgrade", "Proxy-Authenticate", "Proxy-Authorization",
}

func stripHopByHop(h http.Header) {
	stripHopByHopExcept(h)
}

// stripHopByHopExcept strips every hop-by-hop header except the named ones,
// used by BuildServerRequest to carry Upgrade/Connection through on a
// WebSocket upgrade (spec §4.C "Upgrade path") where those two headers are
// the whole point of the request.
func stripHopByHopExcept(h http.Header, keep ...string) {
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[http.CanonicalHeaderKey(k)] = true
	}
	// RFC 7230 §6.1: headers named by a Connection value are themselves
	// hop-by-hop for this hop. They are collected before Connection itself
	// is removed below.
	var named []string
	if !kept["Connection"] {
		for _, v := range h.Values("Connection") {
			for _, name := range strings.Split(v, ",") {
				if name = strings.TrimSpace(name); name != "" && !kept[http.CanonicalHeaderKey(name)] {
					named = append(named, name)
				}
			}
		}
	}
	for _, name := range hopByHopHeaders {
		if !kept[http.CanonicalHeaderKey(name)] {
			h.Del(name)
		}
	}
	for _, name := range named {
		h.Del(name)
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// BuildServerRequest implements the outgoing-request half of component C
// (spec §4.C). It copies ClientRequest into ServerRequest, stripping
// hop-by-hop headers and applying the configured Client-IP/XFF/Via/Host
// policies.
func BuildServerRequest(s *State) {
	cfg := &s.Overridable
	out := cloneHeader(s.Headers.ClientRequest)
	if s.Current.WebSocketUpgrade {
		stripHopByHopExcept(out, "Upgrade", "Connection")
	} else {
		stripHopByHop(out)
	}

	switch cfg.ClientIPInsert {
	case ClientIPAlways:
		out.Set("Client-IP", s.ClientInfo.Addr)
	case ClientIPIfAbsent:
		if out.Get("Client-IP") == "" {
			out.Set("Client-IP", s.ClientInfo.Addr)
		}
	}

	if cfg.InsertXForwardedFor && s.ClientInfo.Addr != "" {
		if prior := out.Get("X-Forwarded-For"); prior != "" {
			out.Set("X-Forwarded-For", prior+", "+s.ClientInfo.Addr)
		} else {
			out.Set("X-Forwarded-For", s.ClientInfo.Addr)
		}
	}
	if cfg.InsertForwarded && s.ClientInfo.Addr != "" {
		out.Add("Forwarded", "for="+s.ClientInfo.Addr)
	}
	if cfg.InsertVia {
		out.Add("Via", viaToken(s))
	}

	if u, err := url.Parse(s.Request.URL); err == nil {
		u.Fragment = ""
		host := u.Hostname()
		if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
			host = host + ":" + port
		}
		if s.Request.HTTPVersion != "" && parseMajorMinor(s.Request.HTTPVersion) >= 1.0 {
			out.Set("Host", host)
		}
	}

	maybeStripConditionalForRevalidationBypass(s, out)

	s.Headers.ServerRequest = out
}

func viaToken(s *State) string {
	uuid := s.Overridable.MachineUUID
	if uuid == "" {
		uuid = "anonymous"
	}
	return s.Request.HTTPVersion + " proxy (" + uuid + ")"
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

func parseMajorMinor(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 1.1
	}
	return f
}

// maybeStripConditionalForRevalidationBypass implements the §4.C rule: if
// the cached response is returnable and the client request is not itself
// conditional, strip If-Modified-Since/If-None-Match before issuing a
// normal (non-revalidation) upstream request, unless cache_when_to_revalidate
// == stale_if_ims (4), which suppresses the stripping.
func maybeStripConditionalForRevalidationBypass(s *State, out http.Header) {
	if s.Overridable.WhenToRevalidate == RevalidateStaleIfIMS {
		return
	}
	if s.Cache.ObjectRead == nil || !IsCacheResponseReturnable(s, s.Cache.ObjectRead) {
		return
	}
	clientIsConditional := s.Headers.ClientRequest.Get("If-Modified-Since") != "" ||
		s.Headers.ClientRequest.Get("If-None-Match") != ""
	if clientIsConditional {
		return
	}
	out.Del("If-Modified-Since")
	out.Del("If-None-Match")
}

// BuildRevalidationRequest implements spec §4.C "For issuing a
// revalidation": either a HEAD (fresh-but-auth-only case) or conditional
// GET/HEAD using the cached validators.
func BuildRevalidationRequest(s *State, freshButAuthOnly bool) {
	obj := s.Cache.ObjectRead
	if obj == nil {
		return
	}
	if freshButAuthOnly {
		s.Headers.ServerRequest.Set("X-Method-Override", "")
		s.Request.Method = http.MethodHead
		return
	}
	if obj.StatusCode != 200 {
		return
	}
	if s.Request.Method != http.MethodGet && s.Request.Method != http.MethodHead {
		return
	}
	if s.Range.Setup != RangeNone {
		return
	}
	if lm := obj.Header.Get("Last-Modified"); lm != "" {
		s.Headers.ServerRequest.Set("If-Modified-Since", lm)
	}
	if etag := obj.Header.Get("ETag"); etag != "" {
		s.Headers.ServerRequest.Set("If-None-Match", strings.TrimPrefix(etag, "W/"))
	}
}

// ParseRangeHeader implements spec §3 "Range info": parses a client
// Range: header (RFC 7233 §2.1, bytes unit only) into s.Range, one
// ByteRange per byte-range-spec. contentLength is the representation
// length if already known, or -1 when it isn't (the common case at
// request time, before any response has been seen); a suffix range
// against an unknown length is left open-ended (End == -1) and resolved
// once BuildClientResponse sees the real length. A header with no "bytes="
// prefix, or that yields zero valid specs, leaves Setup at
// RangeNotHandled/RangeNotSatisfiable respectively so the rest of the core
// treats the request as an ordinary, unranged request or rejects it.
func ParseRangeHeader(s *State, contentLength int64) {
	raw := s.Headers.ClientRequest.Get("Range")
	if raw == "" {
		s.Range.Setup = RangeNone
		return
	}
	if !strings.HasPrefix(raw, "bytes=") {
		s.Range.Setup = RangeNotHandled
		return
	}

	specs := strings.Split(strings.TrimPrefix(raw, "bytes="), ",")
	ranges := make([]ByteRange, 0, len(specs))
	for _, spec := range specs {
		if r, ok := parseByteRangeSpec(strings.TrimSpace(spec), contentLength); ok {
			ranges = append(ranges, r)
		}
	}
	if len(ranges) == 0 {
		s.Range.Setup = RangeNotSatisfiable
		return
	}
	s.Range.Setup = RangeRequested
	s.Range.Ranges = ranges
	s.Range.RangeOutputCL = rangeOutputContentLength(ranges)
}

func parseByteRangeSpec(spec string, contentLength int64) (ByteRange, bool) {
	i := strings.IndexByte(spec, '-')
	if i < 0 {
		return ByteRange{}, false
	}
	startStr, endStr := spec[:i], spec[i+1:]

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, false
		}
		if contentLength <= 0 {
			return ByteRange{Start: 0, End: -1}, true
		}
		start := contentLength - n
		if start < 0 {
			start = 0
		}
		return ByteRange{Start: start, End: contentLength - 1}, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, false
	}
	if contentLength > 0 && start >= contentLength {
		return ByteRange{}, false
	}
	if endStr == "" {
		end := int64(-1)
		if contentLength > 0 {
			end = contentLength - 1
		}
		return ByteRange{Start: start, End: end}, true
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return ByteRange{}, false
	}
	if contentLength > 0 && end >= contentLength {
		end = contentLength - 1
	}
	return ByteRange{Start: start, End: end}, true
}

func rangeOutputContentLength(ranges []ByteRange) int64 {
	var total int64
	for _, r := range ranges {
		if r.End < 0 {
			return -1
		}
		total += r.End - r.Start + 1
	}
	return total
}

func formatContentRange(r ByteRange, total int64) string {
	totalStr := "*"
	if total > 0 {
		totalStr = strconv.FormatInt(total, 10)
	}
	end := "*"
	if r.End >= 0 {
		end = strconv.FormatInt(r.End, 10)
	}
	return "bytes " + strconv.FormatInt(r.Start, 10) + "-" + end + "/" + totalStr
}

func rangeBoundary(s *State) string {
	return "TSB_" + strconv.FormatInt(s.ID, 10)
}

// CLDecision is the outcome of the Content-Length/Transfer-Encoding
// precedence rule (spec §4.C).
type CLDecision struct {
	TrustCL           bool
	ContentLength     int64
	UseChunked        bool
	IsMultipartRanges bool
}

// DecideContentLength implements the §4.C Content-Length/Transfer-Encoding
// precedence chain.
func DecideContentLength(s *State, fromOrigin bool, originCL int64, originCLKnown bool, transformCL int64, transformCLKnown bool) CLDecision {
	code := statusOf(s)

	bodyPrecluded := code == 204 || code == 304 || (code >= 100 && code < 200) || s.Request.Method == http.MethodHead
	if bodyPrecluded {
		return CLDecision{TrustCL: true, ContentLength: 0}
	}
	if s.Range.Setup == RangeRequested && len(s.Range.Ranges) > 0 {
		if len(s.Range.Ranges) > 1 {
			return CLDecision{TrustCL: false, IsMultipartRanges: true}
		}
		return CLDecision{TrustCL: true, ContentLength: s.Range.RangeOutputCL}
	}
	if fromOrigin && originCLKnown {
		return CLDecision{TrustCL: true, ContentLength: originCL}
	}
	if s.Cache.Action == CacheServe || s.Cache.Action == CacheServeAndUpdate {
		if s.Cache.ObjectRead != nil {
			return CLDecision{TrustCL: true, ContentLength: s.Cache.ObjectRead.BodySize}
		}
	}
	if transformCLKnown {
		return CLDecision{TrustCL: true, ContentLength: transformCL}
	}
	if s.Request.HTTPVersion == "1.1" && s.Overridable.ChunkingEnabled {
		return CLDecision{TrustCL: false, UseChunked: true}
	}
	return CLDecision{TrustCL: false}
}

func statusOf(s *State) int {
	if s.Headers.ServerResponse != nil {
		if v := s.Headers.ServerResponse.Get("X-Status-Code"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

// BuildClientResponse builds client_response from either a served
// CachedObject or the upstream ServerResponse (spec §4.C "Outgoing
// response rules").
func BuildClientResponse(s *State, now time.Time) {
	var base http.Header
	var status int
	switch {
	case s.Cache.ObjectRead != nil && (s.Cache.Action == CacheServe || s.Cache.Action == CacheServeAndUpdate || s.Cache.Action == CacheServeAndDelete):
		base = cloneHeader(s.Cache.ObjectRead.Header)
		status = s.Cache.ObjectRead.StatusCode
		age := CurrentAge(&s.Overridable, s.Cache.ObjectRead, now)
		if origin := base.Get("Age"); origin == "" {
			base.Set("Age", formatAgeSeconds(age))
		}
	case s.Headers.ServerResponse != nil:
		base = cloneHeader(s.Headers.ServerResponse)
		status = statusOf(s)
	default:
		base = make(http.Header)
	}

	if status == http.StatusOK {
		status = applyRangeToResponse(s, base)
	}

	stripHopByHop(base)
	if status != 0 {
		base.Set("X-Status-Code", strconv.Itoa(status))
	}
	s.Headers.ClientResponse = base
	applyKeepAliveDecision(s)
}

// applyRangeToResponse implements the §4.C / §3 "Range info" outgoing
// side: given a 200 response about to be served (from cache or origin),
// decide whether it becomes 206 Partial Content or 416 Range Not
// Satisfiable, and set the matching Content-Range / Content-Length /
// multipart Content-Type. Returns the (possibly unchanged) status to use.
func applyRangeToResponse(s *State, base http.Header) int {
	if s.Range.Setup != RangeRequested || len(s.Range.Ranges) == 0 {
		return http.StatusOK
	}

	var total int64
	if v := base.Get("Content-Length"); v != "" {
		total, _ = strconv.ParseInt(v, 10, 64)
	} else if s.Cache.ObjectRead != nil && s.Cache.ObjectRead.BodySize > 0 {
		total = s.Cache.ObjectRead.BodySize
	}

	ranges := s.Range.Ranges
	if total > 0 {
		satisfiable := ranges[:0:0]
		for _, r := range ranges {
			if r.Start >= total {
				continue
			}
			end := r.End
			if end < 0 || end >= total {
				end = total - 1
			}
			satisfiable = append(satisfiable, ByteRange{Start: r.Start, End: end})
		}
		ranges = satisfiable
	}
	if len(ranges) == 0 {
		base.Set("Content-Range", "bytes */"+strconv.FormatInt(total, 10))
		return http.StatusRequestedRangeNotSatisfiable
	}
	s.Range.Ranges = ranges
	s.Range.RangeOutputCL = rangeOutputContentLength(ranges)

	if len(ranges) > 1 {
		base.Set("Content-Type", "multipart/byteranges; boundary="+rangeBoundary(s))
		base.Del("Content-Length")
		return http.StatusPartialContent
	}

	base.Set("Content-Range", formatContentRange(ranges[0], total))
	if s.Range.RangeOutputCL >= 0 {
		base.Set("Content-Length", strconv.FormatInt(s.Range.RangeOutputCL, 10))
	}
	return http.StatusPartialContent
}

func formatAgeSeconds(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return strconv.FormatInt(secs, 10)
}

// applyKeepAliveDecision implements the §4.C keep-alive rules, including
// the HTTP/1.0-or-505 downgrade-and-retry-once latch.
func applyKeepAliveDecision(s *State) {
	h := s.Headers.ClientResponse
	wantsClose := s.ClientInfo.HTTPVersion == "1.0" && !s.ClientInfo.KeepAlive
	usedProxyConnection := s.Headers.ClientRequest != nil && s.Headers.ClientRequest.Get("Proxy-Connection") != ""

	name := "Connection"
	if usedProxyConnection {
		name = "Proxy-Connection"
	}
	if wantsClose {
		h.Set(name, "close")
	} else {
		h.Set(name, "keep-alive")
	}
}

// MaybeDowngrade implements the one-shot 1.0/505 downgrade-and-retry rule
// (spec §4.C, §7): returns true exactly once per transaction.
func MaybeDowngrade(s *State, serverHTTPVersion string, status int) bool {
	if s.ServerInfo.AlreadyDowngraded {
		return false
	}
	if serverHTTPVersion == "1.0" || status == 505 {
		s.Request.HTTPVersion = "1.0"
		s.ServerInfo.AlreadyDowngraded = true
		return true
	}
	return false
}

// MergeNotModified implements the open question "header-merge vs replace
// on cache update" (spec §9): blacklist Age/ETag/Expires/hop-by-hop/
// Content-Length/Transfer-Encoding/Set-Cookie/Content-Type/Warning from
// overwrite, merge the rest, and apply the documented Warning rule.
func MergeNotModified(cached *CachedObject, fresh http.Header) *CachedObject {
	blacklist := map[string]bool{
		"Age": true, "Etag": true, "Expires": true, "Content-Length": true,
		"Transfer-Encoding": true, "Set-Cookie": true, "Content-Type": true,
		"Warning": true, "Connection": true, "Keep-Alive": true,
		"Proxy-Connection": true, "Te": true, "Trailer": true, "Upgrade": true,
		"Proxy-Authenticate": true, "Proxy-Authorization": true,
	}
	merged := cloneHeader(cached.Header)
	for k, v := range fresh {
		if blacklist[http.CanonicalHeaderKey(k)] {
			continue
		}
		merged[k] = append([]string(nil), v...)
	}

	// Warnings: drop 1xx warnings from the cached copy, append all new ones.
	merged.Del("Warning")
	for _, w := range cached.Header.Values("Warning") {
		if !strings.HasPrefix(strings.TrimSpace(w), "1") {
			merged.Add("Warning", w)
		}
	}
	for _, w := range fresh.Values("Warning") {
		merged.Add("Warning", w)
	}

	out := *cached
	out.Header = merged
	return &out
}

// AddStaleWarning / AddRevalidationFailedWarning implement spec §4.C
// "Warning headers" (RFC 7234 §5.5), grounded on the teacher's warning.go.
func AddStaleWarning(h http.Header)             { h.Add("Warning", `110 - "Response is Stale"`) }
func AddRevalidationFailedWarning(h http.Header) { h.Add("Warning", `111 - "Revalidation Failed"`) }
func AddHeuristicExpirationWarning(h http.Header) {
	h.Add("Warning", `113 - "Heuristic Expiration"`)
}

// ClearStaleWarnings drops prior stale-related warnings before a
// revalidation-success merge (spec §4.C).
func ClearStaleWarnings(h http.Header) {
	kept := h.Values("Warning")[:0]
	for _, w := range h.Values("Warning") {
		w = strings.TrimSpace(w)
		if strings.HasPrefix(w, "110") || strings.HasPrefix(w, "111") {
			continue
		}
		kept = append(kept, w)
	}
	h.Del("Warning")
	for _, w := range kept {
		h.Add("Warning", w)
	}
}
