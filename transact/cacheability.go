package transact

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// cacheControl is a parsed Cache-Control directive set, grounded on the
// teacher's cachecontrol.go parseCacheControl/cacheControl map shape.
type cacheControl map[string]string

func parseCacheControl(h http.Header) cacheControl {
	cc := cacheControl{}
	for _, part := range strings.Split(h.Get("Cache-Control"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '='); i >= 0 {
			k := strings.TrimSpace(part[:i])
			v := strings.Trim(strings.TrimSpace(part[i+1:]), `"`)
			if _, seen := cc[k]; !seen {
				cc[k] = v
			}
		} else if _, seen := cc[part]; !seen {
			cc[part] = ""
		}
	}
	return cc
}

func (cc cacheControl) has(directive string) bool {
	_, ok := cc[directive]
	return ok
}

var understoodStatusCodes = map[int]bool{
	200: true, 203: true, 204: true, 206: true, 300: true, 301: true,
	404: true, 405: true, 410: true, 414: true, 501: true,
}

var defaultCacheableStatus = map[int]bool{
	200: true, 203: true, 300: true, 301: true, 304: true, 410: true,
}

// viaDetail bytes recorded on is_request_cache_lookupable rejection (§4.A).
const (
	detailNone           = 0
	detailModeTunnelling = 'T'
	detailCacheDisabled  = 'C'
	detailMethod         = 'M'
	detailDynamicURL     = 'D'
	detailRange          = 'R'
)

// IsRequestCacheLookupable implements spec §4.A is_request_cache_lookupable.
// It returns the boolean verdict and a via-detail byte recording why a
// request was rejected (0 when lookupable).
func IsRequestCacheLookupable(s *State) (bool, byte) {
	cfg := &s.Overridable
	if s.Current.Mode == ModeTunnelling {
		return false, detailModeTunnelling
	}
	if !cfg.CachingEnabled {
		return false, detailCacheDisabled
	}
	if !cfg.CacheableMethods[s.Request.Method] {
		return false, detailMethod
	}
	if isDynamicURL(s.Request.URL) {
		ttlOverride := s.Overridable.CacheGuaranteedMaxLifetime > 0 && cfg.WhenToRevalidate == RevalidateNeverStale
		maxForwardsZero := s.Request.HasMaxForwards && s.Request.MaxForwards == 0
		if !ttlOverride && !maxForwardsZero {
			return false, detailDynamicURL
		}
	}
	if s.Headers.ClientRequest != nil && s.Headers.ClientRequest.Get("Range") != "" && !cfg.RangeLookupEnabled {
		return false, detailRange
	}
	return true, detailNone
}

// isDynamicURL is a conservative heuristic: a URL is "dynamic" if it
// contains a '?', unless it also contains the substring "static". Real
// deployments configure this via url-classification rules; the core only
// needs the boolean.
func isDynamicURL(rawURL string) bool {
	return strings.ContainsAny(rawURL, "?") &&
		!strings.Contains(rawURL, "static")
}

// IsResponseCacheable implements spec §4.A is_response_cacheable.
func IsResponseCacheable(s *State, respHeader http.Header, status int, pluginVeto bool) bool {
	cfg := &s.Overridable
	if pluginVeto {
		return false
	}
	if !cfg.CacheableMethods[s.Request.Method] {
		return false
	}
	lookupable, _ := IsRequestCacheLookupable(s)
	if !lookupable {
		return false
	}
	if respHeader.Get("WWW-Authenticate") != "" && !cfg.IgnoreAuth {
		return false
	}
	respCC := parseCacheControl(respHeader)
	if !cfg.IgnoreServerNoCache {
		if respCC.has("no-store") {
			return false
		}
		if respCC.has("no-cache") {
			// no-cache permits storage but forces revalidation; still
			// cacheable from a storage standpoint.
		}
	}
	if strings.EqualFold(respHeader.Get("Pragma"), "no-cache") {
		return false
	}
	switch cfg.RequiredHeaders {
	case RequiredHeadersAtLeastLastModified:
		if respHeader.Get("Last-Modified") == "" && respHeader.Get("ETag") == "" {
			return false
		}
	case RequiredHeadersCacheControl:
		if len(respCC) == 0 {
			return false
		}
	}

	if status == 206 || status == 416 {
		return false
	}
	if (status == 302 || status == 307) && !hasPositiveCacheControl(respCC) {
		return false
	}
	if defaultCacheableStatus[status] {
		return true
	}
	if hasPositiveCacheControl(respCC) {
		return true
	}
	if respHeader.Get("Expires") != "" {
		return true
	}
	if _, negCached := cfg.NegativeCachingStatus[status]; negCached {
		return true
	}
	return false
}

func hasPositiveCacheControl(cc cacheControl) bool {
	if cc.has("max-age") {
		if n, err := strconv.Atoi(cc["max-age"]); err == nil && n < 0 {
			return false
		}
		return true
	}
	return cc.has("s-maxage") || cc.has("public")
}

// IsCacheResponseReturnable implements spec §4.A is_cache_response_returnable.
func IsCacheResponseReturnable(s *State, obj *CachedObject) bool {
	if obj == nil {
		return false
	}
	reqCC := parseCacheControl(s.Headers.ClientRequest)
	if reqCC.has("no-cache") {
		return false
	}
	// Methods must match exactly, except HEAD may reuse a cached GET
	// (stored objects are always GET bodies in this core; see CacheInfo).
	if s.Request.Method != http.MethodGet && s.Request.Method != http.MethodHead {
		return false
	}
	if DoCookiesPreventCaching(s.Overridable.CookiesPreventCaching, obj.Header) {
		return false
	}
	return true
}

// IsStaleCacheResponseReturnable implements spec §4.A
// is_stale_cache_response_returnable.
func IsStaleCacheResponseReturnable(cfg *Config, reqHeader http.Header, obj *CachedObject, currentAge time.Duration) bool {
	reqCC := parseCacheControl(reqHeader)
	if reqCC.has("no-cache") {
		return false
	}
	respCC := parseCacheControl(obj.Header)
	for _, forbidden := range []string{"must-revalidate", "proxy-revalidate", "no-cache", "no-store", "s-maxage"} {
		if respCC.has(forbidden) {
			return false
		}
	}
	if obj.NeedRevalidateOnce {
		return false
	}
	maxAge := 0.0
	if v, err := strconv.Atoi(respCC["max-age"]); err == nil {
		maxAge = float64(v)
	}
	limit := cfg.CacheMaxStaleAge.Seconds() + maxAge
	return currentAge.Seconds() <= limit
}

// DoCookiesPreventCaching implements spec §4.A do_cookies_prevent_caching.
func DoCookiesPreventCaching(policy CookiePolicy, respHeader http.Header) bool {
	hasCookie := len(respHeader.Values("Set-Cookie")) > 0
	contentType := respHeader.Get("Content-Type")
	isImage := strings.HasPrefix(contentType, "image/")
	isText := strings.HasPrefix(contentType, "text/")
	isPublic := parseCacheControl(respHeader).has("public")

	switch policy {
	case CookiesAll:
		return false
	case CookiesNone:
		return hasCookie
	case CookiesImages:
		return hasCookie && !isImage
	case CookiesAllButText:
		return hasCookie && isText
	case CookiesAllButTextExt:
		if !hasCookie {
			return false
		}
		if isText && !isPublic {
			return true
		}
		return false
	}
	return false
}

// sortedDirectiveKeys is a small helper used by callers that need
// deterministic directive ordering for logging/diagnostics.
func sortedDirectiveKeys(cc cacheControl) []string {
	keys := make([]string, 0, len(cc))
	for k := range cc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
