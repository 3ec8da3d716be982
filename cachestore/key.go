package cachestore

import (
	"net/http"
	"sort"
	"strings"

	"github.com/jasmine-nahrain/trafficserver/transact"
)

// Key returns the cache key for a transaction, matching the core's
// Cache.LookupURL exactly (GET/HEAD share a key; other cacheable methods
// are namespaced by method so a POST and a GET to the same URL never
// collide).
func Key(s *transact.State) string {
	method := s.Request.Method
	if method == http.MethodHead {
		method = http.MethodGet
	}
	if method == http.MethodGet {
		return s.Request.URL
	}
	return method + " " + s.Request.URL
}

// KeyWithVaryHeaders appends the request header values named by
// varyHeaders (as resolved from a prior response's Vary header) to the
// base key, so that responses varying by e.g. Accept-Encoding are stored
// under distinct keys.
func KeyWithVaryHeaders(s *transact.State, varyHeaders []string) string {
	key := Key(s)
	if len(varyHeaders) == 0 {
		return key
	}
	parts := make([]string, 0, len(varyHeaders))
	for _, h := range varyHeaders {
		canonical := http.CanonicalHeaderKey(h)
		if v := s.Headers.ClientRequest.Get(canonical); v != "" {
			parts = append(parts, canonical+":"+v)
		}
	}
	if len(parts) == 0 {
		return key
	}
	sort.Strings(parts)
	return key + "|" + strings.Join(parts, "|")
}
