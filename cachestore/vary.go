package cachestore

import (
	"net/http"
	"strings"

	"github.com/jasmine-nahrain/trafficserver/transact"
)

const headerXVariedPrefix = "X-Cachestore-Varied-"

// varyHeaderNames splits a Vary response header into canonical header
// names, grounded on RFC 9111 §4.1.
func varyHeaderNames(h http.Header) []string {
	raw := h.Values("Vary")
	var names []string
	for _, v := range raw {
		for _, part := range strings.Split(v, ",") {
			names = append(names, strings.TrimSpace(part))
		}
	}
	return names
}

// VaryMatches implements RFC 9111 §4.1: a stored object only satisfies
// the current request if every header named in its Vary matches the
// value recorded at store time. "Vary: *" never matches.
func VaryMatches(obj *transact.CachedObject, reqHeader http.Header) bool {
	names := varyHeaderNames(obj.Header)
	for _, name := range names {
		if name == "*" {
			return false
		}
	}
	for _, name := range names {
		name = http.CanonicalHeaderKey(name)
		if name == "" {
			continue
		}
		reqValue := reqHeader.Get(name)
		storedValue := obj.Header.Get(headerXVariedPrefix + name)
		if normalizeHeaderValue(reqValue) != normalizeHeaderValue(storedValue) {
			return false
		}
	}
	return true
}

// StoreVaryHeaders records the current request's values for every header
// named in resp's Vary, so a later VaryMatches call has something to
// compare against (spec §4.A, RFC 9111 §4.1).
func StoreVaryHeaders(respHeader, reqHeader http.Header) {
	for _, name := range varyHeaderNames(respHeader) {
		name = http.CanonicalHeaderKey(name)
		if name == "" || name == "*" {
			continue
		}
		respHeader.Set(headerXVariedPrefix+name, normalizeHeaderValue(reqHeader.Get(name)))
	}
}

// normalizeHeaderValue collapses whitespace and comma-space runs so that
// semantically identical header values (e.g. "en, fr" vs "en,fr") compare
// equal.
func normalizeHeaderValue(value string) string {
	value = strings.TrimSpace(value)
	var b strings.Builder
	prevSpace := false
	for _, r := range value {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !prevSpace {
				b.WriteRune(' ')
				prevSpace = true
			}
			continue
		}
		b.WriteRune(r)
		prevSpace = false
	}
	return strings.ReplaceAll(b.String(), ", ", ",")
}

// VaryKey returns the cache key widened by obj's own Vary-named request
// header values, for use once a candidate object has already been read
// and its Vary header is known.
func VaryKey(s *transact.State, obj *transact.CachedObject) string {
	return KeyWithVaryHeaders(s, varyHeaderNames(obj.Header))
}
