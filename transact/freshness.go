package transact

import (
	"net/http"
	"strconv"
	"time"
)

// Freshness is the verdict of component B (spec §4.B).
type Freshness int

const (
	FreshnessStale Freshness = iota
	FreshnessFresh
	FreshnessWarning
)

// FreshnessLimit implements spec §4.B point 1.
//
// Precedence: s-maxage, then max-age, then Expires, then the heuristic
// (date-last_modified)*lm_factor. A negative max-age is coerced to 0
// (RFC 7234 §4.2.1 — treat as stale); the result is always clamped to
// [0, cache_guaranteed_max_lifetime].
func FreshnessLimit(cfg *Config, obj *CachedObject, readWhileWrite bool) time.Duration {
	cc := parseCacheControl(obj.Header)

	var limit time.Duration
	switch {
	case cc.has("s-maxage"):
		limit = parseDeltaSeconds(cc["s-maxage"])
	case cc.has("max-age"):
		limit = parseDeltaSeconds(cc["max-age"])
	case obj.Header.Get("Expires") != "" && !readWhileWrite:
		date := headerDate(obj.Header, obj.ResponseRecvd)
		expires, err := http.ParseTime(obj.Header.Get("Expires"))
		if err != nil {
			limit = 0
		} else {
			limit = expires.Sub(date)
		}
	default:
		date := headerDate(obj.Header, obj.ResponseRecvd)
		lm, err := http.ParseTime(obj.Header.Get("Last-Modified"))
		if err == nil && lm.Before(date) {
			heuristic := time.Duration(float64(date.Sub(lm)) * cfg.HeuristicLMFactor)
			limit = clampDuration(heuristic, cfg.HeuristicMinLifetime, cfg.HeuristicMaxLifetime)
		}
	}

	if limit < 0 {
		limit = 0
	}
	return clampDuration(limit, 0, cfg.CacheGuaranteedMaxLifetime)
}

// CurrentAge implements spec §4.B point 2, the cache subsystem's age
// function: inputs are request-sent time, response-received time, the
// response's own Date header, and now. Grounded on the teacher's
// calculateAge (age.go), restated against CachedObject fields instead of
// synthetic X-Request-Time/X-Response-Time headers.
func CurrentAge(cfg *Config, obj *CachedObject, now time.Time) time.Duration {
	date := headerDate(obj.Header, obj.ResponseRecvd)

	apparentAge := time.Duration(0)
	if obj.ResponseRecvd.After(date) {
		apparentAge = obj.ResponseRecvd.Sub(date)
	}

	ageValue := parseAgeValue(obj.Header)
	responseDelay := time.Duration(0)
	if !obj.RequestSent.IsZero() && obj.ResponseRecvd.After(obj.RequestSent) {
		responseDelay = obj.ResponseRecvd.Sub(obj.RequestSent)
	}
	correctedAgeValue := ageValue + responseDelay

	correctedInitialAge := apparentAge
	if correctedAgeValue > correctedInitialAge {
		correctedInitialAge = correctedAgeValue
	}

	residentTime := now.Sub(obj.ResponseRecvd)
	if residentTime < 0 {
		residentTime = 0
	}

	currentAge := correctedInitialAge + residentTime
	return clampDuration(currentAge, 0, cfg.CacheGuaranteedMaxLifetime)
}

// AgeLimit implements spec §4.B point 3: freshness_limit widened/narrowed
// by client Cache-Control modifiers, applied in the documented order, with
// an explicit revalidate_after override.
func AgeLimit(freshnessLimit time.Duration, reqHeader http.Header, revalidateAfter time.Duration) time.Duration {
	limit := freshnessLimit
	cc := parseCacheControl(reqHeader)
	mustRevalidate := false // the response's Cache-Control is not visible here; EvaluateFreshness applies must-revalidate itself

	if cc.has("max-stale") && !mustRevalidate {
		limit += parseDeltaSecondsOrMax(cc["max-stale"])
	}
	if cc.has("min-fresh") {
		limit -= parseDeltaSeconds(cc["min-fresh"])
	}
	if cc.has("max-age") {
		limit = parseDeltaSeconds(cc["max-age"])
		if limit == 0 {
			limit = -1 // forces revalidation: even currentAge==0 > -1
		}
	}
	if revalidateAfter >= 0 {
		limit = revalidateAfter
	}
	return limit
}

// EvaluateFreshness ties points 1-4 of spec §4.B together and returns the
// FRESH/WARNING/STALE verdict for a cached entry.
func EvaluateFreshness(cfg *Config, obj *CachedObject, reqHeader http.Header, now time.Time, readWhileWrite bool) Freshness {
	switch cfg.WhenToRevalidate {
	case RevalidateAlwaysStale:
		return FreshnessStale
	case RevalidateNeverStale:
		return FreshnessFresh
	}
	if obj.NeedRevalidateOnce {
		return FreshnessStale
	}

	respCC := parseCacheControl(obj.Header)
	mustRevalidate := respCC.has("must-revalidate")

	limit := FreshnessLimit(cfg, obj, readWhileWrite)
	heuristicUsed := !respCC.has("max-age") && !respCC.has("s-maxage") && obj.Header.Get("Expires") == ""

	revalidateAfter := time.Duration(-1)
	if reqCC := parseCacheControl(reqHeader); reqCC.has("revalidate-after") {
		revalidateAfter = parseDeltaSeconds(reqCC["revalidate-after"])
	}

	ageLimit := limit
	if !mustRevalidate {
		cc := parseCacheControl(reqHeader)
		if cc.has("max-stale") {
			ageLimit += parseDeltaSecondsOrMax(cc["max-stale"])
		}
	}
	if cc := parseCacheControl(reqHeader); cc.has("min-fresh") {
		ageLimit -= parseDeltaSeconds(cc["min-fresh"])
	}
	if cc := parseCacheControl(reqHeader); cc.has("max-age") {
		v := parseDeltaSeconds(cc["max-age"])
		ageLimit = v
		if v == 0 {
			ageLimit = -1
		}
	}
	if revalidateAfter >= 0 {
		ageLimit = revalidateAfter
	}

	age := CurrentAge(cfg, obj, now)

	if cfg.WhenToRevalidate == RevalidateStaleIfHeuristic && heuristicUsed {
		return FreshnessStale
	}

	if ageLimit > age {
		if heuristicUsed {
			return FreshnessWarning
		}
		return FreshnessFresh
	}

	if cfg.ServeStaleOnWriteLockFail && IsStaleCacheResponseReturnable(cfg, reqHeader, obj, age) {
		return FreshnessFresh
	}

	return FreshnessStale
}

func headerDate(h http.Header, fallback time.Time) time.Time {
	if d, err := http.ParseTime(h.Get("Date")); err == nil {
		return d
	}
	return fallback
}

func parseAgeValue(h http.Header) time.Duration {
	v := h.Get("Age")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func parseDeltaSeconds(v string) time.Duration {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	if n < 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// parseDeltaSecondsOrMax treats a directive with no value (bare "max-stale")
// as "accept any staleness", returned as a very large duration.
func parseDeltaSecondsOrMax(v string) time.Duration {
	if v == "" {
		return 365 * 24 * time.Hour
	}
	return parseDeltaSeconds(v)
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if hi > 0 && d > hi {
		return hi
	}
	return d
}
