package transact

import (
	"net/http"
	"testing"
	"time"
)

func TestFreshnessLimitPrecedence(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	tests := []struct {
		name string
		obj  *CachedObject
		want time.Duration
	}{
		{
			name: "s-maxage wins over max-age",
			obj:  &CachedObject{Header: http.Header{"Cache-Control": {"s-maxage=30, max-age=60"}}},
			want: 30 * time.Second,
		},
		{
			name: "max-age used when no s-maxage",
			obj:  &CachedObject{Header: http.Header{"Cache-Control": {"max-age=60"}}},
			want: 60 * time.Second,
		},
		{
			name: "negative max-age coerced to zero",
			obj:  &CachedObject{Header: http.Header{"Cache-Control": {"max-age=-5"}}},
			want: 0,
		},
		{
			name: "Expires used when no Cache-Control freshness directive",
			obj: &CachedObject{
				Header:        http.Header{"Date": {now.Format(http.TimeFormat)}, "Expires": {now.Add(90 * time.Second).Format(http.TimeFormat)}},
				ResponseRecvd: now,
			},
			want: 90 * time.Second,
		},
		{
			name: "Expires before Date yields zero",
			obj: &CachedObject{
				Header:        http.Header{"Date": {now.Format(http.TimeFormat)}, "Expires": {now.Add(-90 * time.Second).Format(http.TimeFormat)}},
				ResponseRecvd: now,
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FreshnessLimit(cfg, tt.obj, false)
			if got.Round(time.Second) != tt.want {
				t.Errorf("FreshnessLimit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFreshnessLimitHeuristicClampedToBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeuristicMinLifetime = 10 * time.Minute
	cfg.HeuristicMaxLifetime = 20 * time.Minute
	cfg.HeuristicLMFactor = 0.10

	now := time.Now()
	lastModified := now.Add(-24 * time.Hour) // heuristic would suggest 2.4h, clamped down to 20m
	obj := &CachedObject{
		Header: http.Header{
			"Date":          {now.Format(http.TimeFormat)},
			"Last-Modified": {lastModified.Format(http.TimeFormat)},
		},
		ResponseRecvd: now,
	}

	got := FreshnessLimit(cfg, obj, false)
	if got != cfg.HeuristicMaxLifetime {
		t.Errorf("FreshnessLimit() = %v, want clamped max %v", got, cfg.HeuristicMaxLifetime)
	}
}

func TestCurrentAgeAccumulatesResidentTime(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	responseRecvd := now.Add(-30 * time.Second)
	obj := &CachedObject{
		Header:        http.Header{"Date": {responseRecvd.Format(http.TimeFormat)}},
		ResponseRecvd: responseRecvd,
		RequestSent:   responseRecvd,
	}

	got := CurrentAge(cfg, obj, now)
	if got < 29*time.Second || got > 31*time.Second {
		t.Errorf("CurrentAge() = %v, want ~30s of resident time", got)
	}
}

func TestCurrentAgeMissingDateFallsBackToResponseRecvd(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	responseRecvd := now.Add(-10 * time.Second)
	obj := &CachedObject{Header: http.Header{}, ResponseRecvd: responseRecvd}

	got := CurrentAge(cfg, obj, now)
	if got < 9*time.Second || got > 11*time.Second {
		t.Errorf("CurrentAge() = %v, want ~10s using ResponseRecvd as Date substitute", got)
	}
}

func TestEvaluateFreshnessFreshVsStale(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	fresh := &CachedObject{
		Header:        http.Header{"Cache-Control": {"max-age=60"}, "Date": {now.Add(-10 * time.Second).Format(http.TimeFormat)}},
		ResponseRecvd: now.Add(-10 * time.Second),
	}
	if got := EvaluateFreshness(cfg, fresh, http.Header{}, now, false); got != FreshnessFresh {
		t.Errorf("EvaluateFreshness() = %v, want FreshnessFresh", got)
	}

	stale := &CachedObject{
		Header:        http.Header{"Cache-Control": {"max-age=60"}, "Date": {now.Add(-120 * time.Second).Format(http.TimeFormat)}},
		ResponseRecvd: now.Add(-120 * time.Second),
	}
	if got := EvaluateFreshness(cfg, stale, http.Header{}, now, false); got != FreshnessStale {
		t.Errorf("EvaluateFreshness() = %v, want FreshnessStale", got)
	}
}

func TestEvaluateFreshnessHeuristicGivesWarning(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	lastModified := now.Add(-240 * time.Hour) // pushes heuristic well above a few seconds
	obj := &CachedObject{
		Header: http.Header{
			"Date":          {now.Add(-1 * time.Second).Format(http.TimeFormat)},
			"Last-Modified": {lastModified.Format(http.TimeFormat)},
		},
		ResponseRecvd: now.Add(-1 * time.Second),
	}

	if got := EvaluateFreshness(cfg, obj, http.Header{}, now, false); got != FreshnessWarning {
		t.Errorf("EvaluateFreshness() = %v, want FreshnessWarning for a heuristically-fresh object", got)
	}
}

func TestEvaluateFreshnessOverrides(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	obj := &CachedObject{
		Header:        http.Header{"Cache-Control": {"max-age=60"}, "Date": {now.Format(http.TimeFormat)}},
		ResponseRecvd: now,
	}

	cfg.WhenToRevalidate = RevalidateAlwaysStale
	if got := EvaluateFreshness(cfg, obj, http.Header{}, now, false); got != FreshnessStale {
		t.Errorf("RevalidateAlwaysStale: got %v, want FreshnessStale", got)
	}

	cfg.WhenToRevalidate = RevalidateNeverStale
	staleObj := &CachedObject{
		Header:        http.Header{"Cache-Control": {"max-age=1"}, "Date": {now.Add(-1 * time.Hour).Format(http.TimeFormat)}},
		ResponseRecvd: now.Add(-1 * time.Hour),
	}
	if got := EvaluateFreshness(cfg, staleObj, http.Header{}, now, false); got != FreshnessFresh {
		t.Errorf("RevalidateNeverStale: got %v, want FreshnessFresh", got)
	}
}

func TestEvaluateFreshnessRequestMaxStaleExtendsWindow(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()
	obj := &CachedObject{
		Header:        http.Header{"Cache-Control": {"max-age=60"}, "Date": {now.Add(-90 * time.Second).Format(http.TimeFormat)}},
		ResponseRecvd: now.Add(-90 * time.Second),
	}

	reqHeader := http.Header{"Cache-Control": {"max-stale=60"}}
	if got := EvaluateFreshness(cfg, obj, reqHeader, now, false); got != FreshnessFresh {
		t.Errorf("EvaluateFreshness() with max-stale=60 = %v, want FreshnessFresh (90s age within 60+60 window)", got)
	}
}

func TestIsStaleCacheResponseReturnable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheMaxStaleAge = 30 * time.Second

	returnable := &CachedObject{Header: http.Header{"Cache-Control": {"max-age=60"}}}
	if !IsStaleCacheResponseReturnable(cfg, http.Header{}, returnable, 85*time.Second) {
		t.Error("expected age within max-age+max-stale-age to be returnable")
	}
	if IsStaleCacheResponseReturnable(cfg, http.Header{}, returnable, 91*time.Second) {
		t.Error("expected age beyond max-age+max-stale-age to be rejected")
	}

	mustRevalidate := &CachedObject{Header: http.Header{"Cache-Control": {"max-age=60, must-revalidate"}}}
	if IsStaleCacheResponseReturnable(cfg, http.Header{}, mustRevalidate, 1*time.Second) {
		t.Error("must-revalidate should forbid serving stale regardless of age")
	}

	if IsStaleCacheResponseReturnable(cfg, http.Header{"Cache-Control": {"no-cache"}}, returnable, 1*time.Second) {
		t.Error("client Cache-Control: no-cache should forbid serving stale")
	}
}
