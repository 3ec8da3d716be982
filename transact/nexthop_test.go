package transact

import (
	"errors"
	"testing"
)

func newNextHopState(candidates []ParentCandidate) *State {
	s := newTestState("GET", "http://o/a")
	s.Request.Host = "o"
	s.ParentCandidates = candidates
	return s
}

func TestSelectNextHopPrefersParentsOverGoDirect(t *testing.T) {
	// go_direct=true must not skip parents outright (spec §8 scenario 3):
	// it only governs the fallback once every candidate is exhausted.
	candidates := []ParentCandidate{{Host: "p1", Port: 8080}}
	s := newNextHopState(candidates)
	s.Overridable.GoDirect = true

	sel := SelectNextHop(s, candidates, "o", 80)
	if sel.Result != ParentSpecified {
		t.Fatalf("Result = %v, want ParentSpecified", sel.Result)
	}
	if sel.Hostname != "p1" || sel.Port != 8080 {
		t.Fatalf("got %+v, want p1:8080", sel)
	}
}

func TestSelectNextHopEmptyCandidatesAlwaysDirect(t *testing.T) {
	s := newNextHopState(nil)
	s.Overridable.GoDirect = false

	sel := SelectNextHop(s, nil, "o", 80)
	if sel.Result != ParentDirect {
		t.Fatalf("Result = %v, want ParentDirect (nothing to fail over from)", sel.Result)
	}
}

func TestSelectNextHopTransparentGoDirectBypassesParents(t *testing.T) {
	candidates := []ParentCandidate{{Host: "p1", Port: 8080}}
	s := newNextHopState(candidates)
	s.ClientInfo.IsTransparent = true
	s.Overridable.GoDirect = true

	sel := SelectNextHop(s, candidates, "o", 80)
	if sel.Result != ParentDirect || sel.Hostname != "o" {
		t.Fatalf("got %+v, want direct to client-requested host", sel)
	}
}

func TestSelectNextHopLoopbackAlwaysDirect(t *testing.T) {
	candidates := []ParentCandidate{{Host: "p1", Port: 8080}}
	s := newNextHopState(candidates)

	sel := SelectNextHop(s, candidates, "localhost", 80)
	if sel.Result != ParentDirect {
		t.Fatalf("Result = %v, want ParentDirect for loopback host", sel.Result)
	}
}

func TestSelectNextHopSkipsOriginMarkedCandidates(t *testing.T) {
	candidates := []ParentCandidate{
		{Host: "origin", Port: 80, IsOrigin: true},
		{Host: "p1", Port: 8080},
	}
	s := newNextHopState(candidates)

	sel := SelectNextHop(s, candidates, "o", 80)
	if sel.Result != ParentSpecified || sel.Hostname != "p1" {
		t.Fatalf("got %+v, want the first non-origin candidate p1", sel)
	}
	if s.Current.ParentCandidateIndex != 2 {
		t.Fatalf("ParentCandidateIndex = %d, want 2 (cursor past the chosen candidate)", s.Current.ParentCandidateIndex)
	}
}

func TestNextParentAdvancesThroughCandidates(t *testing.T) {
	candidates := []ParentCandidate{{Host: "p1", Port: 1}, {Host: "p2", Port: 2}}
	s := newNextHopState(candidates)
	SelectNextHop(s, candidates, "o", 80)

	sel := NextParent(s)
	if sel.Result != ParentSpecified || sel.Hostname != "p2" {
		t.Fatalf("got %+v, want failover to p2", sel)
	}
	if !sel.Retry {
		t.Error("NextParent's ParentSpecified result should mark Retry")
	}
}

func TestNextParentFallsBackToDirectWhenGoDirectPermits(t *testing.T) {
	candidates := []ParentCandidate{{Host: "p1", Port: 1}}
	s := newNextHopState(candidates)
	s.Overridable.GoDirect = true
	SelectNextHop(s, candidates, "o", 80)

	sel := NextParent(s) // p1 already consumed by SelectNextHop
	if sel.Result != ParentDirect {
		t.Fatalf("Result = %v, want ParentDirect once candidates are exhausted and go_direct=true", sel.Result)
	}
}

func TestNextParentFailsWhenGoDirectForbidden(t *testing.T) {
	candidates := []ParentCandidate{{Host: "p1", Port: 1}}
	s := newNextHopState(candidates)
	s.Overridable.GoDirect = false
	SelectNextHop(s, candidates, "o", 80)

	sel := NextParent(s)
	if sel.Result != ParentFail {
		t.Fatalf("Result = %v, want ParentFail with go_direct=false and no candidates left", sel.Result)
	}
}

func TestResponseIsRetryable(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name    string
		status  int
		connErr error
		want    RetryKind
	}{
		{name: "connection error is simple-retryable", status: 0, connErr: errors.New("refused"), want: RetrySimple},
		{name: "503 is unavailable-server-retryable", status: 503, want: RetryUnavailableServer},
		{name: "502 is unavailable-server-retryable", status: 502, want: RetryUnavailableServer},
		{name: "zero status with no error is simple-retryable", status: 0, want: RetrySimple},
		{name: "200 is not retryable", status: 200, want: RetryNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResponseIsRetryable(cfg, tt.status, tt.connErr); got != tt.want {
				t.Errorf("ResponseIsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldRetryRespectsBudget(t *testing.T) {
	s := newTestState("GET", "http://o/a")
	s.Overridable.MaxUnavailableServerRetries = 1

	if !ShouldRetry(s, 503, nil) {
		t.Fatal("expected first 503 to be retryable")
	}
	if ShouldRetry(s, 503, nil) {
		t.Fatal("expected budget to be exhausted after MaxUnavailableServerRetries attempts")
	}
	if s.Current.UnavailableServerRetryAttempts != 1 {
		t.Errorf("UnavailableServerRetryAttempts = %d, want 1 (exhausted attempt must not double-count)", s.Current.UnavailableServerRetryAttempts)
	}
}

func TestIsConnectPortAllowed(t *testing.T) {
	cfg := DefaultConfig()
	if !IsConnectPortAllowed(cfg, 443) {
		t.Error("443 should be allowed by the default connect_ports ACL")
	}
	if IsConnectPortAllowed(cfg, 22) {
		t.Error("22 should not be allowed by the default connect_ports ACL")
	}

	cfg.ConnectPorts = nil
	if !IsConnectPortAllowed(cfg, 22) {
		t.Error("an empty connect_ports ACL should allow everything")
	}
}

func TestRequestHostPortDefaultsByScheme(t *testing.T) {
	s := newTestState("GET", "https://o/a")
	s.Request.Host = "o"
	s.Request.Scheme = "https"
	if host, port := requestHostPort(s); host != "o" || port != 443 {
		t.Errorf("got %s:%d, want o:443", host, port)
	}

	s.Request.Host = "o:9090"
	if host, port := requestHostPort(s); host != "o" || port != 9090 {
		t.Errorf("got %s:%d, want o:9090 (explicit port should win)", host, port)
	}
}
