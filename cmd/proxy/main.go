// Command proxy is a minimal runnable wiring of the transaction core: it
// listens for HTTP requests, drives each one through a sm.Runtime backed
// by an in-memory cache and the stdlib-resolver DNS/HostDB collaborators,
// and writes back whatever the core decided (spec §5 "Transaction
// Director", §6).
//
// It is a demonstration harness, not a production entry point: the
// collaborators it wires (collab.ParentSelector,
// collab.MachineIdentity) use the simplest implementation that satisfies
// the interface, the way the teacher's own cmd-less library leaves
// wiring to its callers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jasmine-nahrain/trafficserver/cachestore"
	"github.com/jasmine-nahrain/trafficserver/collab"
	"github.com/jasmine-nahrain/trafficserver/dnsresolver"
	"github.com/jasmine-nahrain/trafficserver/metrics"
	"github.com/jasmine-nahrain/trafficserver/metrics/prometheus"
	"github.com/jasmine-nahrain/trafficserver/sm"
	"github.com/jasmine-nahrain/trafficserver/transact"
)

// directParents is a collab.ParentSelector with no configured parents:
// every request goes direct to origin, which is what SelectNextHop does
// with an empty candidate slice (spec §4.D).
type directParents struct{}

func (directParents) Candidates(ctx context.Context, s *transact.State) ([]transact.ParentCandidate, error) {
	return nil, nil
}

// staticIdentity is a collab.MachineIdentity backed by flags resolved at
// startup, standing in for a real host-discovery collaborator.
type staticIdentity struct {
	uuid       string
	localAddrs []string
	listenPort int
}

func (s staticIdentity) UUID() string         { return s.uuid }
func (s staticIdentity) LocalAddrs() []string { return s.localAddrs }
func (s staticIdentity) ListenPort() int      { return s.listenPort }

func localAddrs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok {
			out = append(out, ipNet.IP.String())
		}
	}
	return out
}

func main() {
	addr := flag.String("listen", ":8080", "address to listen on")
	metricsAddr := flag.String("metrics-listen", ":9090", "address to serve /metrics on")
	dnsTTL := flag.Duration("dns-ttl", time.Minute, "positive DNS answer cache TTL")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cachestore.SetLogger(logger)

	identity := staticIdentity{
		uuid:       uuid.NewString(),
		localAddrs: localAddrs(),
		listenPort: listenPort(*addr),
	}

	cfg := transact.NewConfig(
		transact.WithMachineIdentity(identity.uuid, identity.localAddrs, identity.listenPort),
	)

	collector := prometheus.NewCollector()
	go serveMetrics(*metricsAddr, logger)

	runtime := sm.NewRuntime(
		sm.WithDNS(dnsresolver.New(*dnsTTL)),
		sm.WithHostDB(dnsresolver.NewHostDB()),
		sm.WithParentSelector(directParents{}),
		sm.WithCacheSubsystem(cachestore.NewSubsystem(cachestore.NewMemoryCache())),
		sm.WithMachineIdentity(identity),
		sm.WithMetrics(collector),
	)

	var nextID int64

	handler := func(w http.ResponseWriter, r *http.Request) {
		nextID++
		s := transact.NewState(nextID, cfg, time.Now())
		s.Request = transact.RequestMeta{
			Method:      r.Method,
			URL:         r.URL.String(),
			Scheme:      r.URL.Scheme,
			Host:        r.Host,
			HTTPVersion: r.Proto,
		}
		s.Headers.ClientRequest = r.Header.Clone()

		if err := runtime.Run(r.Context(), s); err != nil {
			logger.Error("transaction failed", "error", err, "id", nextID)
			http.Error(w, "internal error", http.StatusBadGateway)
			return
		}
		writeResponse(w, s)
	}

	server := &http.Server{
		Addr:    *addr,
		Handler: http.HandlerFunc(handler),
	}
	logger.Info("listening", "addr", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// writeResponse translates the decided transact.State back into an HTTP
// response. The status code travels as the synthetic X-Status-Code header
// the core sets (see transact.BuildClientResponse and the Director's
// error path, which stamps the status BuildErrorResponse returns); it is
// stripped before forwarding the rest.
func writeResponse(w http.ResponseWriter, s *transact.State) {
	header := s.Headers.ClientResponse
	if header == nil {
		http.Error(w, "no response decided", http.StatusBadGateway)
		return
	}
	status := http.StatusOK
	if v := header.Get("X-Status-Code"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			status = n
		}
		header.Del("X-Status-Code")
	}
	for k, vs := range header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(status)
}

func listenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server exited", "error", err)
	}
}

var _ metrics.Collector = (*prometheus.Collector)(nil)
var _ collab.ParentSelector = directParents{}
var _ collab.MachineIdentity = staticIdentity{}
