package transact

import (
	"net/http"
	"strings"
	"sync"
)

// WebSocketLimiter enforces max_websocket_connections (spec §4.C "Upgrade
// path", §8 scenario 5): a small in-memory counting semaphore shared
// across every transaction built from the same Config. It performs no
// I/O — acquiring and releasing a slot is pure bookkeeping, the same way
// the Next-Hop Selector's retry counters are pure bookkeeping — so it
// lives in transact rather than behind a collab interface.
type WebSocketLimiter struct {
	mu     sync.Mutex
	max    int
	active int
}

// NewWebSocketLimiter builds a limiter capped at max concurrent upgrades.
// max <= 0 means unlimited.
func NewWebSocketLimiter(max int) *WebSocketLimiter {
	return &WebSocketLimiter{max: max}
}

// TryAcquire reserves one slot, reporting false if the limiter is already
// at capacity. A nil receiver always succeeds (no limiter configured).
func (w *WebSocketLimiter) TryAcquire() bool {
	if w == nil {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.max > 0 && w.active >= w.max {
		return false
	}
	w.active++
	return true
}

// Release returns a slot acquired by TryAcquire. Called once the upgraded
// connection's lifetime ends, which is outside this core's scope (the raw
// tunnel itself is plain byte-shuttling, not a transaction decision).
func (w *WebSocketLimiter) Release() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active > 0 {
		w.active--
	}
}

// IsWebSocketUpgrade reports whether the client request is asking to
// upgrade to the WebSocket protocol (RFC 6455 §4.1): Connection names
// "Upgrade" and the Upgrade token is exactly "websocket", case-insensitive.
// An h2c Upgrade (RFC 7540 §3.2) never matches here — it is a distinct,
// unrelated protocol switch and the spec requires it be silently ignored,
// which falls out naturally from this check never firing for it.
func IsWebSocketUpgrade(h http.Header) bool {
	if h == nil {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(h.Get("Upgrade")), "websocket") {
		return false
	}
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "Upgrade") {
				return true
			}
		}
	}
	return false
}

// wsScheme maps a request scheme to its WebSocket equivalent for the
// remap-hook window (spec §4.C: "alter scheme to ws/wss before remap,
// restore after").
func wsScheme(scheme string) string {
	if scheme == "https" {
		return "wss"
	}
	return "ws"
}
