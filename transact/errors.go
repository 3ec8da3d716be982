package transact

import "net/http"

// ErrorClass enumerates the error categories the Director can hit (spec
// §4.E, §7). Each maps to a fixed status/keep-alive disposition so that
// handle_response_from_{server,parent} and the DNS/connect suspension
// points can all funnel into one responder.
type ErrorClass int

const (
	ErrorNone ErrorClass = iota
	ErrorConnectFailed
	ErrorDNSFailed
	ErrorParseError
	ErrorBadIncomingResponse
	ErrorInactiveTimeout
	ErrorActiveTimeout
	ErrorForbiddenPort
	ErrorCacheReadError
	ErrorTooManyRedirects
	ErrorSelfLoop
	ErrorRangeNotSatisfiable
	ErrorClientAbort
	ErrorOutboundCongestion
)

// ErrorKind is the realized error value attached to a transaction once an
// error path is taken; it carries enough context for the Error Responder
// to synthesize a response without re-deriving anything from Current.
type ErrorKind struct {
	Class   ErrorClass
	Detail  string
	Wrapped error
}

func (e *ErrorKind) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail != "" {
		return e.Detail
	}
	return errorClassNames[e.Class]
}

var errorClassNames = map[ErrorClass]string{
	ErrorNone:                "none",
	ErrorConnectFailed:       "connect failed",
	ErrorDNSFailed:           "dns lookup failed",
	ErrorParseError:          "malformed response",
	ErrorBadIncomingResponse: "bad incoming response",
	ErrorInactiveTimeout:     "inactivity timeout",
	ErrorActiveTimeout:       "active timeout",
	ErrorForbiddenPort:       "connect port forbidden",
	ErrorCacheReadError:      "cache read error",
	ErrorTooManyRedirects:    "too many redirects",
	ErrorSelfLoop:            "request loop detected",
	ErrorRangeNotSatisfiable: "range not satisfiable",
	ErrorClientAbort:         "client aborted",
	ErrorOutboundCongestion:  "outbound congestion",
}

// errorDisposition is the (status, reason phrase, keep_alive) triple an
// ErrorClass maps to (spec §4.E).
type errorDisposition struct {
	Status    int
	Reason    string
	KeepAlive bool
}

var errorDispositions = map[ErrorClass]errorDisposition{
	ErrorConnectFailed:       {Status: http.StatusBadGateway, Reason: "Connection Failed", KeepAlive: true},
	ErrorDNSFailed:           {Status: http.StatusBadGateway, Reason: "DNS Lookup Failed", KeepAlive: true},
	ErrorParseError:          {Status: http.StatusBadGateway, Reason: "Malformed Server Response", KeepAlive: false},
	ErrorBadIncomingResponse: {Status: http.StatusBadGateway, Reason: "Invalid Server Response", KeepAlive: false},
	ErrorInactiveTimeout:     {Status: http.StatusGatewayTimeout, Reason: "Connection Timed Out", KeepAlive: false},
	ErrorActiveTimeout:       {Status: http.StatusGatewayTimeout, Reason: "Connection Timed Out", KeepAlive: false},
	ErrorForbiddenPort:       {Status: http.StatusForbidden, Reason: "Tunnel Port Forbidden", KeepAlive: true},
	ErrorCacheReadError:      {Status: http.StatusInternalServerError, Reason: "Cache Read Error", KeepAlive: true},
	ErrorTooManyRedirects:    {Status: http.StatusBadGateway, Reason: "Too Many Redirects", KeepAlive: true},
	ErrorSelfLoop:            {Status: http.StatusBadRequest, Reason: "Multi-Hop Cycle Detected", KeepAlive: false},
	ErrorRangeNotSatisfiable: {Status: http.StatusRequestedRangeNotSatisfiable, Reason: "Range Not Satisfiable", KeepAlive: true},
	ErrorClientAbort:         {Status: 0, Reason: "Client Aborted", KeepAlive: false},
	ErrorOutboundCongestion:  {Status: http.StatusServiceUnavailable, Reason: "Outbound Congestion", KeepAlive: true},
}

// BuildErrorResponse implements spec §4.E: it derives the outgoing status
// and headers for a transaction that has taken an error path, and always
// marks the response as non-cacheable (no-store, no Last-Modified/ETag
// carried forward) regardless of what a cached object might have held.
func BuildErrorResponse(s *State, kind *ErrorKind) (status int, header http.Header) {
	disp, ok := errorDispositions[kind.Class]
	if !ok {
		disp = errorDisposition{Status: http.StatusInternalServerError, Reason: "Internal Error", KeepAlive: false}
	}

	h := make(http.Header)
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	if disp.KeepAlive {
		h.Set("Connection", "keep-alive")
	} else {
		h.Set("Connection", "close")
	}

	s.Error = kind
	s.Current.State = errorClassToConnState(kind.Class)
	return disp.Status, h
}

func errorClassToConnState(c ErrorClass) ConnState {
	switch c {
	case ErrorConnectFailed:
		return StateOpenRawError
	case ErrorParseError:
		return StateParseError
	case ErrorBadIncomingResponse:
		return StateBadIncomingResponse
	case ErrorInactiveTimeout:
		return StateInactiveTimeout
	case ErrorActiveTimeout:
		return StateActiveTimeout
	case ErrorOutboundCongestion:
		return StateOutboundCongestion
	default:
		return StateError
	}
}

// NewErrorKind is a small constructor used by the Director and by
// collaborators reporting a failure back into the core.
func NewErrorKind(class ErrorClass, detail string, wrapped error) *ErrorKind {
	return &ErrorKind{Class: class, Detail: detail, Wrapped: wrapped}
}
