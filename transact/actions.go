package transact

// Action is the next_action sum type (spec §6): the code the Director
// hands back to the SM naming the single I/O operation to perform next.
type Action int

const (
	ActionNone Action = iota
	ActionAPIPreRemap
	ActionRemapRequest
	ActionAPIPostRemap
	ActionAPIReadRequestHdr
	ActionPostRemapSkip
	ActionCacheLookup
	ActionCacheIssueWrite
	ActionCacheIssueWriteTransform
	ActionCacheIssueUpdate
	ActionCachePrepareUpdate
	ActionAPICacheLookupComplete
	ActionDNSLookup
	ActionDNSReverseLookup
	ActionAPIOSDNS
	ActionOriginServerOpen
	ActionOriginServerRawOpen
	ActionServerRead
	ActionServeFromCache
	ActionSendErrorCacheNoop
	ActionInternalCacheNoop
	ActionInternalCacheDelete
	ActionInternalCacheUpdateHeaders
	ActionInternalCacheWrite
	ActionInternal100Response
	ActionServerParseNextHdr
	ActionSSLTunnel
	ActionReadPushHdr
	ActionStorePushBody
	ActionTransformRead
	ActionWaitForFullBody
	ActionRequestBufferReadComplete
)

// HandlerID names a Director entry point (the "continuation pointer" of
// spec §4.F / §9 "Macros for return"). The zero value means terminal: the
// SM performs NextAction and does not re-enter the Director.
type HandlerID int

const (
	HandlerNone HandlerID = iota
	HandlerModifyRequest
	HandlerStartRemapRequest
	HandlerEndRemapRequest
	HandlerHandleRequest
	HandlerOSDNSLookup
	HandlerPPDNSLookup
	HandlerHandleCacheOpenRead
	HandlerHandleCacheOpenReadHitFreshness
	HandlerHandleCacheOpenReadHit
	HandlerHandleCacheOpenReadMiss
	HandlerHandleCacheWriteLock
	HandlerHandleResponse
	HandlerHandleResponseFromParent
	HandlerHandleResponseFromServer
	HandlerHandleForwardServerConnectionOpen
	HandlerHandleCacheOperationOnForwardServerResponse
	HandlerHandleNoCacheOperationOnForwardServerResponse
	HandlerHandlePushWriteHeaders
	HandlerHandlePushWriteBody
	HandlerHandleUpdateCachedObject
)

// Result is the two-write record a handler returns: the spec's
// TRANSACT_RETURN(action, continuation) macro re-expressed as a value.
type Result struct {
	NextAction  Action
	ReturnPoint HandlerID
}

// transactReturn is the small helper mirroring TRANSACT_RETURN: it writes
// both State.Current fields and returns the same Result, so handlers can
// both mutate State and produce their return value in one line.
func transactReturn(s *State, action Action, next HandlerID) Result {
	s.Current.NextAction = action
	s.Current.ReturnPoint = next
	return Result{NextAction: action, ReturnPoint: next}
}
