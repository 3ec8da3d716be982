package transact

import "strings"

// ViaString is the fixed-position status trace embedded in the outgoing
// Via: header (spec §6, glossary "Via string"). Each index is a stable
// compatibility surface and must be preserved bit-exactly; callers address
// positions by the named constants below, never by literal index.
type ViaString [viaLen]byte

const viaLen = 8

const (
	ViaCacheResult = iota
	ViaProxyResult
	ViaPPConnect
	ViaServerConnect
	ViaErrorClass
	ViaCacheType
	ViaDetail
	ViaRouting
)

// Via-position byte values named by the spec's glossary.
const (
	ViaInCacheFresh        = 'H'
	ViaCacheMiss           = 'M'
	ViaInCacheStale        = 'S'
	ViaInRAMCacheFresh     = 'R'
	ViaInCacheRWWHit       = 'W'
	ViaInCacheNotAcceptable = 'U'

	ViaPPConnectFailed  = 'F'
	ViaPPConnectSuccess = 'S'

	ViaServerConnectSuccess = 'S'
	ViaServerConnectFailed  = 'F'

	ViaProxyResultServedStale = 'S'
	ViaProxyResultDirectOK    = 'D'
	ViaProxyResultError       = 'E'

	viaUnset = '-'
)

// NewViaString returns a Via string with every position set to the unset
// marker, matching the reference's "all dashes until decided" convention.
func NewViaString() ViaString {
	var v ViaString
	for i := range v {
		v[i] = viaUnset
	}
	return v
}

// Set writes a single byte at a named position. It never resizes or shifts
// other positions: the whole point of ViaString is that position N always
// means the same thing.
func (v *ViaString) Set(pos int, b byte) {
	if pos < 0 || pos >= viaLen {
		return
	}
	v[pos] = b
}

func (v ViaString) String() string {
	return string(v[:])
}

// ParseViaChain splits an incoming client Via: header into per-hop tokens,
// used only for self-loop detection (§4.D) — it is unrelated to the
// fixed-position compatibility string above, which describes this
// transaction's own outcome, not hops already traversed upstream of us.
func ParseViaChain(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	hops := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			hops = append(hops, p)
		}
	}
	return hops
}

// CountUUIDOccurrences counts how many hop tokens in chain contain uuid as
// a substring — the reference embeds the proxy uuid inside a comment-form
// Via token, so substring match (not equality) is the correct test.
func CountUUIDOccurrences(chain []string, uuid string) int {
	if uuid == "" {
		return 0
	}
	n := 0
	for _, hop := range chain {
		if strings.Contains(hop, uuid) {
			n++
		}
	}
	return n
}
