package allowlist

import "strings"

// DefaultBlockedDomains are wire services excluded from aggregation for licensing reasons.
var DefaultBlockedDomains = []string{
	"reuters.com",
	"bloomberg.com",
	"bloomberg.co.jp",
	"nikkei.com",
	"jiji.com",
	"kyodonews.jp",
	"kyodonews.net",
}

// Blocklist rejects hosts that contain any of its domains. Containment covers
// exact and suffix matches; over-blocking is preferred to letting one through.
type Blocklist struct {
	domains []string
}

// NewBlocklist builds a Blocklist. Blank entries are ignored.
func NewBlocklist(domains ...string) *Blocklist {
	b := &Blocklist{}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			b.domains = append(b.domains, d)
		}
	}
	return b
}

// IsBlocked reports whether raw must be rejected. Unparseable URLs are blocked.
func (b *Blocklist) IsBlocked(raw string) bool {
	host, ok := hostOf(raw)
	if !ok {
		return true
	}
	if b == nil {
		return false
	}
	for _, d := range b.domains {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}

// Policy combines the blocklist and the allowlist: a URL is permitted only when
// it is not blocked and is allowlisted.
type Policy struct {
	Block *Blocklist
	Allow *Validator
}

// Permit reports whether raw may be fetched or emitted.
func (p Policy) Permit(raw string) bool {
	if p.Block.IsBlocked(raw) {
		return false
	}
	return p.Allow.IsAllowed(raw)
}
