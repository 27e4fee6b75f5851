// Package allowlist decides which outbound and user-supplied URLs may be trusted.
//
// Hostnames are compared exactly. Suffix or substring matching would accept
// hosts such as prtimes.jp.evil.com for an allowlisted prtimes.jp.
package allowlist

import (
	"log"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

// Loader supplies the configured sources the allowlist is built from.
type Loader interface {
	Load() ([]model.NewsSource, error)
}

// Validator is an exact-match hostname allowlist. The zero value rejects everything.
type Validator struct {
	hosts map[string]struct{}
}

// New builds a Validator from hostnames. Blank entries are ignored.
func New(hostnames ...string) *Validator {
	v := &Validator{hosts: make(map[string]struct{}, len(hostnames))}
	for _, h := range hostnames {
		if n, ok := normalizeHost(h); ok {
			v.hosts[n] = struct{}{}
		}
	}
	return v
}

// FromLoader builds a Validator from every configured source hostname.
// A load failure yields an empty allowlist.
func FromLoader(l Loader) *Validator {
	if l == nil {
		return New()
	}
	srcs, err := l.Load()
	if err != nil {
		log.Printf("allowlist: load sources: %v (rejecting all hosts)", err)
		return New()
	}
	hosts := make([]string, 0, len(srcs))
	for _, s := range srcs {
		hosts = append(hosts, s.Hostname)
	}
	return New(hosts...)
}

// Hosts returns the number of allowlisted hostnames.
func (v *Validator) Hosts() int {
	if v == nil {
		return 0
	}
	return len(v.hosts)
}

// IsAllowed reports whether raw is an http(s) URL whose hostname exactly equals
// an allowlisted hostname (case-insensitive). Anything unparseable is rejected.
func (v *Validator) IsAllowed(raw string) bool {
	if v == nil || len(v.hosts) == 0 {
		return false
	}
	host, ok := hostOf(raw)
	if !ok {
		return false
	}
	_, ok = v.hosts[host]
	return ok
}

// AllowsHost reports whether a bare hostname is allowlisted.
func (v *Validator) AllowsHost(host string) bool {
	if v == nil {
		return false
	}
	n, ok := normalizeHost(host)
	if !ok {
		return false
	}
	_, ok = v.hosts[n]
	return ok
}

// Hostname returns the normalized hostname of an http(s) URL, the same form
// the allowlist compares against.
func Hostname(raw string) (string, bool) {
	return hostOf(raw)
}

// hostOf parses raw and returns its normalized hostname.
func hostOf(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	if u.User != nil {
		// user@host forms are a classic spoofing vector.
		return "", false
	}
	return normalizeHost(u.Hostname())
}

// normalizeHost lowercases, trims and converts a hostname to its ASCII form.
func normalizeHost(host string) (string, bool) {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return "", false
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil || ascii == "" {
		return "", false
	}
	return ascii, true
}
