package allowlist

import (
	"errors"
	"testing"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

type stubLoader struct {
	sources []model.NewsSource
	err     error
}

func (s stubLoader) Load() ([]model.NewsSource, error) { return s.sources, s.err }

func TestIsAllowed(t *testing.T) {
	v := New("prtimes.jp", "www.fsa.go.jp", "FX.Example.COM")

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"exact host", "https://prtimes.jp/main/html/rd/p/1.html", true},
		{"upper-case host", "https://PRTIMES.JP/main", true},
		{"configured with upper case", "https://fx.example.com/a", true},
		{"plain http", "http://www.fsa.go.jp/news/", true},
		{"explicit port", "https://prtimes.jp:443/x", true},
		{"surrounding spaces", "  https://prtimes.jp/x  ", true},
		{"suffix spoof", "https://prtimes.jp.evil.com/fake", false},
		{"prefix spoof", "https://fakeprtimes.jp/", false},
		{"embedded spoof", "https://evil.prtimes.jp.com/", false},
		{"subdomain is not exact", "https://sub.prtimes.jp/", false},
		{"parent of allowlisted", "https://fsa.go.jp/", false},
		{"userinfo spoof", "https://prtimes.jp@evil.com/", false},
		{"userinfo on allowed host", "https://evil.com@prtimes.jp/", false},
		{"empty", "", false},
		{"not a url", "not a url", false},
		{"relative path", "/main/html", false},
		{"ftp scheme", "ftp://prtimes.jp/file", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"data scheme", "data:text/html,prtimes.jp", false},
		{"bad escape", "https://prtimes.jp/%zz", false},
		{"missing host", "https:///path", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.IsAllowed(tt.input); got != tt.expected {
				t.Errorf("IsAllowed(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestZeroValidatorRejects(t *testing.T) {
	var v *Validator
	if v.IsAllowed("https://prtimes.jp/") {
		t.Error("nil validator allowed a url")
	}
	if New().IsAllowed("https://prtimes.jp/") {
		t.Error("empty validator allowed a url")
	}
}

func TestFromLoader(t *testing.T) {
	t.Run("builds from source hostnames", func(t *testing.T) {
		v := FromLoader(stubLoader{sources: []model.NewsSource{
			{ID: "prtimes", Hostname: "prtimes.jp"},
			{ID: "fsa", Hostname: " www.fsa.go.jp "},
		}})
		if v.Hosts() != 2 {
			t.Fatalf("Hosts() = %d, want 2", v.Hosts())
		}
		if !v.IsAllowed("https://www.fsa.go.jp/news") {
			t.Error("configured host rejected")
		}
	})

	t.Run("load failure fails closed", func(t *testing.T) {
		v := FromLoader(stubLoader{err: errors.New("boom")})
		if v.IsAllowed("https://prtimes.jp/") {
			t.Error("allowlist not empty after load failure")
		}
	})

	t.Run("nil loader fails closed", func(t *testing.T) {
		if FromLoader(nil).Hosts() != 0 {
			t.Error("nil loader produced hosts")
		}
	})
}

func TestBlocklist(t *testing.T) {
	b := NewBlocklist(DefaultBlockedDomains...)

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"exact", "https://reuters.com/x", true},
		{"subdomain", "https://jp.reuters.com/markets", true},
		{"regional domain", "https://www.nikkei.com/article/1", true},
		{"unrelated", "https://prtimes.jp/main", false},
		{"unparseable", "::::", true},
		{"non-http", "mailto:news@prtimes.jp", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.IsBlocked(tt.input); got != tt.expected {
				t.Errorf("IsBlocked(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	p := Policy{
		Block: NewBlocklist("reuters.com"),
		Allow: New("prtimes.jp", "jp.reuters.com"),
	}
	if !p.Permit("https://prtimes.jp/a") {
		t.Error("allowlisted url rejected")
	}
	if p.Permit("https://jp.reuters.com/a") {
		t.Error("blocklist did not take precedence over allowlist")
	}
	if p.Permit("https://example.com/a") {
		t.Error("url outside allowlist permitted")
	}
}
