package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/allowlist"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv/kvtest"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/news"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/popularity"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/sources"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/tracker"
)

var testSources = sources.Static{
	{ID: "prtimes", Name: "PR TIMES", Type: "press", URL: "https://prtimes.jp/index.rdf", Hostname: "prtimes.jp"},
	{ID: "fsa", Name: "金融庁", Type: "regulator", URL: "https://www.fsa.go.jp/rss.xml", Hostname: "www.fsa.go.jp"},
}

type stubFetcher map[string][]news.Entry

func (s stubFetcher) Fetch(ctx context.Context, src model.NewsSource) ([]news.Entry, error) {
	return s[src.ID], nil
}

func newTestServer(t *testing.T, backend kv.Backend) *Server {
	t.Helper()
	store := kv.NewStore(backend)
	reader, err := popularity.New(store)
	if err != nil {
		t.Fatal(err)
	}
	policy := allowlist.Policy{
		Block: allowlist.NewBlocklist(allowlist.DefaultBlockedDomains...),
		Allow: allowlist.FromLoader(testSources),
	}
	published := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	agg := news.NewAggregator(testSources, policy, news.WithFetcher(stubFetcher{
		"prtimes": {
			{Title: "新サービス開始", Link: "https://prtimes.jp/main/html/rd/p/1.html", Published: &published},
			{Title: "second", Link: "https://prtimes.jp/main/html/rd/p/2.html"},
		},
		"fsa": {{Title: "金融庁からのお知らせ", Link: "https://www.fsa.go.jp/news/1.html", Published: &published}},
	}))
	return New(Deps{
		Store:      store,
		Tracker:    tracker.New(store),
		Popularity: reader,
		News:       agg,
		Sources:    testSources,
		Policy:     policy,
	})
}

func do(t *testing.T, s *Server, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestTrackDedupe(t *testing.T) {
	s := newTestServer(t, kv.NewMemoryBackend())
	ip := map[string]string{"X-Forwarded-For": "1.2.3.4"}

	first := do(t, s, http.MethodPost, "/api/track", `{"path":"/blog/x"}`, ip)
	if first.Code != http.StatusOK || strings.TrimSpace(first.Body.String()) != `{"ok":true}` {
		t.Fatalf("first = %d %s", first.Code, first.Body.String())
	}
	second := do(t, s, http.MethodPost, "/api/track", `{"path":"/blog/x"}`, ip)
	var resp map[string]interface{}
	decode(t, second, &resp)
	if resp["ok"] != true || resp["dedupe"] != true {
		t.Errorf("second = %v, want dedupe", resp)
	}

	paths := do(t, s, http.MethodGet, "/api/popular/paths", "", nil)
	var ranking model.PathRanking
	decode(t, paths, &ranking)
	if len(ranking.Items) != 1 || ranking.Items[0] != (model.PathScore{Path: "/blog/x", Score: 1}) {
		t.Errorf("paths = %+v", ranking)
	}
}

func TestTrackBadInput(t *testing.T) {
	s := newTestServer(t, kv.NewMemoryBackend())
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"malformed json", `{"path":`, "invalid json"},
		{"missing path", `{}`, "invalid path"},
		{"relative path", `{"path":"blog/x"}`, "invalid path"},
		{"absolute url", `{"path":"https://evil.com/"}`, "invalid path"},
		{"long title", `{"path":"/a","title":"` + strings.Repeat("x", 301) + `"}`, "invalid title"},
		{"long type", `{"path":"/a","type":"` + strings.Repeat("x", 65) + `"}`, "invalid type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/track", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			var resp map[string]interface{}
			decode(t, w, &resp)
			if resp["ok"] != false || resp["error"] != tt.wantErr {
				t.Errorf("body = %v, want error %q", resp, tt.wantErr)
			}
		})
	}
}

func TestBackendDownNeverErrors(t *testing.T) {
	s := newTestServer(t, &kvtest.FailingBackend{})

	track := do(t, s, http.MethodPost, "/api/track", `{"path":"/a"}`, nil)
	if track.Code != http.StatusOK {
		t.Errorf("track status = %d", track.Code)
	}

	pop := do(t, s, http.MethodGet, "/api/popular?kind=all&window=week&limit=3", "", nil)
	if pop.Code != http.StatusOK {
		t.Fatalf("popular status = %d", pop.Code)
	}
	var ranking model.Ranking
	decode(t, pop, &ranking)
	if !ranking.Fallback || len(ranking.Items) != 3 {
		t.Errorf("popular = %+v", ranking)
	}
	if got := pop.Header().Get("Cache-Control"); got != cacheControlDegraded {
		t.Errorf("Cache-Control = %q", got)
	}

	health := do(t, s, http.MethodGet, "/healthz", "", nil)
	var h map[string]interface{}
	decode(t, health, &h)
	if health.Code != http.StatusOK || h["status"] != "degraded" || h["kvReachable"] != false {
		t.Errorf("health = %d %v", health.Code, h)
	}
}

func TestNewsEndpoint(t *testing.T) {
	s := newTestServer(t, kv.NewMemoryBackend())

	w := do(t, s, http.MethodGet, "/api/news?limit=2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != cacheControlFresh {
		t.Errorf("Cache-Control = %q", got)
	}
	var page model.NewsPage
	decode(t, w, &page)
	if page.Total != 3 || len(page.Items) != 2 || page.NextOffset == nil || *page.NextOffset != 2 {
		t.Errorf("page = %+v", page)
	}

	var filtered model.NewsPage
	decode(t, do(t, s, http.MethodGet, "/api/news?sources=fsa", "", nil), &filtered)
	if filtered.Total != 1 || filtered.Items[0].Source != "金融庁" {
		t.Errorf("filtered = %+v", filtered)
	}

	var raw map[string]interface{}
	decode(t, do(t, s, http.MethodGet, "/api/news?offset=10&limit=abc", "", nil), &raw)
	if _, ok := raw["nextOffset"]; !ok || raw["nextOffset"] != nil {
		t.Errorf("nextOffset = %v, want explicit null", raw["nextOffset"])
	}
	if items, ok := raw["items"].([]interface{}); !ok || len(items) != 0 {
		t.Errorf("items = %v, want empty array", raw["items"])
	}
}

func TestNewsAtomAndOPML(t *testing.T) {
	s := newTestServer(t, kv.NewMemoryBackend())

	atom := do(t, s, http.MethodGet, "/api/news/feed.atom", "", nil)
	if atom.Code != http.StatusOK || !strings.Contains(atom.Header().Get("Content-Type"), "atom") {
		t.Fatalf("atom = %d %s", atom.Code, atom.Header().Get("Content-Type"))
	}
	if !strings.Contains(atom.Body.String(), "新サービス開始") {
		t.Error("atom feed missing item")
	}

	opmlResp := do(t, s, http.MethodGet, "/api/news/sources.opml", "", nil)
	body := opmlResp.Body.String()
	if opmlResp.Code != http.StatusOK || !strings.Contains(body, "https://prtimes.jp/index.rdf") || !strings.Contains(body, "regulator") {
		t.Errorf("opml = %d %s", opmlResp.Code, body)
	}
}

func TestAllowlistCheck(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		url  string
		want bool
	}{
		{"https://prtimes.jp/main/html/rd/p/1.html", true},
		{"https://PRTIMES.JP/x", true},
		{"https://prtimes.jp.evil.com/fake", false},
		{"https://jp.reuters.com/x", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/allowlist/check", nil)
			q := req.URL.Query()
			q.Set("url", tt.url)
			req.URL.RawQuery = q.Encode()
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)

			var resp struct {
				URL     string `json:"url"`
				Allowed bool   `json:"allowed"`
			}
			decode(t, w, &resp)
			if resp.Allowed != tt.want || resp.URL != tt.url {
				t.Errorf("check(%q) = %+v, want allowed=%v", tt.url, resp, tt.want)
			}
		})
	}
}

func TestHealthNotConfigured(t *testing.T) {
	s := newTestServer(t, nil)
	var h map[string]interface{}
	decode(t, do(t, s, http.MethodGet, "/healthz", "", nil), &h)
	if h["kv"] != "none" || h["news"] != "idle" {
		t.Errorf("health = %v", h)
	}
}
