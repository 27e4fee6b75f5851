package tracker

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/allowlist"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv/kvtest"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

func newTestTracker(t *testing.T) (*Tracker, *kv.Store, *time.Time) {
	t.Helper()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	mem := kv.NewMemoryBackend()
	mem.SetClock(func() time.Time { return now })
	store := kv.NewStore(mem)
	tr := New(store,
		WithClock(func() time.Time { return now }),
		WithSiteHosts(allowlist.New("marlowgate.com")),
	)
	return tr, store, &now
}

func score(t *testing.T, s *kv.Store, key, member string) float64 {
	t.Helper()
	for _, m := range s.SortedSetReverseRange(context.Background(), key, 0, -1, true) {
		if m.Member == member {
			return m.Score
		}
	}
	return 0
}

func TestRecordViewDedupe(t *testing.T) {
	ctx := context.Background()
	tr, store, now := newTestTracker(t)

	first, err := tr.RecordView(ctx, model.ViewEvent{Path: "/a", ClientID: "ip1"})
	if err != nil || !first.Counted {
		t.Fatalf("first RecordView() = %+v, %v", first, err)
	}
	second, err := tr.RecordView(ctx, model.ViewEvent{Path: "/a", ClientID: "ip1"})
	if err != nil || second.Counted {
		t.Fatalf("second RecordView() = %+v, %v; want not counted", second, err)
	}
	if got := score(t, store, KeyAllTime, "/a"); got != 1 {
		t.Errorf("all-time score = %v, want 1", got)
	}

	other, _ := tr.RecordView(ctx, model.ViewEvent{Path: "/a", ClientID: "ip2"})
	if !other.Counted {
		t.Error("different client was deduplicated")
	}
	if got := score(t, store, KeyAllTime, "/a"); got != 2 {
		t.Errorf("all-time score = %v, want 2", got)
	}

	*now = now.Add(61 * time.Minute)
	again, _ := tr.RecordView(ctx, model.ViewEvent{Path: "/a", ClientID: "ip1"})
	if !again.Counted {
		t.Error("view not counted after the dedupe window")
	}
	if got := score(t, store, KeyAllTime, "/a"); got != 3 {
		t.Errorf("all-time score = %v, want 3", got)
	}
}

func TestRecordViewWindowCounters(t *testing.T) {
	ctx := context.Background()
	tr, store, now := newTestTracker(t)

	if _, err := tr.RecordView(ctx, model.ViewEvent{Path: "/blog/x", ClientID: "1.2.3.4"}); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"popular:2026-10-16", "popular:w:2026-W42", "popular:m:2026-10"} {
		if got := score(t, store, key, "/blog/x"); got != 1 {
			t.Errorf("%s score = %v, want 1", key, got)
		}
	}

	*now = now.Add(15 * 24 * time.Hour)
	if got := score(t, store, "popular:2026-10-16", "/blog/x"); got != 0 {
		t.Error("day counter survived its ttl")
	}
	if got := score(t, store, "popular:m:2026-10", "/blog/x"); got != 1 {
		t.Error("month counter expired early")
	}
}

func TestRecordViewInvalidPath(t *testing.T) {
	b := &kvtest.FailingBackend{}
	tr := New(kv.NewStore(b))

	for _, path := range []string{"", "blog/x", "https://example.com/x"} {
		_, err := tr.RecordView(context.Background(), model.ViewEvent{Path: path, ClientID: "ip"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("RecordView(%q) error = %v, want ErrInvalidInput", path, err)
		}
	}
	if b.Calls.Load() != 0 {
		t.Errorf("backend touched %d times for invalid input", b.Calls.Load())
	}
}

func TestRecordViewBackendDown(t *testing.T) {
	tr := New(kv.NewStore(&kvtest.FailingBackend{}))
	res, err := tr.RecordView(context.Background(), model.ViewEvent{
		Path: "/a", ClientID: "ip", Title: "A", Type: "article",
	})
	if err != nil {
		t.Fatalf("RecordView() error = %v, want nil", err)
	}
	if !res.Counted {
		t.Error("Counted = false, want best-effort true")
	}
	// marker, all-time, day, week, month, metadata
	if len(res.Failed) != 6 {
		t.Errorf("Failed = %v, want 6 entries", res.Failed)
	}
}

func TestRecordViewNotConfigured(t *testing.T) {
	tr := New(kv.NewStore(nil))
	if _, err := tr.RecordView(context.Background(), model.ViewEvent{Path: "/a"}); err != nil {
		t.Errorf("RecordView() error = %v", err)
	}
}

func TestRecordViewMetadata(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		url     string
		wantURL string
	}{
		{"relative url kept", "/brokers/abc", "/brokers/abc"},
		{"site host kept", "https://marlowgate.com/brokers/abc", "https://marlowgate.com/brokers/abc"},
		{"foreign host replaced", "https://evil.com/x", "/brokers/abc"},
		{"protocol relative replaced", "//evil.com/x", "/brokers/abc"},
		{"empty uses path", "", "/brokers/abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, store, _ := newTestTracker(t)
			_, err := tr.RecordView(ctx, model.ViewEvent{
				Path: "/brokers/abc", ClientID: "ip", Type: "broker", Title: "ABC証券", URL: tt.url,
			})
			if err != nil {
				t.Fatal(err)
			}
			meta := store.HashGetAll(ctx, MetadataKey("/brokers/abc"))
			if meta["url"] != tt.wantURL {
				t.Errorf("url = %q, want %q", meta["url"], tt.wantURL)
			}
			if meta["title"] != "ABC証券" || meta["type"] != "broker" {
				t.Errorf("metadata = %v", meta)
			}
		})
	}

	t.Run("no metadata no hash", func(t *testing.T) {
		tr, store, _ := newTestTracker(t)
		tr.RecordView(ctx, model.ViewEvent{Path: "/x", ClientID: "ip"})
		if store.HashGetAll(ctx, MetadataKey("/x")) != nil {
			t.Error("metadata written without metadata")
		}
	})
}

func TestWindowKey(t *testing.T) {
	at := time.Date(2027, 1, 1, 12, 0, 0, 0, time.UTC) // ISO week 53 of 2026
	tests := []struct {
		window   string
		expected string
	}{
		{model.WindowDay, "popular:2027-01-01"},
		{model.WindowWeek, "popular:w:2026-W53"},
		{model.WindowMonth, "popular:m:2027-01"},
		{model.WindowAll, "popular:all"},
		{"bogus", "popular:all"},
	}
	for _, tt := range tests {
		t.Run(tt.window, func(t *testing.T) {
			if got := WindowKey(tt.window, at); got != tt.expected {
				t.Errorf("WindowKey(%q) = %q, want %q", tt.window, got, tt.expected)
			}
		})
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": " 5.6.7.8 "}, "5.6.7.8"},
		{"forwarded wins", map[string]string{"X-Forwarded-For": "1.1.1.1", "X-Real-IP": "2.2.2.2"}, "1.1.1.1"},
		{"empty forwarded entry", map[string]string{"X-Forwarded-For": " , 3.3.3.3"}, "unknown"},
		{"none", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := ClientID(h); got != tt.expected {
				t.Errorf("ClientID() = %q, want %q", got, tt.expected)
			}
		})
	}
}
