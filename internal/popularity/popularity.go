// Package popularity reads the ranked view counters written by the tracker.
package popularity

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/tracker"
)

//go:embed fallback.json
var fallbackData []byte

// Limits for a ranking read.
const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// MetadataCacheTTL bounds how long a metadata hash is served from memory.
const MetadataCacheTTL = 60 * time.Second

// fallbackScoreStep is the gap between synthesized fallback scores.
const fallbackScoreStep = 10

// Reader serves popularity rankings from the store, degrading to the bundled list.
type Reader struct {
	store    *kv.Store
	fallback []model.RankedItem
	meta     *cache.Cache
	loc      *time.Location
	now      func() time.Time
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock overrides the time source used to resolve window keys.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// WithLocation sets the time zone of the window buckets.
func WithLocation(loc *time.Location) Option {
	return func(r *Reader) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithFallback replaces the bundled fallback ranking. An empty list is ignored.
func WithFallback(items []model.RankedItem) Option {
	return func(r *Reader) {
		if len(items) > 0 {
			r.fallback = rankFallback(items)
		}
	}
}

// New creates a Reader over store.
func New(store *kv.Store, opts ...Option) (*Reader, error) {
	items, err := parseFallback(fallbackData)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		store:    store,
		fallback: items,
		meta:     cache.New(MetadataCacheTTL, 2*MetadataCacheTTL),
		loc:      time.UTC,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func parseFallback(data []byte) ([]model.RankedItem, error) {
	var items []model.RankedItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode fallback ranking: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("fallback ranking is empty")
	}
	return rankFallback(items), nil
}

// rankFallback assigns ranks and descending synthesized view counts.
func rankFallback(items []model.RankedItem) []model.RankedItem {
	out := make([]model.RankedItem, len(items))
	for i, it := range items {
		if it.Slug == "" {
			it.Slug = it.URL
		}
		if it.URL == "" {
			it.URL = it.Slug
		}
		it.Rank = i + 1
		it.Views = int64((len(items) - i) * fallbackScoreStep)
		out[i] = it
	}
	return out
}

// ClampLimit applies the default and bounds for a ranking limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// NormalizeWindow maps unknown windows to all-time.
func NormalizeWindow(window string) string {
	switch window {
	case model.WindowDay, model.WindowWeek, model.WindowMonth:
		return window
	default:
		return model.WindowAll
	}
}

// GetTop returns up to limit ranked items of kind for window. It never fails:
// an unavailable or empty store yields the fallback ranking.
func (r *Reader) GetTop(ctx context.Context, kind, window string, limit int) (ranking model.Ranking) {
	ctx, span := otel.Tracer("popularity").Start(ctx, "popularity.GetTop")
	defer span.End()

	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = model.KindAll
	}
	window = NormalizeWindow(window)
	limit = ClampLimit(limit)
	span.SetAttributes(
		attribute.String("popularity.kind", kind),
		attribute.String("popularity.window", window),
		attribute.Int("popularity.limit", limit),
	)

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("popularity: recovered from panic: %v", rec)
			ranking = r.fallbackRanking(kind, limit)
		}
		span.SetAttributes(attribute.Bool("popularity.fallback", ranking.Fallback))
	}()

	key := tracker.WindowKey(window, r.now().In(r.loc))
	members := r.store.SortedSetReverseRange(ctx, key, 0, int64(limit*2-1), true)

	items := make([]model.RankedItem, 0, limit)
	for _, m := range members {
		if len(items) >= limit {
			break
		}
		meta, ok := r.metadata(ctx, m.Member)
		if !ok {
			continue
		}
		if kind != model.KindAll && meta.Type != kind {
			continue
		}
		items = append(items, model.RankedItem{
			Slug:  m.Member,
			Type:  meta.Type,
			Title: meta.Title,
			URL:   meta.URL,
			Views: int64(m.Score),
			Rank:  len(items) + 1,
		})
	}

	if len(items) == 0 {
		return r.fallbackRanking(kind, limit)
	}
	return model.Ranking{Items: items}
}

// TopPaths returns the raw path/score ranking for window.
func (r *Reader) TopPaths(ctx context.Context, window string, limit int) model.PathRanking {
	ctx, span := otel.Tracer("popularity").Start(ctx, "popularity.TopPaths")
	defer span.End()

	limit = ClampLimit(limit)
	if !r.store.Configured() {
		out := r.fallbackPaths(limit)
		out.Error = kv.ErrBackendUnavailable.Error()
		return out
	}

	key := tracker.WindowKey(NormalizeWindow(window), r.now().In(r.loc))
	members := r.store.SortedSetReverseRange(ctx, key, 0, int64(limit-1), true)
	if len(members) == 0 {
		return r.fallbackPaths(limit)
	}
	items := make([]model.PathScore, 0, len(members))
	for _, m := range members {
		items = append(items, model.PathScore{Path: m.Member, Score: int64(m.Score)})
	}
	return model.PathRanking{Items: items}
}

// metadata returns the content metadata for slug, memoized for MetadataCacheTTL.
// Absent metadata is not memoized.
func (r *Reader) metadata(ctx context.Context, slug string) (model.ContentMeta, bool) {
	if v, ok := r.meta.Get(slug); ok {
		return v.(model.ContentMeta), true
	}
	fields := r.store.HashGetAll(ctx, tracker.MetadataKey(slug))
	if len(fields) == 0 {
		return model.ContentMeta{}, false
	}
	meta := model.ContentMeta{
		Type:       fields["type"],
		Title:      fields["title"],
		URL:        fields["url"],
		LastUpdate: fields["lastUpdate"],
	}
	if meta.URL == "" {
		meta.URL = slug
	}
	r.meta.SetDefault(slug, meta)
	return meta, true
}

// Forget drops memoized metadata.
func (r *Reader) Forget() {
	r.meta.Flush()
}

// fallbackRanking filters the bundled list by kind when that leaves something,
// so the result is never empty.
func (r *Reader) fallbackRanking(kind string, limit int) model.Ranking {
	src := r.fallback
	if kind != model.KindAll {
		var filtered []model.RankedItem
		for _, it := range r.fallback {
			if it.Type == kind {
				filtered = append(filtered, it)
			}
		}
		if len(filtered) > 0 {
			src = filtered
		}
	}
	if len(src) > limit {
		src = src[:limit]
	}
	items := make([]model.RankedItem, len(src))
	for i, it := range src {
		it.Rank = i + 1
		items[i] = it
	}
	return model.Ranking{Items: items, Fallback: true}
}

func (r *Reader) fallbackPaths(limit int) model.PathRanking {
	src := r.fallback
	if len(src) > limit {
		src = src[:limit]
	}
	items := make([]model.PathScore, len(src))
	for i, it := range src {
		items[i] = model.PathScore{Path: it.Slug, Score: it.Views}
	}
	return model.PathRanking{Items: items, Fallback: true}
}
