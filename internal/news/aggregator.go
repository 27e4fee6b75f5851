// Package news aggregates the configured RSS sources into one paginated list.
package news

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/allowlist"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/sources"
)

// Aggregation defaults.
const (
	DefaultSourceTimeout = 5 * time.Second
	DefaultMaxPerSource  = 20
	DefaultLimit         = 20
	MaxLimit             = 100
)

// State is the phase of the current aggregation cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateMerging
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Query selects a page of aggregated news.
type Query struct {
	// Sources limits results to these source ids. Empty means every source.
	Sources []string
	Limit   int
	Offset  int
}

// Aggregator fetches every source, merges the results and serves pages from a Cache.
type Aggregator struct {
	loader       sources.Loader
	policy       allowlist.Policy
	fetcher      Fetcher
	cache        *Cache
	timeout      time.Duration
	maxPerSource int
	now          func() time.Time

	state atomic.Int32
	group singleflight.Group
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithFetcher replaces the HTTP feed fetcher.
func WithFetcher(f Fetcher) Option {
	return func(a *Aggregator) { a.fetcher = f }
}

// WithCache injects the cache slot.
func WithCache(c *Cache) Option {
	return func(a *Aggregator) { a.cache = c }
}

// WithSourceTimeout sets the per-source fetch deadline.
func WithSourceTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithMaxPerSource caps the entries taken from each feed.
func WithMaxPerSource(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxPerSource = n
		}
	}
}

// WithClock overrides the time used for undated entries.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator over the sources of loader. Every feed
// URL and item link must pass policy.
func NewAggregator(loader sources.Loader, policy allowlist.Policy, opts ...Option) *Aggregator {
	a := &Aggregator{
		loader:       loader,
		policy:       policy,
		timeout:      DefaultSourceTimeout,
		maxPerSource: DefaultMaxPerSource,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.fetcher == nil {
		a.fetcher = NewFeedFetcher(policy)
	}
	if a.cache == nil {
		a.cache = NewCache(DefaultCacheTTL)
	}
	return a
}

// State returns the phase of the current aggregation cycle.
func (a *Aggregator) State() State {
	return State(a.state.Load())
}

// Cache returns the cache slot.
func (a *Aggregator) Cache() *Cache {
	return a.cache
}

// GetNews returns one page of news, aggregating first when the cache is stale.
// It never fails: any unexpected failure yields the empty page.
func (a *Aggregator) GetNews(ctx context.Context, q Query) (page model.NewsPage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("news: recovered from panic: %v", rec)
			page = model.EmptyNewsPage()
		}
	}()

	items, ok := a.cache.Get()
	if !ok {
		items = a.Refresh(ctx)
	}
	if len(q.Sources) > 0 {
		items = a.filterSources(items, q.Sources)
	}
	return paginate(items, q.Limit, q.Offset)
}

// Refresh aggregates every source now and replaces the cache. Concurrent
// calls share one aggregation.
func (a *Aggregator) Refresh(ctx context.Context) []model.NewsItem {
	// Detached so one caller giving up does not fail the shared aggregation.
	ctx = context.WithoutCancel(ctx)
	v, _, _ := a.group.Do("refresh", func() (interface{}, error) {
		items := a.aggregate(ctx)
		a.cache.Put(items)
		return items, nil
	})
	return v.([]model.NewsItem)
}

func (a *Aggregator) aggregate(ctx context.Context) []model.NewsItem {
	ctx, span := otel.Tracer("news").Start(ctx, "news.Refresh")
	defer span.End()

	a.state.Store(int32(StateFetching))
	defer func() {
		if rec := recover(); rec != nil {
			a.state.Store(int32(StateIdle))
			panic(rec)
		}
	}()
	srcs, err := a.loader.Load()
	if err != nil {
		log.Printf("news: load sources: %v", err)
		srcs = nil
	}

	results := make([][]model.NewsItem, len(srcs))
	var wg sync.WaitGroup
	for i, src := range srcs {
		wg.Add(1)
		go func(i int, src model.NewsSource) {
			defer wg.Done()
			items, err := a.fetchSource(ctx, src)
			if err != nil {
				log.Printf("news: source %s: %v", src.ID, err)
				return
			}
			results[i] = items
		}(i, src)
	}
	wg.Wait()

	a.state.Store(int32(StateMerging))
	merged := merge(results)
	a.state.Store(int32(StateReady))

	span.SetAttributes(
		attribute.Int("news.sources", len(srcs)),
		attribute.Int("news.items", len(merged)),
	)
	return merged
}

// fetchSource fetches and normalizes one source. A panic inside it is confined
// to that source.
func (a *Aggregator) fetchSource(ctx context.Context, src model.NewsSource) (items []model.NewsItem, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			items, err = nil, fmt.Errorf("%w: panic: %v", ErrSourceFetchFailed, rec)
		}
	}()

	if !a.policy.Permit(src.URL) {
		return nil, fmt.Errorf("%w: feed %s", ErrURLRejected, src.URL)
	}

	ctx, span := otel.Tracer("news").Start(ctx, "news.fetchSource")
	defer span.End()
	span.SetAttributes(attribute.String("news.source", src.ID))

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	entries, err := a.fetcher.Fetch(ctx, src)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrSourceFetchFailed, a.timeout)
		}
		return nil, err
	}
	if len(entries) > a.maxPerSource {
		entries = entries[:a.maxPerSource]
	}

	now := a.now().UTC()
	items = make([]model.NewsItem, 0, len(entries))
	for _, e := range entries {
		link := strings.TrimSpace(e.Link)
		title := CleanTitle(e.Title)
		if link == "" || title == "" {
			continue
		}
		if !a.policy.Permit(link) {
			continue
		}
		published := now
		if e.Published != nil && !e.Published.IsZero() {
			published = e.Published.UTC()
		}
		items = append(items, model.NewsItem{
			ID:          ItemID(src.ID, link),
			Title:       title,
			URL:         link,
			Source:      src.Name,
			PublishedAt: published.Truncate(time.Second),
		})
	}
	return items, nil
}

// merge concatenates per-source results in source order, keeps the first item
// per canonical URL and sorts newest first. Equal timestamps keep merge order.
func merge(results [][]model.NewsItem) []model.NewsItem {
	seen := make(map[string]bool)
	merged := make([]model.NewsItem, 0)
	for _, items := range results {
		for _, it := range items {
			key := CanonicalURL(it.URL)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, it)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PublishedAt.After(merged[j].PublishedAt)
	})
	return merged
}

// filterSources keeps items whose source display name belongs to one of ids.
// Unknown ids match nothing.
func (a *Aggregator) filterSources(items []model.NewsItem, ids []string) []model.NewsItem {
	srcs, err := a.loader.Load()
	if err != nil {
		return []model.NewsItem{}
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[strings.TrimSpace(id)] = true
	}
	names := make(map[string]bool)
	for _, s := range srcs {
		if wanted[s.ID] {
			names[s.Name] = true
		}
	}
	out := make([]model.NewsItem, 0, len(items))
	for _, it := range items {
		if names[it.Source] {
			out = append(out, it)
		}
	}
	return out
}

// ClampLimit applies the default and bounds for a page size.
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

func paginate(items []model.NewsItem, limit, offset int) model.NewsPage {
	limit = ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	total := len(items)
	page := model.NewsPage{Items: []model.NewsItem{}, Total: total}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page.Items = append(page.Items, items[offset:end]...)
	}
	if offset+limit < total {
		next := offset + limit
		page.NextOffset = &next
	}
	return page
}
