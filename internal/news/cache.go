package news

import (
	"sync/atomic"
	"time"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

// DefaultCacheTTL is how long an aggregation is served before refetching.
const DefaultCacheTTL = 300 * time.Second

type snapshot struct {
	items     []model.NewsItem
	fetchedAt time.Time
}

// Cache is a single slot holding the last aggregation. The slot is replaced
// whole, so readers see either the old list or the new one.
type Cache struct {
	ttl  time.Duration
	now  func() time.Time
	slot atomic.Pointer[snapshot]
}

// NewCache creates an empty cache. A non-positive ttl uses DefaultCacheTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, now: time.Now}
}

// SetClock overrides the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// Get returns the cached items while they are younger than the ttl.
func (c *Cache) Get() ([]model.NewsItem, bool) {
	s := c.slot.Load()
	if s == nil || c.now().Sub(s.fetchedAt) >= c.ttl {
		return nil, false
	}
	return s.items, true
}

// Put replaces the slot. items must not be modified afterwards.
func (c *Cache) Put(items []model.NewsItem) {
	c.slot.Store(&snapshot{items: items, fetchedAt: c.now()})
}

// FetchedAt returns when the slot was last filled, or the zero time.
func (c *Cache) FetchedAt() time.Time {
	if s := c.slot.Load(); s != nil {
		return s.fetchedAt
	}
	return time.Time{}
}

// Invalidate empties the slot so the next read aggregates again.
func (c *Cache) Invalidate() {
	c.slot.Store(nil)
}
