// Package model defines shared data structures.
package model

import "time"

// ViewEvent is a single page view. Only its effects on the counters persist.
type ViewEvent struct {
	Path     string
	ClientID string
	// Optional content metadata, written alongside the counters when present.
	Type  string
	Title string
	URL   string
}

// HasMetadata reports whether the event carries anything worth storing in the metadata hash.
func (e ViewEvent) HasMetadata() bool {
	return e.Type != "" || e.Title != "" || e.URL != ""
}

// ContentMeta is the cached description of a counted slug.
type ContentMeta struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	LastUpdate string `json:"lastUpdate,omitempty"`
}

// RankedItem is one entry of a popularity ranking.
type RankedItem struct {
	Slug  string `json:"slug"`
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Views int64  `json:"views"`
	Rank  int    `json:"rank"`
}

// Ranking is the result of a popularity read.
type Ranking struct {
	Items    []RankedItem `json:"items"`
	Fallback bool         `json:"fallback"`
}

// PathScore is the raw sorted-set view of a ranking.
type PathScore struct {
	Path  string `json:"path"`
	Score int64  `json:"score"`
}

// PathRanking is the raw ranking response shape.
type PathRanking struct {
	Items    []PathScore `json:"items"`
	Fallback bool        `json:"fallback,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// NewsSource is a configured feed. Hostname is the allowlist key.
type NewsSource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Hostname string `json:"hostname"`
}

// NewsItem is a single aggregated headline.
type NewsItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
}

// NewsPage is a paginated slice of the aggregated news.
type NewsPage struct {
	Items      []NewsItem `json:"items"`
	NextOffset *int       `json:"nextOffset"`
	Total      int        `json:"total"`
}

// EmptyNewsPage returns the well-formed empty result.
func EmptyNewsPage() NewsPage {
	return NewsPage{Items: []NewsItem{}, NextOffset: nil, Total: 0}
}

// Popularity windows.
const (
	WindowDay   = "day"
	WindowWeek  = "week"
	WindowMonth = "month"
	WindowAll   = "all"
)

// KindAll disables type filtering on popularity reads.
const KindAll = "all"
