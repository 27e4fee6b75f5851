package news

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/allowlist"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

// Errors reported per source. Neither reaches a GetNews caller.
var (
	ErrSourceFetchFailed = errors.New("source fetch failed")
	ErrURLRejected       = errors.New("url rejected")
)

const (
	maxRedirects = 5
	userAgent    = "mg-blog-news/1.0 (+https://marlowgate.com)"
)

// Entry is a raw feed entry before normalization.
type Entry struct {
	Title     string
	Link      string
	Published *time.Time
}

// Fetcher retrieves the entries of one source. Implementations must abort the
// request when ctx is done.
type Fetcher interface {
	Fetch(ctx context.Context, src model.NewsSource) ([]Entry, error)
}

// FeedFetcher fetches RSS/Atom feeds over HTTP with gofeed.
type FeedFetcher struct {
	parser  *gofeed.Parser
	limiter *hostLimiter
}

// FetcherOption configures a FeedFetcher.
type FetcherOption func(*FeedFetcher)

// WithDomainDelay overrides the minimum delay between requests to one host.
func WithDomainDelay(d time.Duration) FetcherOption {
	return func(f *FeedFetcher) { f.limiter = newHostLimiter(d) }
}

// NewFeedFetcher creates a fetcher whose redirects must pass policy.
func NewFeedFetcher(policy allowlist.Policy, opts ...FetcherOption) *FeedFetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	parser.Client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if !policy.Permit(req.URL.String()) {
				return fmt.Errorf("%w: redirect to %s", ErrURLRejected, req.URL.Host)
			}
			return nil
		},
	}
	f := &FeedFetcher{
		parser:  parser,
		limiter: newHostLimiter(DelayBetweenDomainRequests),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads and parses the feed of src.
func (f *FeedFetcher) Fetch(ctx context.Context, src model.NewsSource) ([]Entry, error) {
	release, err := f.limiter.wait(ctx, hostKey(src.URL, src.Hostname))
	if err != nil {
		return nil, fmt.Errorf("%w: rate limit cancelled for %s: %v", ErrSourceFetchFailed, src.URL, err)
	}
	defer release()

	parsed, err := f.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed %s: %v", ErrSourceFetchFailed, src.URL, err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		entries = append(entries, Entry{
			Title:     item.Title,
			Link:      item.Link,
			Published: published,
		})
	}
	return entries, nil
}
