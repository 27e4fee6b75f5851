// Package tracker records page views into the popularity counters.
//
// A view counts at most once per client, path and rolling hour. The dedupe
// marker is checked with EXISTS and then written with SET, which is not atomic:
// two simultaneous requests from the same client may both be counted. That
// over-count is accepted; SET NX EX would close the gap if it ever matters.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/allowlist"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

// ErrInvalidInput is returned for a malformed view; nothing is written.
var ErrInvalidInput = errors.New("invalid input")

// UnknownClient identifies requests without forwarded-IP headers.
const UnknownClient = "unknown"

const markerValue = "1"

// Result describes what a RecordView call did. Failed lists the writes that
// did not succeed; it is diagnostic only.
type Result struct {
	Counted bool
	Failed  []string
}

// Tracker writes view events to the store.
type Tracker struct {
	store     *kv.Store
	siteHosts *allowlist.Validator
	loc       *time.Location
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLocation sets the time zone used for day/week/month buckets.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithSiteHosts sets the hosts accepted for absolute metadata URLs.
func WithSiteHosts(v *allowlist.Validator) Option {
	return func(t *Tracker) { t.siteHosts = v }
}

// New creates a Tracker over store.
func New(store *kv.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: store,
		loc:   time.UTC,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordView counts ev once per client, path and hour. The only error is
// ErrInvalidInput; backend failures are logged and reported in Result.Failed.
func (t *Tracker) RecordView(ctx context.Context, ev model.ViewEvent) (Result, error) {
	ctx, span := otel.Tracer("tracker").Start(ctx, "tracker.RecordView")
	defer span.End()

	if !strings.HasPrefix(ev.Path, "/") {
		return Result{}, fmt.Errorf("%w: path must start with /", ErrInvalidInput)
	}
	if ev.ClientID == "" {
		ev.ClientID = UnknownClient
	}
	span.SetAttributes(attribute.String("view.path", ev.Path))

	marker := DedupeKey(ev.ClientID, ev.Path)
	if t.store.Exists(ctx, marker) {
		span.SetAttributes(attribute.Bool("view.dedupe", true))
		return Result{Counted: false}, nil
	}

	res := Result{Counted: true}
	fail := func(step string) { res.Failed = append(res.Failed, step) }

	if !t.store.SetWithExpiry(ctx, marker, markerValue, DedupeTTL) {
		fail("marker")
	}

	now := t.now().In(t.loc)
	if !t.store.SortedSetIncrement(ctx, KeyAllTime, ev.Path, 1) {
		fail(KeyAllTime)
	}
	windows := []struct {
		key string
		ttl time.Duration
	}{
		{DayKey(now), DayTTL},
		{WeekKey(now), WeekTTL},
		{MonthKey(now), MonthTTL},
	}
	for _, w := range windows {
		if !t.store.SortedSetIncrement(ctx, w.key, ev.Path, 1) {
			fail(w.key)
			continue
		}
		if !t.store.Expire(ctx, w.key, w.ttl) {
			fail(w.key + " ttl")
		}
	}

	if ev.HasMetadata() {
		key := MetadataKey(ev.Path)
		fields := map[string]string{
			"type":       ev.Type,
			"title":      ev.Title,
			"url":        t.metadataURL(ev),
			"lastUpdate": now.Format(time.RFC3339),
		}
		if !t.store.HashSet(ctx, key, fields) {
			fail(key)
		} else if !t.store.Expire(ctx, key, MetadataTTL) {
			fail(key + " ttl")
		}
	}

	if len(res.Failed) > 0 {
		log.Printf("tracker: %s counted with %d failed writes: %s",
			ev.Path, len(res.Failed), strings.Join(res.Failed, ", "))
	}
	return res, nil
}

// metadataURL keeps site-relative or site-host URLs and falls back to the path.
func (t *Tracker) metadataURL(ev model.ViewEvent) string {
	u := strings.TrimSpace(ev.URL)
	switch {
	case u == "":
		return ev.Path
	case strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//"):
		return u
	case t.siteHosts.IsAllowed(u):
		return u
	default:
		return ev.Path
	}
}

// ClientID derives the client identifier from forwarded-IP headers.
func ClientID(h http.Header) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(h.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}
