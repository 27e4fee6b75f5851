package news

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/allowlist"
)

// Per-host politeness settings.
const (
	// MaxConcurrencyPerDomain limits parallel requests to any single host.
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum spacing between request starts to one host.
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

// hostLimiter gates outbound feed requests per normalized hostname.
type hostLimiter struct {
	delay time.Duration

	mu    sync.Mutex
	gates map[string]*hostGate
}

type hostGate struct {
	slots *semaphore.Weighted

	mu   sync.Mutex
	next time.Time
}

func newHostLimiter(delay time.Duration) *hostLimiter {
	return &hostLimiter{
		delay: delay,
		gates: make(map[string]*hostGate),
	}
}

func (l *hostLimiter) gate(host string) *hostGate {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.gates[host]
	if !ok {
		g = &hostGate{slots: semaphore.NewWeighted(MaxConcurrencyPerDomain)}
		l.gates[host] = g
	}
	return g
}

// wait blocks until host has a free slot and its start time has come. The
// returned func frees the slot.
func (l *hostLimiter) wait(ctx context.Context, host string) (func(), error) {
	g := l.gate(host)
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	release := func() { g.slots.Release(1) }

	g.mu.Lock()
	start := time.Now()
	if g.next.After(start) {
		start = g.next
	}
	g.next = start.Add(l.delay)
	g.mu.Unlock()

	if d := time.Until(start); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

// hostKey is the limiter key for src: the hostname the allowlist would match.
func hostKey(feedURL, fallback string) string {
	if host, ok := allowlist.Hostname(feedURL); ok {
		return host
	}
	return fallback
}
