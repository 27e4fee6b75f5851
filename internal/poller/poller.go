// Package poller runs the scheduled background jobs: news cache warm-up and
// purging of expired keys in SQL backends.
package poller

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/model"
)

// Default schedules.
const (
	DefaultRefreshSpec = "@every 5m"
	DefaultCleanupSpec = "@hourly"
)

// jobTimeout bounds a single run of any job.
const jobTimeout = 2 * time.Minute

// Refresher re-aggregates the news cache.
type Refresher interface {
	Refresh(ctx context.Context) []model.NewsItem
}

// Cleaner purges expired keys.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// Poller schedules the jobs on a cron.
type Poller struct {
	news        Refresher
	refreshSpec string
	cleaner     Cleaner
	cleanupSpec string

	cron *cron.Cron
	wg   sync.WaitGroup
}

// Option configures a Poller.
type Option func(*Poller)

// WithRefreshSpec sets the news refresh schedule.
func WithRefreshSpec(spec string) Option {
	return func(p *Poller) {
		if spec != "" {
			p.refreshSpec = spec
		}
	}
}

// WithCleanup schedules c on spec. An empty spec uses DefaultCleanupSpec.
func WithCleanup(c Cleaner, spec string) Option {
	return func(p *Poller) {
		p.cleaner = c
		if spec != "" {
			p.cleanupSpec = spec
		}
	}
}

// New creates a poller for news. news may be nil to run only the cleanup.
func New(news Refresher, opts ...Option) *Poller {
	p := &Poller{
		news:        news,
		refreshSpec: DefaultRefreshSpec,
		cleanupSpec: DefaultCleanupSpec,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cron = cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	return p
}

// Start registers the jobs, warms the news cache once and starts the schedule.
func (p *Poller) Start() error {
	if p.news != nil {
		if _, err := p.cron.AddFunc(p.refreshSpec, p.refreshNews); err != nil {
			return fmt.Errorf("schedule news refresh %q: %w", p.refreshSpec, err)
		}
	}
	if p.cleaner != nil {
		if _, err := p.cron.AddFunc(p.cleanupSpec, p.cleanup); err != nil {
			return fmt.Errorf("schedule cleanup %q: %w", p.cleanupSpec, err)
		}
	}
	if p.news != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.refreshNews()
		}()
	}
	p.cron.Start()
	log.Printf("poller: started (news %q, cleanup %q)", p.refreshSpec, p.cleanupSpec)
	return nil
}

// Stop stops the schedule and waits for running jobs.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
	p.wg.Wait()
}

func (p *Poller) refreshNews() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("poller: news refresh panicked: %v", rec)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	items := p.news.Refresh(ctx)
	log.Printf("poller: refreshed news, %d items in %s", len(items), time.Since(start).Round(time.Millisecond))
}

func (p *Poller) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := p.cleaner.Cleanup(ctx)
	if err != nil {
		log.Printf("poller: cleanup error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("poller: purged %d expired keys", n)
	}
}
