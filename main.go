package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/allowlist"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/config"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/database"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/news"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/observability"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/poller"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/popularity"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/server"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/sources"
	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/tracker"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing := observability.InitTracer(ctx, cfg.TracingEnabled, cfg.TracingEndpoint, version)
	defer tracing.Shutdown()

	backend, cleaner, err := openBackend(cfg)
	if err != nil {
		// The store is advisory: run degraded rather than refuse to start.
		log.Printf("KV backend %s unavailable, serving fallbacks: %v", cfg.KVBackend, err)
		backend, cleaner = nil, nil
	}
	store := kv.NewStore(backend)
	defer store.Close()

	loader := sources.NewCachedLoader(sources.FileLoader{Path: cfg.SourcesFile})
	policy := allowlist.Policy{
		Block: allowlist.NewBlocklist(allowlist.DefaultBlockedDomains...),
		Allow: allowlist.FromLoader(loader),
	}
	log.Printf("Allowlist: %d news hosts", policy.Allow.Hosts())

	loc := cfg.Location()
	views := tracker.New(store,
		tracker.WithLocation(loc),
		tracker.WithSiteHosts(allowlist.New(cfg.SiteHosts...)),
	)
	reader, err := popularity.New(store, popularity.WithLocation(loc))
	if err != nil {
		log.Fatalf("Failed to load fallback ranking: %v", err)
	}
	agg := news.NewAggregator(loader, policy,
		news.WithCache(news.NewCache(cfg.NewsCacheTTL)),
		news.WithSourceTimeout(cfg.NewsSourceTimeout),
		news.WithMaxPerSource(cfg.NewsMaxPerSource),
	)

	pollerOpts := []poller.Option{poller.WithRefreshSpec(cfg.NewsRefreshCron)}
	if cleaner != nil {
		pollerOpts = append(pollerOpts, poller.WithCleanup(cleaner, cfg.CleanupCron))
	}
	poll := poller.New(agg, pollerOpts...)
	if err := poll.Start(); err != nil {
		log.Fatalf("Failed to start poller: %v", err)
	}
	defer poll.Stop()

	srv := server.New(server.Deps{
		Store:      store,
		Tracker:    views,
		Popularity: reader,
		News:       agg,
		Sources:    loader,
		Policy:     policy,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Addr) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}
}

// openBackend connects the configured KV backend. SQL backends are also
// returned as the cleaner that purges expired keys.
func openBackend(cfg *config.Config) (kv.Backend, poller.Cleaner, error) {
	switch cfg.KVBackend {
	case config.BackendRedis:
		b, err := kv.NewRedisBackend(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	case config.BackendSQLite:
		db, err := database.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case config.BackendPostgres:
		db, err := database.NewPostgres(cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case config.BackendMemory:
		return kv.NewMemoryBackend(), nil, nil
	default:
		return nil, nil, nil
	}
}
