// Package config loads settings from flags, MGBLOG_* environment variables,
// an optional .env file and an optional plain config file.
//
// # Settings
//
//   - MGBLOG_ADDR: listen address (default :8080)
//   - MGBLOG_KV_BACKEND: redis, sqlite, postgres, memory or none (default memory)
//   - MGBLOG_REDIS_URL: redis URL for the redis backend
//   - MGBLOG_SQLITE_PATH: database file for the sqlite backend (default mgblog.db)
//   - MGBLOG_POSTGRES_URL: connection string for the postgres backend
//   - MGBLOG_SOURCES_FILE: JSON or OPML news source list (default: bundled list)
//   - MGBLOG_SITE_HOSTS: comma-separated hosts accepted in tracked metadata URLs
//   - MGBLOG_TIMEZONE: zone of the day/week/month popularity buckets (default Asia/Tokyo)
//   - MGBLOG_NEWS_CACHE_TTL, MGBLOG_NEWS_SOURCE_TIMEOUT, MGBLOG_NEWS_MAX_PER_SOURCE
//   - MGBLOG_NEWS_REFRESH_CRON, MGBLOG_CLEANUP_CRON
//   - MGBLOG_TRACING_ENABLED, MGBLOG_TRACING_ENDPOINT
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v3"
)

// KV backend names.
const (
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "MGBLOG"

// ErrInvalidConfig is returned when settings are inconsistent.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every runtime setting.
type Config struct {
	Addr string

	KVBackend   string
	RedisURL    string
	SQLitePath  string
	PostgresURL string

	SourcesFile string
	SiteHosts   []string
	Timezone    string

	NewsCacheTTL      time.Duration
	NewsSourceTimeout time.Duration
	NewsMaxPerSource  int
	NewsRefreshCron   string
	CleanupCron       string

	TracingEnabled  bool
	TracingEndpoint string
}

// Load reads .env (if present) and parses args.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()
	return Parse(args)
}

// Parse builds a Config from args and the environment.
func Parse(args []string) (*Config, error) {
	var (
		cfg       Config
		siteHosts string
	)
	fs := flag.NewFlagSet("mgblog", flag.ContinueOnError)

	fs.StringVar(&cfg.Addr, "addr", ":8080", "HTTP listen address")
	fs.StringVar(&cfg.KVBackend, "kv-backend", BackendMemory, "KV backend: redis, sqlite, postgres, memory, none")
	fs.StringVar(&cfg.RedisURL, "redis-url", "", "Redis URL (redis://host:6379/0)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", "mgblog.db", "SQLite database file")
	fs.StringVar(&cfg.PostgresURL, "postgres-url", "", "PostgreSQL connection string")
	fs.StringVar(&cfg.SourcesFile, "sources-file", "", "News sources file (.json or .opml); empty uses the bundled list")
	fs.StringVar(&siteHosts, "site-hosts", "marlowgate.com,www.marlowgate.com", "Comma-separated site hosts for tracked URLs")
	fs.StringVar(&cfg.Timezone, "timezone", "Asia/Tokyo", "Time zone of popularity buckets")
	fs.DurationVar(&cfg.NewsCacheTTL, "news-cache-ttl", 300*time.Second, "News cache lifetime")
	fs.DurationVar(&cfg.NewsSourceTimeout, "news-source-timeout", 5*time.Second, "Per-source fetch timeout")
	fs.IntVar(&cfg.NewsMaxPerSource, "news-max-per-source", 20, "Maximum entries taken from each feed")
	fs.StringVar(&cfg.NewsRefreshCron, "news-refresh-cron", "@every 5m", "News cache warm-up schedule")
	fs.StringVar(&cfg.CleanupCron, "cleanup-cron", "@hourly", "Expired key purge schedule (SQL backends)")
	fs.BoolVar(&cfg.TracingEnabled, "tracing-enabled", false, "Export traces over OTLP gRPC")
	fs.StringVar(&cfg.TracingEndpoint, "tracing-endpoint", "localhost:4317", "OTLP gRPC endpoint")
	_ = fs.String("config", "", "Config file (optional)")

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		return nil, err
	}

	cfg.KVBackend = strings.ToLower(strings.TrimSpace(cfg.KVBackend))
	cfg.SiteHosts = splitList(siteHosts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.KVBackend {
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis backend requires redis-url", ErrInvalidConfig)
		}
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("%w: postgres backend requires postgres-url", ErrInvalidConfig)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite backend requires sqlite-path", ErrInvalidConfig)
		}
	case BackendMemory, BackendNone:
	default:
		return fmt.Errorf("%w: unknown kv backend %q", ErrInvalidConfig, c.KVBackend)
	}
	if c.NewsMaxPerSource <= 0 {
		return fmt.Errorf("%w: news-max-per-source must be positive", ErrInvalidConfig)
	}
	if c.NewsSourceTimeout <= 0 || c.NewsCacheTTL <= 0 {
		return fmt.Errorf("%w: news durations must be positive", ErrInvalidConfig)
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
