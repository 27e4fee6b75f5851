// Package kv provides the key-value abstraction used by the analytics pipeline.
//
// Backends return errors; Store wraps a Backend and turns every failure into a
// neutral default so callers can treat the store as advisory infrastructure.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable is returned when no backend is configured or it cannot be reached.
var ErrBackendUnavailable = errors.New("kv backend unavailable")

// ScoredMember is one sorted-set entry.
type ScoredMember struct {
	Member string
	Score  float64
}

// Backend is the logical contract of a Redis-compatible store.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name returns the backend name ("redis", "sqlite", ...).
	Name() string
	Ping(ctx context.Context) error
	Close() error

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ZIncrBy atomically adds delta to member's score.
	ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error)
	// ZRevRange returns members ordered by score descending, stop inclusive; negative
	// indexes count from the end like ZREVRANGE.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// SliceRange applies ZREVRANGE style start/stop indexes (stop inclusive, negative
// values counting from the end) to an already ordered slice.
func SliceRange(members []ScoredMember, start, stop int64) []ScoredMember {
	n := int64(len(members))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return []ScoredMember{}
	}
	return members[start : stop+1]
}
