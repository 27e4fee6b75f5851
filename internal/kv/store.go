package kv

import (
	"context"
	"log"
	"time"
)

// Store is the fail-soft view of a Backend. None of its methods return errors:
// failures are logged and the neutral default is returned instead.
// A Store with a nil backend behaves as "not configured".
type Store struct {
	backend Backend
}

// NewStore wraps backend. backend may be nil.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Configured reports whether a backend is attached.
func (s *Store) Configured() bool {
	return s != nil && s.backend != nil
}

// BackendName returns the attached backend name, or "none".
func (s *Store) BackendName() string {
	if !s.Configured() {
		return "none"
	}
	return s.backend.Name()
}

// Ping checks backend reachability. It is the only method that reports an error,
// for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if !s.Configured() {
		return ErrBackendUnavailable
	}
	return s.backend.Ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	if !s.Configured() {
		return nil
	}
	return s.backend.Close()
}

// SetWithExpiry stores value under key for ttl.
func (s *Store) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !s.Configured() {
		return false
	}
	if err := s.backend.Set(ctx, key, value, ttl); err != nil {
		s.logf("set %s: %v", key, err)
		return false
	}
	return true
}

// Exists reports whether key is present. False on failure.
func (s *Store) Exists(ctx context.Context, key string) bool {
	if !s.Configured() {
		return false
	}
	ok, err := s.backend.Exists(ctx, key)
	if err != nil {
		s.logf("exists %s: %v", key, err)
		return false
	}
	return ok
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if !s.Configured() {
		return false
	}
	ok, err := s.backend.Expire(ctx, key, ttl)
	if err != nil {
		s.logf("expire %s: %v", key, err)
		return false
	}
	return ok
}

// SortedSetIncrement adds delta to member in the sorted set at key.
func (s *Store) SortedSetIncrement(ctx context.Context, key, member string, delta float64) bool {
	if !s.Configured() {
		return false
	}
	if _, err := s.backend.ZIncrBy(ctx, key, member, delta); err != nil {
		s.logf("zincrby %s %s: %v", key, member, err)
		return false
	}
	return true
}

// SortedSetReverseRange returns members of key by descending score. Scores are
// zeroed when withScores is false. Empty on failure.
func (s *Store) SortedSetReverseRange(ctx context.Context, key string, start, stop int64, withScores bool) []ScoredMember {
	if !s.Configured() {
		return []ScoredMember{}
	}
	members, err := s.backend.ZRevRange(ctx, key, start, stop)
	if err != nil {
		s.logf("zrevrange %s: %v", key, err)
		return []ScoredMember{}
	}
	if !withScores {
		for i := range members {
			members[i].Score = 0
		}
	}
	if members == nil {
		members = []ScoredMember{}
	}
	return members
}

// HashSet writes fields into the hash at key.
func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string) bool {
	if !s.Configured() || len(fields) == 0 {
		return false
	}
	if err := s.backend.HSet(ctx, key, fields); err != nil {
		s.logf("hset %s: %v", key, err)
		return false
	}
	return true
}

// HashGetAll returns every field of the hash at key. Nil on failure or absence.
func (s *Store) HashGetAll(ctx context.Context, key string) map[string]string {
	if !s.Configured() {
		return nil
	}
	fields, err := s.backend.HGetAll(ctx, key)
	if err != nil {
		s.logf("hgetall %s: %v", key, err)
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (s *Store) logf(format string, args ...interface{}) {
	log.Printf("kv[%s]: "+format, append([]interface{}{s.backend.Name()}, args...)...)
}
