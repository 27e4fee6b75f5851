package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend for local development and tests.
// Data is lost on restart.
type MemoryBackend struct {
	mu      sync.Mutex
	now     func() time.Time
	strings map[string]string
	zsets   map[string]map[string]float64
	hashes  map[string]map[string]string
	expires map[string]time.Time
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		now:     time.Now,
		strings: make(map[string]string),
		zsets:   make(map[string]map[string]float64),
		hashes:  make(map[string]map[string]string),
		expires: make(map[string]time.Time),
	}
}

// SetClock replaces the time source, for tests.
func (m *MemoryBackend) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Name returns "memory".
func (m *MemoryBackend) Name() string { return "memory" }

// Ping always succeeds.
func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }

// expireLocked drops key if its TTL has passed. Caller holds mu.
func (m *MemoryBackend) expireLocked(key string) {
	at, ok := m.expires[key]
	if !ok || m.now().Before(at) {
		return
	}
	delete(m.strings, key)
	delete(m.zsets, key)
	delete(m.hashes, key)
	delete(m.expires, key)
}

func (m *MemoryBackend) existsLocked(key string) bool {
	m.expireLocked(key)
	if _, ok := m.strings[key]; ok {
		return true
	}
	if _, ok := m.zsets[key]; ok {
		return true
	}
	_, ok := m.hashes[key]
	return ok
}

func (m *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.zsets, key)
	delete(m.hashes, key)
	m.strings[key] = value
	if ttl > 0 {
		m.expires[key] = m.now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsLocked(key), nil
}

func (m *MemoryBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.existsLocked(key) {
		return false, nil
	}
	m.expires[key] = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryBackend) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	if _, ok := m.strings[key]; ok {
		return 0, fmt.Errorf("zincrby %s: wrong type", key)
	}
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	set[member] += delta
	return set[member], nil
}

func (m *MemoryBackend) ZRevRange(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	set := m.zsets[key]
	members := make([]ScoredMember, 0, len(set))
	for member, score := range set {
		members = append(members, ScoredMember{Member: member, Score: score})
	}
	// Same ordering as Redis: score desc, then member desc.
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Member > members[j].Member
	})
	return SliceRange(members, start, stop), nil
}

func (m *MemoryBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (m *MemoryBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}
