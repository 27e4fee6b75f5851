// Package kvtest provides Backend doubles for tests.
package kvtest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/marlowgate-ops/mg-blog-next-sub001/internal/kv"
)

// ErrDown is returned by every FailingBackend call.
var ErrDown = errors.New("backend down")

// FailingBackend fails every operation and counts the attempts.
type FailingBackend struct {
	Calls atomic.Int64
}

var _ kv.Backend = (*FailingBackend)(nil)

func (f *FailingBackend) fail() error {
	f.Calls.Add(1)
	return ErrDown
}

func (f *FailingBackend) Name() string                   { return "failing" }
func (f *FailingBackend) Ping(ctx context.Context) error { return f.fail() }
func (f *FailingBackend) Close() error                   { return nil }

func (f *FailingBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return f.fail()
}

func (f *FailingBackend) Exists(ctx context.Context, key string) (bool, error) {
	return false, f.fail()
}

func (f *FailingBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, f.fail()
}

func (f *FailingBackend) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	return 0, f.fail()
}

func (f *FailingBackend) ZRevRange(ctx context.Context, key string, start, stop int64) ([]kv.ScoredMember, error) {
	return nil, f.fail()
}

func (f *FailingBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	return f.fail()
}

func (f *FailingBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, f.fail()
}
