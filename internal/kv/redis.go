package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend talks to any Redis-compatible server.
type RedisBackend struct {
	client *redis.Client
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend connects using a redis:// or rediss:// URL.
func NewRedisBackend(redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Name returns "redis".
func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.Expire(ctx, key, ttl).Result()
}

func (r *RedisBackend) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	return r.client.ZIncrBy(ctx, key, delta, member).Result()
}

func (r *RedisBackend) ZRevRange(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	zs, err := r.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		out = append(out, ScoredMember{Member: member, Score: z.Score})
	}
	return out, nil
}

func (r *RedisBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	values := make(map[string]interface{}, len(fields))
	for f, v := range fields {
		values[f] = v
	}
	return r.client.HSet(ctx, key, values).Err()
}

func (r *RedisBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err == redis.Nil {
		return map[string]string{}, nil
	}
	return fields, err
}
