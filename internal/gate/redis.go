package gate

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ashita-ai/hikaku/internal/model"
)

// RedisGate implements Gate with SET NX EX on a shared Redis.
type RedisGate struct {
	client redis.UniversalClient
}

// NewRedisGate wraps an existing Redis client.
func NewRedisGate(client redis.UniversalClient) *RedisGate {
	return &RedisGate{client: client}
}

// TryAcquire sets the system's lock if absent.
func (g *RedisGate) TryAcquire(ctx context.Context, system model.RatingSystem) (bool, error) {
	ok, err := g.client.SetNX(ctx, lockKey(system), "1", TTLFor(system)).Result()
	if err != nil {
		return false, fmt.Errorf("gate: setnx: %w", err)
	}
	return ok, nil
}

// Release deletes the system's lock.
func (g *RedisGate) Release(ctx context.Context, system model.RatingSystem) error {
	if err := g.client.Del(ctx, lockKey(system)).Err(); err != nil {
		return fmt.Errorf("gate: del: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is owned by the caller.
func (g *RedisGate) Close() error { return nil }
