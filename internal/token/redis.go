package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashita-ai/hikaku/internal/model"
)

// keyPrefix namespaces pair tokens in the shared Redis keyspace.
const keyPrefix = "active_comparison:"

// RedisStore implements Store on Redis. Atomicity of TakeAndDelete comes
// from GETDEL; TTLs are enforced server-side by SET EX.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Put stores the payload under token for ttl.
func (s *RedisStore) Put(ctx context.Context, tok uuid.UUID, payload model.PairPayload, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+tok.String(), encodePayload(payload), ttl).Err(); err != nil {
		return fmt.Errorf("token: put: %w", err)
	}
	return nil
}

// TakeAndDelete atomically fetches and removes the payload.
func (s *RedisStore) TakeAndDelete(ctx context.Context, tok uuid.UUID) (model.PairPayload, error) {
	raw, err := s.client.GetDel(ctx, keyPrefix+tok.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.PairPayload{}, ErrNotFound
		}
		return model.PairPayload{}, fmt.Errorf("token: take: %w", err)
	}
	return decodePayload(raw)
}

// Close is a no-op; the shared client is owned by the caller.
func (s *RedisStore) Close() error { return nil }
