// Package ratelimit provides sliding-window rate limiting.
//
// The production limiter coordinates across instances through Redis; the
// in-memory limiter covers single-instance deployments without one. Both
// satisfy Allower, the middleware contract.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule describes one rate limit: at most Limit requests per Window,
// namespaced by Prefix so independent endpoints do not share budgets.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// Result is the outcome of one Allow decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FormatHeaders renders the standard X-RateLimit response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(r.ResetAt.Unix(), 10),
	}
}

// Allower decides whether a request identified by key should proceed under a
// rule. Implementations must be safe for concurrent use and must fail open:
// a limiter malfunction permits the request rather than blocking traffic.
type Allower interface {
	Allow(ctx context.Context, rule Rule, key string) Result
	Close() error
}

// Limiter is the Redis-backed sliding-window limiter. A nil Redis client
// puts it in noop mode: every request is allowed.
type Limiter struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a Limiter. Pass a nil client to disable limiting.
func New(client *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{client: client, logger: logger}
}

// Allow records the request in the key's sliding window and reports whether
// it fits under the rule's limit.
func (l *Limiter) Allow(ctx context.Context, rule Rule, key string) Result {
	if l.client == nil {
		return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: time.Now().Add(rule.Window)}
	}

	now := time.Now()
	redisKey := fmt.Sprintf("ratelimit:%s:%s", rule.Prefix, key)
	windowStart := now.Add(-rule.Window).UnixMicro()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(rule, err)
	}

	count := int(countCmd.Val())
	if count >= rule.Limit {
		resetAt := now.Add(rule.Window)
		if oldest, err := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result(); err == nil && len(oldest) > 0 {
			resetAt = time.UnixMicro(int64(oldest[0].Score)).Add(rule.Window)
		}
		return Result{Allowed: false, Limit: rule.Limit, Remaining: 0, ResetAt: resetAt}
	}

	member := strconv.FormatInt(now.UnixMicro(), 10)
	pipe = l.client.TxPipeline()
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	pipe.Expire(ctx, redisKey, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen(rule, err)
	}

	return Result{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - count - 1,
		ResetAt:   now.Add(rule.Window),
	}
}

func (l *Limiter) failOpen(rule Rule, err error) Result {
	l.logger.Warn("ratelimit: redis error, failing open", "error", err)
	return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: time.Now().Add(rule.Window)}
}

// Close is a no-op; the Redis client is owned by the caller.
func (l *Limiter) Close() error { return nil }
