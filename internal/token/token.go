// Package token holds the short-lived pair tokens issued with comparison
// batches.
//
// A token binds a metric and two comparison sample ids for the lifetime of
// one vote. TakeAndDelete is atomic: each token yields its payload to at
// most one caller, which is what makes double-voting on a token impossible.
// The production implementation is Redis-backed (RedisStore); MemoryStore
// serves single-process deployments and tests.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hikaku/internal/model"
)

// DefaultTTL is how long an issued pair token stays redeemable.
const DefaultTTL = time.Hour

// ErrNotFound is returned when a token does not exist or has expired or was
// already consumed.
var ErrNotFound = errors.New("token: not found")

// ErrMalformedPayload is returned when a stored payload cannot be parsed.
var ErrMalformedPayload = errors.New("token: malformed payload")

// Store is the pair-token contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put stores the payload under token for ttl.
	Put(ctx context.Context, tok uuid.UUID, payload model.PairPayload, ttl time.Duration) error

	// TakeAndDelete atomically fetches and removes the payload. Returns
	// ErrNotFound if the token is absent, expired, or already taken.
	TakeAndDelete(ctx context.Context, tok uuid.UUID) (model.PairPayload, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// encodePayload renders a payload as "metric:sample1:sample2".
func encodePayload(p model.PairPayload) string {
	return fmt.Sprintf("%s:%s:%s", p.MetricExternalID, p.Sample1ID, p.Sample2ID)
}

// decodePayload parses the wire form written by encodePayload.
func decodePayload(s string) (model.PairPayload, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return model.PairPayload{}, ErrMalformedPayload
	}
	metricID, err := uuid.Parse(parts[0])
	if err != nil {
		return model.PairPayload{}, ErrMalformedPayload
	}
	sample1, err := uuid.Parse(parts[1])
	if err != nil {
		return model.PairPayload{}, ErrMalformedPayload
	}
	sample2, err := uuid.Parse(parts[2])
	if err != nil {
		return model.PairPayload{}, ErrMalformedPayload
	}
	return model.PairPayload{MetricExternalID: metricID, Sample1ID: sample1, Sample2ID: sample2}, nil
}
