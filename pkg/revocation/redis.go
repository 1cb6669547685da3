package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

const redisKeyPrefix = "ironlayer:revoked:"

// RedisStore keeps revocations in Redis, keyed per jti with a TTL
// matching the token expiry. Useful for multi-replica deployments
// where the Postgres list would be a hot read path.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

// IsRevoked reports whether a revocation key exists for jti.
func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := s.rdb.Get(ctx, redisKeyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("revocation: redis lookup: %w", err)
	}
	return true, nil
}

// Revoke writes the revocation with a TTL running to the token expiry.
// Already-expired revocations are not written.
func (s *RedisStore) Revoke(ctx context.Context, rev contracts.TokenRevocation) error {
	ttl := rev.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+rev.JTI, rev.Reason, ttl).Err(); err != nil {
		return fmt.Errorf("revocation: redis set: %w", err)
	}
	return nil
}
