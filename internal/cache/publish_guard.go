// Package cache holds the Redis-backed helpers used around the engine.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"adalerts/internal/notifications/core"
	"adalerts/internal/types"
)

// redisClient is the subset of *redis.Client used here.
type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

var _ redisClient = (*redis.Client)(nil)
var _ core.PublishGuard = (*PublishGuard)(nil)

// PublishGuard marks an ad as processed for a TTL so duplicate publish
// events within that window skip the match run.
type PublishGuard struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewPublishGuard creates a guard storing keys as prefix+adID.
func NewPublishGuard(client redisClient, prefix string, ttl time.Duration) *PublishGuard {
	return &PublishGuard{client: client, prefix: prefix, ttl: ttl}
}

// NewClient opens a Redis client from an address, password and DB index.
func NewClient(addr string, password types.SecretString, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password.Unmask(),
		DB:       db,
	})
}

func (g *PublishGuard) key(adID int64) string {
	return g.prefix + strconv.FormatInt(adID, 10)
}

// Acquire sets the marker if absent. It returns false when the marker
// already exists.
func (g *PublishGuard) Acquire(ctx context.Context, adID int64) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(adID), "1", g.ttl).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalCache, "failed to set publish guard", err)
	}
	return ok, nil
}

// Release deletes the marker.
func (g *PublishGuard) Release(ctx context.Context, adID int64) error {
	if err := g.client.Del(ctx, g.key(adID)).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalCache, "failed to release publish guard", err)
	}
	return nil
}

// Ping reports whether Redis is reachable. Used by the health endpoint.
func (g *PublishGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
