package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ValkeyCache implements Cache against Valkey/Redis. Entries are short-lived by design — this is an optimization
// over the chat gateway, never the membership source of truth.
type ValkeyCache struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewValkeyCache builds a ValkeyCache.
func NewValkeyCache(client *redis.Client, logger zerolog.Logger) *ValkeyCache {
	return &ValkeyCache{client: client, log: logger}
}

func cacheKey(userID int64, channelHandle string) string {
	return fmt.Sprintf("membership:%d:%s", userID, channelHandle)
}

// Get returns the cached status for (userID, channelHandle), if present and unexpired.
func (c *ValkeyCache) Get(ctx context.Context, userID int64, channelHandle string) (Status, bool) {
	v, err := c.client.Get(ctx, cacheKey(userID, channelHandle)).Result()
	if err != nil {
		return "", false
	}
	return Status(v), true
}

// Set stores status for (userID, channelHandle) with the given TTL.
func (c *ValkeyCache) Set(ctx context.Context, userID int64, channelHandle string, status Status, ttl time.Duration) {
	if err := c.client.Set(ctx, cacheKey(userID, channelHandle), string(status), ttl).Err(); err != nil {
		c.log.Warn().Err(err).Int64("user_id", userID).Str("channel", channelHandle).Msg("failed to cache membership status")
	}
}

// Invalidate removes the cached entry for (userID, channelHandle). Nothing in this module calls it; a cached verdict
// otherwise lives until its TTL runs out.
func (c *ValkeyCache) Invalidate(ctx context.Context, userID int64, channelHandle string) error {
	return c.client.Del(ctx, cacheKey(userID, channelHandle)).Err()
}
