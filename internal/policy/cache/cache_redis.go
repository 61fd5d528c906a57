// Package cache provides a Redis read cache for the latest-active-policy
// lookup, the one read on every consent grant path. Entries are TTL-bound and
// invalidated on any write to the group, so staleness is bounded twice over.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"consentd/internal/policy"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func key(groupID string) string {
	return "policy:active:" + groupID
}

// GetLatestActive returns the cached active policy for the group.
// The second return is false on a miss; errors are real Redis failures.
func (c *RedisCache) GetLatestActive(ctx context.Context, groupID string) (*policy.Policy, bool, error) {
	payload, err := c.client.Get(ctx, key(groupID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached policy: %w", err)
	}
	var p policy.Policy
	if err := json.Unmarshal(payload, &p); err != nil {
		// A corrupt entry is a miss; the caller refills it.
		return nil, false, nil
	}
	return &p, true, nil
}

// SetLatestActive caches the active policy for its group.
func (c *RedisCache) SetLatestActive(ctx context.Context, p *policy.Policy) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal cached policy: %w", err)
	}
	if err := c.client.Set(ctx, key(p.GroupID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached policy: %w", err)
	}
	return nil
}

// Invalidate drops the cached entry for a group.
func (c *RedisCache) Invalidate(ctx context.Context, groupID string) error {
	if err := c.client.Del(ctx, key(groupID)).Err(); err != nil {
		return fmt.Errorf("invalidate cached policy: %w", err)
	}
	return nil
}
