// Package redis caches conversation threads as JSON strings in Redis or any
// server speaking the Redis protocol.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/keyvalue-service/internal/config"
	registrycache "github.com/chirino/keyvalue-service/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultTTL applies when neither the caller nor the config sets one.
const DefaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "redis",
		Loader: func(ctx context.Context) (registrycache.ThreadCache, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.RedisURL == "" {
				return nil, errors.New("redis cache: KEYVALUE_SERVICE_REDIS_HOSTS is required")
			}
			opts, err := goredis.ParseURL(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
			}
			return Connect(ctx, goredis.NewClient(opts), cfg.CacheThreadTTL)
		},
	})
}

// Cache is a registrycache.ThreadCache over a go-redis client.
type Cache struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

// Connect pings client and wraps it. The client is closed when the ping
// fails.
func Connect(ctx context.Context, client goredis.UniversalClient, ttl time.Duration) (*Cache, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

func (c *Cache) Available() bool { return true }

// Get returns the cached thread. An entry that no longer decodes is
// dropped and reported as a miss.
func (c *Cache) Get(ctx context.Context, owner string, conversationID string) (*registrycache.CachedThread, error) {
	key := registrycache.ThreadKey(owner, conversationID)
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, nil
	case err != nil:
		return nil, err
	}
	var thread registrycache.CachedThread
	if err := json.Unmarshal(data, &thread); err != nil {
		log.Warn("Dropping undecodable cached thread", "key", key, "err", err)
		_ = c.client.Del(ctx, key).Err()
		return nil, nil
	}
	return &thread, nil
}

func (c *Cache) Set(ctx context.Context, owner string, conversationID string, thread registrycache.CachedThread, ttl time.Duration) error {
	data, err := json.Marshal(thread)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, registrycache.ThreadKey(owner, conversationID), data, ttl).Err()
}

func (c *Cache) Remove(ctx context.Context, owner string, conversationID string) error {
	return c.client.Del(ctx, registrycache.ThreadKey(owner, conversationID)).Err()
}

// Close releases the client.
func (c *Cache) Close() error { return c.client.Close() }

var _ registrycache.ThreadCache = (*Cache)(nil)
