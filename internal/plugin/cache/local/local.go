// Package local provides an in-process thread cache backed by ristretto.
package local

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/model"
	registrycache "github.com/chirino/keyvalue-service/internal/registry/cache"
	"github.com/dgraph-io/ristretto/v2"
)

const defaultMaxCost = 64 * 1024 * 1024

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrycache.ThreadCache, error) {
			cfg := config.FromContext(ctx)
			maxCost := int64(defaultMaxCost)
			ttl := 10 * time.Minute
			if cfg != nil {
				if cfg.CacheLocalMaxCost > 0 {
					maxCost = cfg.CacheLocalMaxCost
				}
				if cfg.CacheThreadTTL > 0 {
					ttl = cfg.CacheThreadTTL
				}
			}
			return New(maxCost, ttl)
		},
	})
}

// New creates a cache holding up to maxCost bytes of message text.
func New(maxCost int64, ttl time.Duration) (*ThreadCache, error) {
	counters := 10 * (maxCost / 1024)
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []model.Message]{
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("local cache: %w", err)
	}
	return &ThreadCache{cache: c, ttl: ttl}, nil
}

// ThreadCache is a ristretto-backed registrycache.ThreadCache.
type ThreadCache struct {
	cache *ristretto.Cache[string, []model.Message]
	ttl   time.Duration
}

func (c *ThreadCache) Available() bool { return true }

func (c *ThreadCache) Get(_ context.Context, owner string, conversationID string) (*registrycache.CachedThread, error) {
	msgs, ok := c.cache.Get(registrycache.ThreadKey(owner, conversationID))
	if !ok {
		return nil, nil
	}
	// copy so callers cannot mutate the cached slice
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return &registrycache.CachedThread{Messages: out}, nil
}

func (c *ThreadCache) Set(_ context.Context, owner string, conversationID string, thread registrycache.CachedThread, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	msgs := make([]model.Message, len(thread.Messages))
	copy(msgs, thread.Messages)
	c.cache.SetWithTTL(registrycache.ThreadKey(owner, conversationID), msgs, cost(msgs), ttl)
	c.cache.Wait()
	return nil
}

func (c *ThreadCache) Remove(_ context.Context, owner string, conversationID string) error {
	c.cache.Del(registrycache.ThreadKey(owner, conversationID))
	return nil
}

// Close stops the cache's background goroutines.
func (c *ThreadCache) Close() {
	c.cache.Close()
}

func cost(msgs []model.Message) int64 {
	n := int64(64)
	for _, m := range msgs {
		n += int64(len(m.Text)+len(m.MessageID)+len(m.ConversationID)+len(m.Sender)) + 128
	}
	return n
}

var _ registrycache.ThreadCache = (*ThreadCache)(nil)
