// Package infinispan caches threads in Infinispan through its RESP
// connector, sharing the redis plugin's implementation.
package infinispan

import (
	"context"
	"errors"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/plugin/cache/redis"
	registrycache "github.com/chirino/keyvalue-service/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

func init() {
	registrycache.Register(registrycache.Plugin{Name: "infinispan", Loader: load})
}

func load(ctx context.Context) (registrycache.ThreadCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.InfinispanHost == "" {
		return nil, errors.New("infinispan cache: KEYVALUE_SERVICE_INFINISPAN_HOST is required")
	}
	if cfg.InfinispanStartupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.InfinispanStartupTimeout)
		defer cancel()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.InfinispanHost,
		Username: cfg.InfinispanUsername,
		Password: cfg.InfinispanPassword,
		// the connector rejects the RESP3 HELLO handshake
		Protocol: 2,
	})
	return redis.Connect(ctx, client, cfg.CacheThreadTTL)
}
