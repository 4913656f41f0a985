// Package noop registers the "none" cache, which never stores anything.
package noop

import (
	"context"
	"time"

	"github.com/chirino/keyvalue-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name:   "none",
		Loader: func(context.Context) (cache.ThreadCache, error) { return Cache{}, nil },
	})
}

// Cache reports itself unavailable, so callers skip it entirely.
type Cache struct{}

func (Cache) Available() bool { return false }

func (Cache) Get(context.Context, string, string) (*cache.CachedThread, error) { return nil, nil }

func (Cache) Set(context.Context, string, string, cache.CachedThread, time.Duration) error {
	return nil
}

func (Cache) Remove(context.Context, string, string) error { return nil }
