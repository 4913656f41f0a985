// Package cache defines the thread cache contract and its plugin registry.
package cache

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
)

// CachedThread holds the ordered messages of one owner's conversation.
type CachedThread struct {
	Messages []model.Message `json:"messages"`
}

// ThreadCache caches conversation threads. Get returns nil, nil on a miss.
// A zero ttl passed to Set means the cache's default.
type ThreadCache interface {
	Available() bool
	Get(ctx context.Context, owner string, conversationID string) (*CachedThread, error)
	Set(ctx context.Context, owner string, conversationID string, thread CachedThread, ttl time.Duration) error
	Remove(ctx context.Context, owner string, conversationID string) error
}

// ThreadKey is the shared-cache key of an owner's conversation thread.
func ThreadKey(owner, conversationID string) string {
	return "kv-thread:" + owner + ":" + conversationID
}

// Loader creates a cache from the config in ctx.
type Loader func(ctx context.Context) (ThreadCache, error)

// Plugin is a named cache implementation.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins = map[string]Plugin{}

// Register adds a cache plugin. Registering a name twice panics.
func Register(p Plugin) {
	if _, dup := plugins[p.Name]; dup {
		panic("cache plugin registered twice: " + p.Name)
	}
	plugins[p.Name] = p
}

// Names returns the registered cache names, sorted.
func Names() []string {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the loader of the named cache.
func Select(name string) (Loader, error) {
	if p, ok := plugins[name]; ok {
		return p.Loader, nil
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
