// Package teststore opens a throwaway in-memory SQLite store so packages above
// the storage layer can be tested without containers.
package teststore

import (
	"context"
	"testing"

	"github.com/chirino/keyvalue-service/internal/config"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/sqlite"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
)

// Open returns a fresh store and a context carrying cfg. A nil cfg uses
// config.DefaultConfig.
func Open(tb testing.TB, cfg *config.Config) (registrystore.Store, context.Context) {
	tb.Helper()

	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = ":memory:"

	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), cfg))
	tb.Cleanup(cancel)

	loader, err := registrystore.Select("sqlite")
	if err != nil {
		tb.Fatalf("select sqlite store: %v", err)
	}
	store, err := loader(ctx)
	if err != nil {
		tb.Fatalf("open sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close(context.Background()) })
	return store, ctx
}
