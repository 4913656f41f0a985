package postgres_test

import (
	"context"
	"testing"

	"github.com/chirino/keyvalue-service/internal/config"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/postgres"
	registrymigrate "github.com/chirino/keyvalue-service/internal/registry/migrate"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/testutil/containers"
	"github.com/chirino/keyvalue-service/internal/testutil/storetest"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.Store, context.Context) {
	t.Helper()

	dbURL := containers.Postgres(t)

	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	cfg.DatastoreType = "postgres"
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	// Run migrations
	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	return store, ctx
}

func TestPostgresStore(t *testing.T) {
	store, ctx := setupTestStore(t)
	storetest.Run(t, ctx, store)
}

func TestMigrationIsIdempotent(t *testing.T) {
	dbURL := containers.Postgres(t)
	cfg := config.DefaultConfig()
	cfg.DBURL = dbURL
	cfg.DatastoreType = "postgres"
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))
	require.NoError(t, registrymigrate.RunAll(ctx))
}
