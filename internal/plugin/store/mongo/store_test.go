package mongo_test

import (
	"context"
	"testing"

	"github.com/chirino/keyvalue-service/internal/config"
	_ "github.com/chirino/keyvalue-service/internal/plugin/store/mongo"
	registrymigrate "github.com/chirino/keyvalue-service/internal/registry/migrate"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/testutil/containers"
	"github.com/chirino/keyvalue-service/internal/testutil/storetest"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.Store, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DBURL = containers.Mongo(t)
	cfg.DatastoreType = "mongo"
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("mongo")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store, ctx
}

func TestMongoStore(t *testing.T) {
	store, ctx := setupTestStore(t)
	storetest.Run(t, ctx, store)
}
