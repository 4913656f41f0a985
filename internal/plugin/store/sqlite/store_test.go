package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/plugin/store/sqlite"
	registrymigrate "github.com/chirino/keyvalue-service/internal/registry/migrate"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/testutil/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = "file:" + filepath.Join(t.TempDir(), "store.db")
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	storetest.Run(t, ctx, store)
}

func TestSQLiteInMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = ":memory:"
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	storetest.Run(t, ctx, store)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_cslike=true&_busy_timeout=5000", sqlite.DSN(":memory:"))
	assert.Equal(t, "file:x.db?mode=rwc&_cslike=true&_busy_timeout=5000", sqlite.DSN("file:x.db?mode=rwc"))
	assert.Equal(t, "file:keyvalue.db?_cslike=true&_busy_timeout=5000", sqlite.DSN(""))
}
