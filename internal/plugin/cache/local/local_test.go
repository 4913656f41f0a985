package local_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
	"github.com/chirino/keyvalue-service/internal/plugin/cache/local"
	registrycache "github.com/chirino/keyvalue-service/internal/registry/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalThreadCache(t *testing.T) {
	c, err := local.New(1<<20, time.Minute)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	ctx := context.Background()

	got, err := c.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Nil(t, got)

	thread := registrycache.CachedThread{Messages: []model.Message{{MessageID: "m1", Text: "hi"}}}
	require.NoError(t, c.Set(ctx, "alice", "c1", thread, 0))

	got, err = c.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "m1", got.Messages[0].MessageID)

	// owners do not share entries
	other, err := c.Get(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, c.Remove(ctx, "alice", "c1"))
	got, err = c.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSelectLocal(t *testing.T) {
	loader, err := registrycache.Select("local")
	require.NoError(t, err)
	c, err := loader(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Available())
}
