package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/model"
	"github.com/chirino/keyvalue-service/internal/plugin/cache/redis"
	registrycache "github.com/chirino/keyvalue-service/internal/registry/cache"
	"github.com/chirino/keyvalue-service/internal/testutil/containers"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisThreadCache(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RedisURL = containers.Redis(t)
	ctx := config.WithContext(context.Background(), &cfg)

	loader, err := registrycache.Select("redis")
	require.NoError(t, err)
	c, err := loader(ctx)
	require.NoError(t, err)
	require.True(t, c.Available())

	got, err := c.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Nil(t, got)

	created := time.Now().UTC().Truncate(time.Millisecond)
	thread := registrycache.CachedThread{Messages: []model.Message{
		{MessageID: "m1", ConversationID: "c1", Text: "hi", IsCreatedByUser: true, CreatedAt: created, UpdatedAt: created},
	}}
	require.NoError(t, c.Set(ctx, "alice", "c1", thread, time.Minute))

	got, err = c.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Messages, 1)
	assert.True(t, got.Messages[0].CreatedAt.Equal(created))

	require.NoError(t, c.Remove(ctx, "alice", "c1"))
	got, err = c.Get(ctx, "alice", "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisRequiresURL(t *testing.T) {
	cfg := config.DefaultConfig()
	ctx := config.WithContext(context.Background(), &cfg)
	loader, err := registrycache.Select("redis")
	require.NoError(t, err)
	_, err = loader(ctx)
	require.Error(t, err)
}

func TestRedisDropsUndecodableEntries(t *testing.T) {
	ctx := context.Background()
	opts, err := goredis.ParseURL(containers.Redis(t))
	require.NoError(t, err)

	c, err := redis.Connect(ctx, goredis.NewClient(opts), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	raw := goredis.NewClient(opts)
	t.Cleanup(func() { _ = raw.Close() })
	key := registrycache.ThreadKey("alice", "broken")
	require.NoError(t, raw.Set(ctx, key, "not json", time.Minute).Err())

	got, err := c.Get(ctx, "alice", "broken")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := raw.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := redis.Connect(ctx, goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}), 0)
	require.Error(t, err)
}
