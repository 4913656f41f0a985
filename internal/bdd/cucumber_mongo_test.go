package bdd

import (
	"testing"

	"github.com/chirino/keyvalue-service/internal/testutil/containers"
)

func TestFeaturesMongo(t *testing.T) {
	mongoURL := containers.Mongo(t)
	redisURL := containers.Redis(t)
	openai := NewMockOpenAI(t)

	cfg := baseConfig(openai)
	cfg.DatastoreType = "mongo"
	cfg.DBURL = mongoURL
	cfg.CacheType = "redis"
	cfg.RedisURL = redisURL

	runFeatures(t, &cfg, &MongoTestDB{DBURL: mongoURL, DBName: cfg.DBName}, openai, nil)
}
