package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/model"
	registrymigrate "github.com/chirino/keyvalue-service/internal/registry/migrate"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	messagesCollection = "message"
	usersCollection    = "users"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return &MongoStore{
				client: client,
				db:     client.Database(databaseName(cfg)),
			}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Name: "mongo-indexes", Order: 100, Datastore: "mongo", Migrate: migrateIndexes})
}

func databaseName(cfg *config.Config) string {
	if cfg != nil && cfg.DBName != "" {
		return cfg.DBName
	}
	return "key_value_system"
}

// migrateIndexes creates the collections and their indexes. Keys and
// usernames get unique indexes so duplicates are rejected by the server.
func migrateIndexes(ctx context.Context, cfg *config.Config) error {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(databaseName(cfg))

	uniqueKey := mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("unique_key"),
	}
	collections := map[string][]mongo.IndexModel{
		model.KindKeyValue.Collection(): {
			uniqueKey,
			{Keys: bson.D{{Key: "parentKey", Value: 1}}},
		},
		model.KindPrompt.Collection(): {uniqueKey},
		model.KindStrategy.Collection(): {
			uniqueKey,
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "conversationId", Value: 1}}},
		},
		messagesCollection: {
			{
				Keys:    bson.D{{Key: "messageId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_message_id"),
			},
			{Keys: bson.D{{Key: "conversationId", Value: 1}}},
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		usersCollection: {
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_username"),
			},
		},
	}

	for name, indexes := range collections {
		// fails harmlessly when the collection exists
		_ = db.CreateCollection(ctx, name)
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
		}
	}

	return nil
}

// MongoStore implements Store using MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func (s *MongoStore) records(kind model.RecordKind) *mongo.Collection {
	return s.db.Collection(kind.Collection())
}

func (s *MongoStore) messages() *mongo.Collection { return s.db.Collection(messagesCollection) }
func (s *MongoStore) users() *mongo.Collection    { return s.db.Collection(usersCollection) }

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// now returns the current time at the precision MongoDB stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func findPage(page registrystore.Page) *options.FindOptionsBuilder {
	return options.Find().SetSkip(int64(page.Skip)).SetLimit(int64(page.Limit))
}

var _ registrystore.Store = (*MongoStore)(nil)
