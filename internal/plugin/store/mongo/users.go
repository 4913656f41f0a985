package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type userDoc struct {
	Username       string    `bson:"username"`
	HashedPassword string    `bson:"hashed_password"`
	Type           string    `bson:"user_type"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (d userDoc) toModel() model.User {
	return model.User{
		Username:       d.Username,
		HashedPassword: d.HashedPassword,
		Type:           model.UserType(d.Type),
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

func (s *MongoStore) CreateUser(ctx context.Context, user model.User) (*model.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	doc := userDoc{
		Username:       user.Username,
		HashedPassword: user.HashedPassword,
		Type:           string(user.Type),
		CreatedAt:      user.CreatedAt.UTC().Truncate(time.Millisecond),
	}
	if _, err := s.users().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, registrystore.DuplicateKey("user", user.Username)
		}
		return nil, fmt.Errorf("create user failed: %w", err)
	}
	out := doc.toModel()
	return &out, nil
}

func (s *MongoStore) GetUser(ctx context.Context, username string) (*model.User, error) {
	var doc userDoc
	err := s.users().FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: username}
	}
	if err != nil {
		return nil, fmt.Errorf("get user failed: %w", err)
	}
	out := doc.toModel()
	return &out, nil
}

func (s *MongoStore) UpdateUserPassword(ctx context.Context, username string, hashedPassword string) (*model.User, error) {
	var doc userDoc
	err := s.users().FindOneAndUpdate(ctx,
		bson.M{"username": username},
		bson.M{"$set": bson.M{"hashed_password": hashedPassword}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: username}
	}
	if err != nil {
		return nil, fmt.Errorf("update user failed: %w", err)
	}
	out := doc.toModel()
	return &out, nil
}

func (s *MongoStore) DeleteUser(ctx context.Context, username string) error {
	result, err := s.users().DeleteOne(ctx, bson.M{"username": username})
	if err != nil {
		return fmt.Errorf("delete user failed: %w", err)
	}
	if result.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "user", ID: username}
	}
	return nil
}

func (s *MongoStore) ListUsers(ctx context.Context, page registrystore.Page) ([]model.User, error) {
	opts := findPage(page).SetSort(bson.D{{Key: "username", Value: 1}})
	cursor, err := s.users().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list users failed: %w", err)
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users failed: %w", err)
	}
	out := make([]model.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}
