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

type recordDoc struct {
	ID             bson.ObjectID `bson:"_id,omitempty"`
	Key            string        `bson:"key"`
	Value          string        `bson:"value"`
	ParentKey      *string       `bson:"parentKey,omitempty"`
	Status         *string       `bson:"status,omitempty"`
	User           *string       `bson:"user,omitempty"`
	ConversationID *string       `bson:"conversationId,omitempty"`
	CreatedAt      *time.Time    `bson:"created_at,omitempty"`
	UpdatedAt      *time.Time    `bson:"updated_at,omitempty"`
}

func recordToDoc(rec model.Record) recordDoc {
	doc := recordDoc{
		Key:            rec.Key,
		Value:          rec.Value,
		ParentKey:      rec.ParentKey,
		User:           rec.User,
		ConversationID: rec.ConversationID,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if rec.Status != nil {
		s := string(*rec.Status)
		doc.Status = &s
	}
	return doc
}

func (d recordDoc) toModel() model.Record {
	rec := model.Record{
		Key:            d.Key,
		Value:          d.Value,
		ParentKey:      d.ParentKey,
		User:           d.User,
		ConversationID: d.ConversationID,
	}
	if d.Status != nil {
		s := model.StrategyStatus(*d.Status)
		rec.Status = &s
	}
	if d.CreatedAt != nil {
		t := d.CreatedAt.UTC()
		rec.CreatedAt = &t
	}
	if d.UpdatedAt != nil {
		t := d.UpdatedAt.UTC()
		rec.UpdatedAt = &t
	}
	return rec
}

func (s *MongoStore) CreateRecord(ctx context.Context, kind model.RecordKind, rec model.Record) (*model.Record, error) {
	doc := recordToDoc(rec)
	res, err := s.records(kind).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, registrystore.DuplicateKey(string(kind), rec.Key)
		}
		return nil, fmt.Errorf("create %s failed: %w", kind, err)
	}
	if id, ok := res.InsertedID.(bson.ObjectID); ok {
		doc.ID = id
	}
	out := doc.toModel()
	return &out, nil
}

func (s *MongoStore) GetRecord(ctx context.Context, kind model.RecordKind, key string) (*model.Record, error) {
	var doc recordDoc
	err := s.records(kind).FindOne(ctx, bson.M{"key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: string(kind), ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s failed: %w", kind, err)
	}
	out := doc.toModel()
	return &out, nil
}

func (s *MongoStore) UpdateRecord(ctx context.Context, kind model.RecordKind, key string, patch model.RecordPatch) (*model.Record, error) {
	set := bson.M{}
	unset := bson.M{}
	if patch.Value != nil {
		set["value"] = *patch.Value
	}
	if patch.ParentKey != nil {
		if *patch.ParentKey == "" {
			unset["parentKey"] = ""
		} else {
			set["parentKey"] = *patch.ParentKey
		}
	}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}
	if patch.ConversationID != nil {
		set["conversationId"] = *patch.ConversationID
	}
	if kind.HasTimestamps() {
		set["updated_at"] = now()
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(update) == 0 {
		return s.GetRecord(ctx, kind, key)
	}

	var doc recordDoc
	err := s.records(kind).FindOneAndUpdate(ctx, bson.M{"key": key}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: string(kind), ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("update %s failed: %w", kind, err)
	}
	out := doc.toModel()
	return &out, nil
}

func (s *MongoStore) DeleteRecord(ctx context.Context, kind model.RecordKind, key string) error {
	result, err := s.records(kind).DeleteOne(ctx, bson.M{"key": key})
	if err != nil {
		return fmt.Errorf("delete %s failed: %w", kind, err)
	}
	if result.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: string(kind), ID: key}
	}
	return nil
}

func (s *MongoStore) ScanRecords(ctx context.Context, kind model.RecordKind, filter registrystore.Filter, page registrystore.Page) ([]model.Record, error) {
	if err := filter.Validate(kind); err != nil {
		return nil, err
	}
	opts := findPage(page).SetSort(bson.D{{Key: "_id", Value: 1}})
	docs, err := s.findRecords(ctx, kind, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (s *MongoStore) ProjectRecords(ctx context.Context, kind model.RecordKind, fields []string, filter registrystore.Filter, page registrystore.Page) ([]map[string]any, error) {
	if err := filter.Validate(kind); err != nil {
		return nil, err
	}
	if err := registrystore.ValidateFields(kind, fields); err != nil {
		return nil, err
	}
	projection := bson.D{{Key: "_id", Value: 0}}
	for _, f := range fields {
		projection = append(projection, bson.E{Key: f, Value: 1})
	}
	opts := findPage(page).SetSort(bson.D{{Key: "_id", Value: 1}}).SetProjection(projection)
	docs, err := s.findRecords(ctx, kind, filter, opts)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, registrystore.Project(d.toModel(), fields))
	}
	return out, nil
}

func (s *MongoStore) findRecords(ctx context.Context, kind model.RecordKind, filter registrystore.Filter, opts *options.FindOptionsBuilder) ([]recordDoc, error) {
	cursor, err := s.records(kind).Find(ctx, recordQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("list %s failed: %w", kind, err)
	}
	var docs []recordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode %s failed: %w", kind, err)
	}
	return docs, nil
}

// recordQuery translates a Filter into a MongoDB query document.
func recordQuery(filter registrystore.Filter) bson.M {
	q := bson.M{}
	if filter.Prefix != nil && filter.Prefix.Value != "" {
		q["key"] = bson.M{"$regex": bson.Regex{Pattern: filter.Prefix.Pattern()}}
	}
	switch filter.Parent.Mode {
	case registrystore.ParentRootsOnly:
		// null also matches documents without the field
		q["parentKey"] = nil
	case registrystore.ParentChildrenOf:
		q["parentKey"] = filter.Parent.Key
	}
	for field, value := range filter.Equals {
		q[field] = value
	}
	return q
}
