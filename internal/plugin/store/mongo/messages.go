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

type messageDoc struct {
	ID              bson.ObjectID `bson:"_id,omitempty"`
	MessageID       string        `bson:"messageId"`
	ConversationID  string        `bson:"conversationId"`
	ParentMessageID *string       `bson:"parentMessageId,omitempty"`
	Sender          string        `bson:"sender"`
	Text            string        `bson:"text"`
	IsCreatedByUser bool          `bson:"isCreatedByUser"`
	IsEdited        bool          `bson:"isEdited"`
	Model           *string       `bson:"model,omitempty"`
	Error           bool          `bson:"error"`
	Unfinished      bool          `bson:"unfinished"`
	TokenCount      int           `bson:"tokenCount"`
	CreatedAt       time.Time     `bson:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at"`
	User            string        `bson:"user"`
}

func messageToDoc(m model.Message) messageDoc {
	return messageDoc{
		MessageID:       m.MessageID,
		ConversationID:  m.ConversationID,
		ParentMessageID: m.ParentMessageID,
		Sender:          m.Sender,
		Text:            m.Text,
		IsCreatedByUser: m.IsCreatedByUser,
		IsEdited:        m.IsEdited,
		Model:           m.Model,
		Error:           m.Error,
		Unfinished:      m.Unfinished,
		TokenCount:      m.TokenCount,
		CreatedAt:       m.CreatedAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:       m.UpdatedAt.UTC().Truncate(time.Millisecond),
		User:            m.User,
	}
}

func (d messageDoc) toModel() model.Message {
	return model.Message{
		MessageID:       d.MessageID,
		ConversationID:  d.ConversationID,
		ParentMessageID: d.ParentMessageID,
		Sender:          d.Sender,
		Text:            d.Text,
		IsCreatedByUser: d.IsCreatedByUser,
		IsEdited:        d.IsEdited,
		Model:           d.Model,
		Error:           d.Error,
		Unfinished:      d.Unfinished,
		TokenCount:      d.TokenCount,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
		User:            d.User,
	}
}

func (s *MongoStore) InsertMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	doc := messageToDoc(msg)
	if _, err := s.messages().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, registrystore.DuplicateKey("message", msg.MessageID)
		}
		return nil, fmt.Errorf("insert message failed: %w", err)
	}
	out := doc.toModel()
	return &out, nil
}

func (s *MongoStore) FindThread(ctx context.Context, owner string, conversationID string) ([]model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.messages().Find(ctx, bson.M{"user": owner, "conversationId": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find thread failed: %w", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode thread failed: %w", err)
	}
	out := make([]model.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (s *MongoStore) GetMessage(ctx context.Context, owner string, messageID string) (*model.Message, error) {
	var doc messageDoc
	err := s.messages().FindOne(ctx, bson.M{"user": owner, "messageId": messageID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID}
	}
	if err != nil {
		return nil, fmt.Errorf("get message failed: %w", err)
	}
	out := doc.toModel()
	return &out, nil
}

func (s *MongoStore) UpdateMessageText(ctx context.Context, owner string, messageID string, text string, tokenCount int, updatedAt time.Time) (*model.Message, error) {
	update := bson.M{"$set": bson.M{
		"text":       text,
		"tokenCount": tokenCount,
		"isEdited":   true,
		"updated_at": updatedAt.UTC().Truncate(time.Millisecond),
	}}
	var doc messageDoc
	err := s.messages().FindOneAndUpdate(ctx, bson.M{"user": owner, "messageId": messageID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID}
	}
	if err != nil {
		return nil, fmt.Errorf("update message failed: %w", err)
	}
	out := doc.toModel()
	return &out, nil
}

func (s *MongoStore) DeleteMessage(ctx context.Context, owner string, messageID string) error {
	result, err := s.messages().DeleteOne(ctx, bson.M{"user": owner, "messageId": messageID})
	if err != nil {
		return fmt.Errorf("delete message failed: %w", err)
	}
	if result.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: messageID}
	}
	return nil
}

func (s *MongoStore) ListConversations(ctx context.Context, owner string, page registrystore.Page) ([]model.ConversationSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user": owner}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$conversationId"},
			{Key: "lastMessage", Value: bson.M{"$first": "$$ROOT"}},
			{Key: "messageCount", Value: bson.M{"$sum": 1}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "lastMessage.created_at", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$skip", Value: int64(page.Skip)}},
		{{Key: "$limit", Value: int64(page.Limit)}},
	}
	cursor, err := s.messages().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	var rows []struct {
		ConversationID string     `bson:"_id"`
		LastMessage    messageDoc `bson:"lastMessage"`
		MessageCount   int        `bson:"messageCount"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode conversations failed: %w", err)
	}
	out := make([]model.ConversationSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ConversationSummary{
			ConversationID: r.ConversationID,
			LastMessage:    r.LastMessage.toModel(),
			MessageCount:   r.MessageCount,
		})
	}
	return out, nil
}
