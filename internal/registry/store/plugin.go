package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
)

// DefaultPageLimit is applied when a Page carries no limit.
const DefaultPageLimit = 10

// MaxPageLimit caps the number of records returned by a single page.
const MaxPageLimit = 1000

// Page selects an offset window of a result set.
type Page struct {
	Skip  int
	Limit int
}

// Normalize validates the page and applies the default limit.
func (p Page) Normalize(defaultLimit int) (Page, error) {
	if p.Skip < 0 {
		return p, &ValidationError{Field: "skip", Message: "must not be negative"}
	}
	if p.Limit < 0 {
		return p, &ValidationError{Field: "limit", Message: "must not be negative"}
	}
	if p.Limit == 0 {
		p.Limit = defaultLimit
		if p.Limit <= 0 {
			p.Limit = DefaultPageLimit
		}
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p, nil
}

// RecordStore persists uniquely keyed records of every RecordKind.
type RecordStore interface {
	// CreateRecord inserts rec. It fails with a duplicate-key ConflictError when
	// the key already exists; uniqueness is enforced by the storage engine.
	CreateRecord(ctx context.Context, kind model.RecordKind, rec model.Record) (*model.Record, error)
	GetRecord(ctx context.Context, kind model.RecordKind, key string) (*model.Record, error)
	// UpdateRecord merges the non-nil patch fields and refreshes updated_at for
	// kinds that carry timestamps.
	UpdateRecord(ctx context.Context, kind model.RecordKind, key string, patch model.RecordPatch) (*model.Record, error)
	DeleteRecord(ctx context.Context, kind model.RecordKind, key string) error
	// ScanRecords returns the records matching filter in storage order.
	ScanRecords(ctx context.Context, kind model.RecordKind, filter Filter, page Page) ([]model.Record, error)
	// ProjectRecords is ScanRecords restricted to the given fields.
	ProjectRecords(ctx context.Context, kind model.RecordKind, fields []string, filter Filter, page Page) ([]map[string]any, error)
}

// MessageStore persists conversation messages. Every read and write is scoped
// to the owning user.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg model.Message) (*model.Message, error)
	// FindThread returns the owner's messages of a conversation ordered by
	// created_at ascending, insertion order breaking ties.
	FindThread(ctx context.Context, owner string, conversationID string) ([]model.Message, error)
	GetMessage(ctx context.Context, owner string, messageID string) (*model.Message, error)
	UpdateMessageText(ctx context.Context, owner string, messageID string, text string, tokenCount int, updatedAt time.Time) (*model.Message, error)
	DeleteMessage(ctx context.Context, owner string, messageID string) error
	// ListConversations groups the owner's messages by conversation, newest
	// conversation first.
	ListConversations(ctx context.Context, owner string, page Page) ([]model.ConversationSummary, error)
}

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user model.User) (*model.User, error)
	GetUser(ctx context.Context, username string) (*model.User, error)
	UpdateUserPassword(ctx context.Context, username string, hashedPassword string) (*model.User, error)
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context, page Page) ([]model.User, error)
}

// Store is the full persistence surface of the service.
type Store interface {
	RecordStore
	MessageStore
	UserStore
	Close(ctx context.Context) error
}

// Loader creates a Store from config.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
