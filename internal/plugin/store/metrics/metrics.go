package metrics

import (
	"context"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
	"github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
)

// Wrap returns a Store that records StoreLatency for every operation.
func Wrap(inner store.Store) store.Store {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.Store
}

func observe(op string, start time.Time) {
	security.ObserveStore(op, start)
}

func (m *metricsStore) CreateRecord(ctx context.Context, kind model.RecordKind, rec model.Record) (*model.Record, error) {
	defer observe("create_"+string(kind), time.Now())
	return m.inner.CreateRecord(ctx, kind, rec)
}

func (m *metricsStore) GetRecord(ctx context.Context, kind model.RecordKind, key string) (*model.Record, error) {
	defer observe("get_"+string(kind), time.Now())
	return m.inner.GetRecord(ctx, kind, key)
}

func (m *metricsStore) UpdateRecord(ctx context.Context, kind model.RecordKind, key string, patch model.RecordPatch) (*model.Record, error) {
	defer observe("update_"+string(kind), time.Now())
	return m.inner.UpdateRecord(ctx, kind, key, patch)
}

func (m *metricsStore) DeleteRecord(ctx context.Context, kind model.RecordKind, key string) error {
	defer observe("delete_"+string(kind), time.Now())
	return m.inner.DeleteRecord(ctx, kind, key)
}

func (m *metricsStore) ScanRecords(ctx context.Context, kind model.RecordKind, filter store.Filter, page store.Page) ([]model.Record, error) {
	defer observe("scan_"+string(kind), time.Now())
	return m.inner.ScanRecords(ctx, kind, filter, page)
}

func (m *metricsStore) ProjectRecords(ctx context.Context, kind model.RecordKind, fields []string, filter store.Filter, page store.Page) ([]map[string]any, error) {
	defer observe("project_"+string(kind), time.Now())
	return m.inner.ProjectRecords(ctx, kind, fields, filter, page)
}

func (m *metricsStore) InsertMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	defer observe("insert_message", time.Now())
	return m.inner.InsertMessage(ctx, msg)
}

func (m *metricsStore) FindThread(ctx context.Context, owner string, conversationID string) ([]model.Message, error) {
	defer observe("find_thread", time.Now())
	return m.inner.FindThread(ctx, owner, conversationID)
}

func (m *metricsStore) GetMessage(ctx context.Context, owner string, messageID string) (*model.Message, error) {
	defer observe("get_message", time.Now())
	return m.inner.GetMessage(ctx, owner, messageID)
}

func (m *metricsStore) UpdateMessageText(ctx context.Context, owner string, messageID string, text string, tokenCount int, updatedAt time.Time) (*model.Message, error) {
	defer observe("update_message", time.Now())
	return m.inner.UpdateMessageText(ctx, owner, messageID, text, tokenCount, updatedAt)
}

func (m *metricsStore) DeleteMessage(ctx context.Context, owner string, messageID string) error {
	defer observe("delete_message", time.Now())
	return m.inner.DeleteMessage(ctx, owner, messageID)
}

func (m *metricsStore) ListConversations(ctx context.Context, owner string, page store.Page) ([]model.ConversationSummary, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, owner, page)
}

func (m *metricsStore) CreateUser(ctx context.Context, user model.User) (*model.User, error) {
	defer observe("create_user", time.Now())
	return m.inner.CreateUser(ctx, user)
}

func (m *metricsStore) GetUser(ctx context.Context, username string) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, username)
}

func (m *metricsStore) UpdateUserPassword(ctx context.Context, username string, hashedPassword string) (*model.User, error) {
	defer observe("update_user", time.Now())
	return m.inner.UpdateUserPassword(ctx, username, hashedPassword)
}

func (m *metricsStore) DeleteUser(ctx context.Context, username string) error {
	defer observe("delete_user", time.Now())
	return m.inner.DeleteUser(ctx, username)
}

func (m *metricsStore) ListUsers(ctx context.Context, page store.Page) ([]model.User, error) {
	defer observe("list_users", time.Now())
	return m.inner.ListUsers(ctx, page)
}

func (m *metricsStore) Close(ctx context.Context) error {
	return m.inner.Close(ctx)
}
