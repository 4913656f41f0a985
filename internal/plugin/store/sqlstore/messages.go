package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
)

const messagesTable = "message"

type messageRow struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	MessageID       string    `gorm:"column:message_id"`
	ConversationID  string    `gorm:"column:conversation_id"`
	ParentMessageID *string   `gorm:"column:parent_message_id"`
	Sender          string    `gorm:"column:sender"`
	Text            string    `gorm:"column:text"`
	IsCreatedByUser bool      `gorm:"column:is_created_by_user"`
	IsEdited        bool      `gorm:"column:is_edited"`
	Model           *string   `gorm:"column:model"`
	Error           bool      `gorm:"column:error"`
	Unfinished      bool      `gorm:"column:unfinished"`
	TokenCount      int       `gorm:"column:token_count"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
	Owner           string    `gorm:"column:owner"`
}

func (messageRow) TableName() string { return messagesTable }

func messageToRow(m model.Message) messageRow {
	return messageRow{
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
		Owner:           m.User,
	}
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		MessageID:       r.MessageID,
		ConversationID:  r.ConversationID,
		ParentMessageID: r.ParentMessageID,
		Sender:          r.Sender,
		Text:            r.Text,
		IsCreatedByUser: r.IsCreatedByUser,
		IsEdited:        r.IsEdited,
		Model:           r.Model,
		Error:           r.Error,
		Unfinished:      r.Unfinished,
		TokenCount:      r.TokenCount,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		User:            r.Owner,
	}
}

func (s *SQLStore) InsertMessage(ctx context.Context, msg model.Message) (*model.Message, error) {
	row := messageToRow(msg)
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, registrystore.DuplicateKey("message", msg.MessageID)
		}
		return nil, fmt.Errorf("insert message failed: %w", err)
	}
	out := row.toModel()
	return &out, nil
}

func (s *SQLStore) FindThread(ctx context.Context, owner string, conversationID string) ([]model.Message, error) {
	var rows []messageRow
	err := s.conn(ctx).
		Where("owner = ? AND conversation_id = ?", owner, conversationID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find thread failed: %w", err)
	}
	out := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLStore) findMessage(ctx context.Context, owner, messageID string) (*messageRow, error) {
	var rows []messageRow
	err := s.conn(ctx).Where("owner = ? AND message_id = ?", owner, messageID).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get message failed: %w", err)
	}
	if len(rows) == 0 {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID}
	}
	return &rows[0], nil
}

func (s *SQLStore) GetMessage(ctx context.Context, owner string, messageID string) (*model.Message, error) {
	row, err := s.findMessage(ctx, owner, messageID)
	if err != nil {
		return nil, err
	}
	out := row.toModel()
	return &out, nil
}

func (s *SQLStore) UpdateMessageText(ctx context.Context, owner string, messageID string, text string, tokenCount int, updatedAt time.Time) (*model.Message, error) {
	result := s.conn(ctx).Model(&messageRow{}).
		Where("owner = ? AND message_id = ?", owner, messageID).
		Updates(map[string]any{
			"text":        text,
			"token_count": tokenCount,
			"is_edited":   true,
			"updated_at":  updatedAt.UTC().Truncate(time.Millisecond),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("update message failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID}
	}
	row, err := s.findMessage(ctx, owner, messageID)
	if err != nil {
		return nil, err
	}
	out := row.toModel()
	return &out, nil
}

func (s *SQLStore) DeleteMessage(ctx context.Context, owner string, messageID string) error {
	result := s.conn(ctx).Where("owner = ? AND message_id = ?", owner, messageID).Delete(&messageRow{})
	if result.Error != nil {
		return fmt.Errorf("delete message failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: messageID}
	}
	return nil
}

func (s *SQLStore) ListConversations(ctx context.Context, owner string, page registrystore.Page) ([]model.ConversationSummary, error) {
	var groups []struct {
		ConversationID string
		MessageCount   int
	}
	q := s.conn(ctx).Model(&messageRow{}).
		Select("conversation_id, COUNT(*) AS message_count").
		Where("owner = ?", owner).
		Group("conversation_id").
		Order("MAX(created_at) DESC, conversation_id ASC")
	if err := paged(q, page).Scan(&groups).Error; err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}

	out := make([]model.ConversationSummary, 0, len(groups))
	for _, g := range groups {
		var last []messageRow
		err := s.conn(ctx).
			Where("owner = ? AND conversation_id = ?", owner, g.ConversationID).
			Order("created_at DESC, id DESC").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return nil, fmt.Errorf("list conversations failed: %w", err)
		}
		if len(last) == 0 {
			continue // deleted concurrently
		}
		out = append(out, model.ConversationSummary{
			ConversationID: g.ConversationID,
			LastMessage:    last[0].toModel(),
			MessageCount:   g.MessageCount,
		})
	}
	return out, nil
}
