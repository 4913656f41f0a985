package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"gorm.io/gorm"
)

// recordRow is shared by the key_values, prompt and strategy tables. Columns a
// kind does not use stay NULL.
type recordRow struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Key            string     `gorm:"column:key"`
	Value          string     `gorm:"column:value"`
	ParentKey      *string    `gorm:"column:parent_key"`
	Status         *string    `gorm:"column:status"`
	Owner          *string    `gorm:"column:owner"`
	ConversationID *string    `gorm:"column:conversation_id"`
	CreatedAt      *time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt      *time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

// recordColumns maps record field names onto table columns.
var recordColumns = map[string]string{
	model.FieldKey:            "key",
	model.FieldValue:          "value",
	model.FieldParentKey:      "parent_key",
	model.FieldStatus:         "status",
	model.FieldUser:           "owner",
	model.FieldConversationID: "conversation_id",
	model.FieldCreatedAt:      "created_at",
	model.FieldUpdatedAt:      "updated_at",
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}

func recordToRow(rec model.Record) recordRow {
	row := recordRow{
		Key:            rec.Key,
		Value:          rec.Value,
		ParentKey:      rec.ParentKey,
		Owner:          rec.User,
		ConversationID: rec.ConversationID,
		CreatedAt:      utcPtr(rec.CreatedAt),
		UpdatedAt:      utcPtr(rec.UpdatedAt),
	}
	if rec.Status != nil {
		s := string(*rec.Status)
		row.Status = &s
	}
	return row
}

func (r recordRow) toModel() model.Record {
	rec := model.Record{
		Key:            r.Key,
		Value:          r.Value,
		ParentKey:      r.ParentKey,
		User:           r.Owner,
		ConversationID: r.ConversationID,
		CreatedAt:      utcPtr(r.CreatedAt),
		UpdatedAt:      utcPtr(r.UpdatedAt),
	}
	if r.Status != nil {
		s := model.StrategyStatus(*r.Status)
		rec.Status = &s
	}
	return rec
}

func (s *SQLStore) CreateRecord(ctx context.Context, kind model.RecordKind, rec model.Record) (*model.Record, error) {
	row := recordToRow(rec)
	if err := s.conn(ctx).Table(kind.Collection()).Create(&row).Error; err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, registrystore.DuplicateKey(string(kind), rec.Key)
		}
		return nil, fmt.Errorf("create %s failed: %w", kind, err)
	}
	out := row.toModel()
	return &out, nil
}

func (s *SQLStore) GetRecord(ctx context.Context, kind model.RecordKind, key string) (*model.Record, error) {
	var rows []recordRow
	if err := s.conn(ctx).Table(kind.Collection()).Where("key = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get %s failed: %w", kind, err)
	}
	if len(rows) == 0 {
		return nil, &registrystore.NotFoundError{Resource: string(kind), ID: key}
	}
	out := rows[0].toModel()
	return &out, nil
}

func (s *SQLStore) UpdateRecord(ctx context.Context, kind model.RecordKind, key string, patch model.RecordPatch) (*model.Record, error) {
	updates := map[string]any{}
	if patch.Value != nil {
		updates["value"] = *patch.Value
	}
	if patch.ParentKey != nil {
		if *patch.ParentKey == "" {
			updates["parent_key"] = nil
		} else {
			updates["parent_key"] = *patch.ParentKey
		}
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.ConversationID != nil {
		updates["conversation_id"] = *patch.ConversationID
	}
	if kind.HasTimestamps() {
		updates["updated_at"] = now()
	}
	if len(updates) == 0 {
		return s.GetRecord(ctx, kind, key)
	}

	result := s.conn(ctx).Table(kind.Collection()).Where("key = ?", key).Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("update %s failed: %w", kind, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: string(kind), ID: key}
	}
	return s.GetRecord(ctx, kind, key)
}

func (s *SQLStore) DeleteRecord(ctx context.Context, kind model.RecordKind, key string) error {
	result := s.conn(ctx).Table(kind.Collection()).Where("key = ?", key).Delete(&recordRow{})
	if result.Error != nil {
		return fmt.Errorf("delete %s failed: %w", kind, result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: string(kind), ID: key}
	}
	return nil
}

func (s *SQLStore) ScanRecords(ctx context.Context, kind model.RecordKind, filter registrystore.Filter, page registrystore.Page) ([]model.Record, error) {
	if err := filter.Validate(kind); err != nil {
		return nil, err
	}
	var rows []recordRow
	if err := s.scope(ctx, kind, filter, page).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %s failed: %w", kind, err)
	}
	out := make([]model.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLStore) ProjectRecords(ctx context.Context, kind model.RecordKind, fields []string, filter registrystore.Filter, page registrystore.Page) ([]map[string]any, error) {
	if err := filter.Validate(kind); err != nil {
		return nil, err
	}
	if err := registrystore.ValidateFields(kind, fields); err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, recordColumns[f])
	}
	var rows []recordRow
	if err := s.scope(ctx, kind, filter, page).Select(columns).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list %s failed: %w", kind, err)
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, registrystore.Project(r.toModel(), fields))
	}
	return out, nil
}

// scope builds the filtered, paged query over a kind's table in storage order.
func (s *SQLStore) scope(ctx context.Context, kind model.RecordKind, filter registrystore.Filter, page registrystore.Page) *gorm.DB {
	q := s.conn(ctx).Table(kind.Collection())
	if p := filter.Prefix; p != nil && p.Value != "" {
		if p.Regex {
			q = q.Where(fmt.Sprintf("key %s ?", s.dialect.RegexOperator), p.Pattern())
		} else {
			q = q.Where(`key LIKE ? ESCAPE '\'`, p.LikePattern())
		}
	}
	switch filter.Parent.Mode {
	case registrystore.ParentRootsOnly:
		q = q.Where("parent_key IS NULL")
	case registrystore.ParentChildrenOf:
		q = q.Where("parent_key = ?", filter.Parent.Key)
	}
	for field, value := range filter.Equals {
		q = q.Where(fmt.Sprintf("%s = ?", recordColumns[field]), value)
	}
	return paged(q.Order("id"), page)
}

func paged(q *gorm.DB, page registrystore.Page) *gorm.DB {
	if page.Skip > 0 {
		q = q.Offset(page.Skip)
	}
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}
	return q
}
