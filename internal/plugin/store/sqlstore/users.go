package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/keyvalue-service/internal/model"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
)

type userRow struct {
	Username       string    `gorm:"column:username;primaryKey"`
	HashedPassword string    `gorm:"column:hashed_password"`
	UserType       string    `gorm:"column:user_type"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime:false"`
}

func (userRow) TableName() string { return "users" }

func (r userRow) toModel() model.User {
	return model.User{
		Username:       r.Username,
		HashedPassword: r.HashedPassword,
		Type:           model.UserType(r.UserType),
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func (s *SQLStore) CreateUser(ctx context.Context, user model.User) (*model.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	row := userRow{
		Username:       user.Username,
		HashedPassword: user.HashedPassword,
		UserType:       string(user.Type),
		CreatedAt:      user.CreatedAt.UTC().Truncate(time.Millisecond),
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return nil, registrystore.DuplicateKey("user", user.Username)
		}
		return nil, fmt.Errorf("create user failed: %w", err)
	}
	out := row.toModel()
	return &out, nil
}

func (s *SQLStore) GetUser(ctx context.Context, username string) (*model.User, error) {
	var rows []userRow
	if err := s.conn(ctx).Where("username = ?", username).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("get user failed: %w", err)
	}
	if len(rows) == 0 {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: username}
	}
	out := rows[0].toModel()
	return &out, nil
}

func (s *SQLStore) UpdateUserPassword(ctx context.Context, username string, hashedPassword string) (*model.User, error) {
	result := s.conn(ctx).Model(&userRow{}).Where("username = ?", username).Update("hashed_password", hashedPassword)
	if result.Error != nil {
		return nil, fmt.Errorf("update user failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "user", ID: username}
	}
	return s.GetUser(ctx, username)
}

func (s *SQLStore) DeleteUser(ctx context.Context, username string) error {
	result := s.conn(ctx).Where("username = ?", username).Delete(&userRow{})
	if result.Error != nil {
		return fmt.Errorf("delete user failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "user", ID: username}
	}
	return nil
}

func (s *SQLStore) ListUsers(ctx context.Context, page registrystore.Page) ([]model.User, error) {
	var rows []userRow
	if err := paged(s.conn(ctx).Order("username"), page).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list users failed: %w", err)
	}
	out := make([]model.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
