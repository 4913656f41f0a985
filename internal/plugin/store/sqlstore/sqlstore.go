// Package sqlstore implements the Store contract on top of GORM. The postgres
// and sqlite plugins open a *gorm.DB and hand it to New with their Dialect.
package sqlstore

import (
	"context"
	"time"

	"github.com/chirino/keyvalue-service/internal/config"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/chirino/keyvalue-service/internal/security"
	"gorm.io/gorm"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Name string
	// RegexOperator is the infix operator matching a column against a pattern.
	RegexOperator string
	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(err error) bool
}

// SQLStore implements Store using GORM.
type SQLStore struct {
	db      *gorm.DB
	dialect Dialect
}

// New wraps db. The pool gauges are refreshed until ctx is done.
func New(ctx context.Context, db *gorm.DB, dialect Dialect) (*SQLStore, error) {
	cfg := config.FromContext(ctx)
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg != nil && cfg.DBMaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
		security.SetDBPool(-1, cfg.DBMaxOpenConns)
	}

	// Periodically update the open connections gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				security.SetDBPool(sqlDB.Stats().OpenConnections, -1)
			}
		}
	}()

	return &SQLStore{db: db, dialect: dialect}, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

var _ registrystore.Store = (*SQLStore)(nil)
