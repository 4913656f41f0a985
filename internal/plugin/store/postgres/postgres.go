package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/keyvalue-service/internal/registry/migrate"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Dialect is the PostgreSQL flavour of sqlstore.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	RegexOperator:     "~",
	IsUniqueViolation: isUniqueViolation,
}

//go:embed db/schema.sql
var schemaSQL string

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			cfg := config.FromContext(ctx)
			db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
			if err != nil {
				return nil, fmt.Errorf("failed to connect to postgres: %w", err)
			}
			return sqlstore.New(ctx, db, Dialect)
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Name: "postgres-schema", Order: 100, Datastore: "postgres", Migrate: migrateSchema})
}

func migrateSchema(ctx context.Context, cfg *config.Config) error {
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
