// Package sqlite registers an embedded SQLite store for single-node
// deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/chirino/keyvalue-service/internal/plugin/store/sqlstore"
	registrymigrate "github.com/chirino/keyvalue-service/internal/registry/migrate"
	registrystore "github.com/chirino/keyvalue-service/internal/registry/store"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// driverName is the database/sql driver with the REGEXP function installed.
const driverName = "sqlite3_keyvalue"

// Dialect is the SQLite flavour of sqlstore.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite",
	RegexOperator:     "REGEXP",
	IsUniqueViolation: isUniqueViolation,
}

var patterns *ristretto.Cache[string, *regexp.Regexp]

//go:embed db/schema.sql
var schemaSQL string

func init() {
	var err error
	patterns, err = ristretto.NewCache(&ristretto.Config[string, *regexp.Regexp]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		panic(fmt.Sprintf("sqlite: pattern cache: %v", err))
	}

	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", matchRegexp, true)
		},
	})

	registrystore.Register(registrystore.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registrystore.Store, error) {
			cfg := config.FromContext(ctx)
			dsn := DSN(cfg.DBURL)
			db, err := open(dsn)
			if err != nil {
				return nil, fmt.Errorf("failed to open sqlite: %w", err)
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			// A single connection serialises writers and keeps an in-memory
			// database alive for the lifetime of the store.
			sqlDB.SetMaxOpenConns(1)
			if isMemory(dsn) {
				if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
					return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
				}
			}
			local := *cfg
			local.DBMaxOpenConns = 0
			return sqlstore.New(config.WithContext(ctx, &local), db, Dialect)
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Name: "sqlite-schema", Order: 100, Datastore: "sqlite", Migrate: migrateSchema})
}

// matchRegexp backs SQLite's "X REGEXP Y" operator, which calls regexp(Y, X).
func matchRegexp(pattern, value string) (bool, error) {
	re, ok := patterns.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		patterns.Set(pattern, re, 1)
	}
	return re.MatchString(value), nil
}

// DSN turns the configured database URL into a mattn/go-sqlite3 DSN with
// case-sensitive LIKE and a busy timeout.
func DSN(dbURL string) string {
	if dbURL == "" {
		dbURL = "file:keyvalue.db"
	}
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	return dbURL + sep + "_cslike=true&_busy_timeout=5000"
}

func isMemory(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func open(dsn string) (*gorm.DB, error) {
	return gorm.Open(sqlite.New(sqlite.Config{DriverName: driverName, DSN: dsn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// migrateSchema creates the tables of a file database. In-memory databases
// get their schema from the loader, since every connection sees a new one.
func migrateSchema(ctx context.Context, cfg *config.Config) error {
	dsn := DSN(cfg.DBURL)
	if isMemory(dsn) {
		return nil
	}
	db, err := open(dsn)
	if err != nil {
		return fmt.Errorf("migration: failed to open: %w", err)
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
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
