package bdd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/keyvalue-service/internal/plugin/store/sqlite"
	"github.com/chirino/keyvalue-service/internal/testutil/cucumber"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// dataTables lists every table or collection wiped between scenarios.
var dataTables = []string{"key_values", "prompt", "strategy", "message", "users"}

// SQLTestDB gives steps raw access to a SQL backed store.
type SQLTestDB struct {
	Driver string
	DSN    string
}

var _ cucumber.TestDB = (*SQLTestDB)(nil)

// PostgresTestDB opens the Postgres database at dbURL through pgx.
func PostgresTestDB(dbURL string) *SQLTestDB {
	return &SQLTestDB{Driver: "pgx", DSN: dbURL}
}

// SQLiteTestDB opens the SQLite database the sqlite store would open for dbURL.
func SQLiteTestDB(dbURL string) *SQLTestDB {
	return &SQLTestDB{Driver: "sqlite3", DSN: sqlite.DSN(dbURL)}
}

func (d *SQLTestDB) ClearAll(ctx context.Context) error {
	db, err := sql.Open(d.Driver, d.DSN)
	if err != nil {
		return fmt.Errorf("cleanup: open %s: %w", d.Driver, err)
	}
	defer db.Close()

	for _, table := range dataTables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			if undefinedTable(err) {
				continue
			}
			return fmt.Errorf("cleanup: delete from %s: %w", table, err)
		}
	}
	return nil
}

func (d *SQLTestDB) ExecSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	db, err := sql.Open(d.Driver, d.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Driver, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("SQL query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			case time.Time:
				row[col] = v.UTC().Format(time.RFC3339Nano)
			default:
				row[col] = v
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// undefinedTable reports a Postgres "relation does not exist" error.
func undefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
