package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/item-harvester/pkg/record"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Supported SQL mirror drivers.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// SQLMirror copies persisted records into an items table keyed by item id.
// Re-inserting an id is a no-op.
type SQLMirror struct {
	db     *sql.DB
	driver string
	insert string
}

// OpenSQL connects to dsn with driver ("pgx" or "sqlite") and creates the
// items table if needed.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLMirror, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sql dsn is required")
	}
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported sql driver %q (want %q or %q)", driver, DriverPostgres, DriverSQLite)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; the mirror is fed under the store's pace anyway
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	m := &SQLMirror{db: db, driver: driver, insert: insertStatement(driver)}
	if err := m.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *SQLMirror) initSchema(ctx context.Context) error {
	cols := make([]string, 0, len(record.Columns))
	for _, c := range record.Columns {
		cols = append(cols, c+" TEXT")
	}
	fetchedAt := "fetched_at TEXT NOT NULL"
	if m.driver == DriverPostgres {
		fetchedAt = "fetched_at TIMESTAMPTZ NOT NULL"
	}
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS items (item_id BIGINT PRIMARY KEY, %s, %s)",
		strings.Join(cols, ", "), fetchedAt,
	)
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create items table: %w", err)
	}
	return nil
}

func insertStatement(driver string) string {
	n := len(record.Columns) + 2
	marks := make([]string, n)
	for i := range marks {
		if driver == DriverPostgres {
			marks[i] = fmt.Sprintf("$%d", i+1)
		} else {
			marks[i] = "?"
		}
	}
	return fmt.Sprintf(
		"INSERT INTO items (item_id, %s, fetched_at) VALUES (%s) ON CONFLICT (item_id) DO NOTHING",
		strings.Join(record.Columns, ", "), strings.Join(marks, ", "),
	)
}

// Name implements Mirror.
func (m *SQLMirror) Name() string {
	return "sql_" + m.driver
}

// Put implements Mirror.
func (m *SQLMirror) Put(ctx context.Context, id int, rec record.Record) error {
	args := make([]any, 0, len(record.Columns)+2)
	args = append(args, id)
	for _, v := range rec.Values() {
		if v.IsNull() {
			args = append(args, nil)
			continue
		}
		args = append(args, v.String())
	}
	now := time.Now().UTC()
	if m.driver == DriverPostgres {
		args = append(args, now)
	} else {
		args = append(args, now.Format(time.RFC3339Nano))
	}

	if _, err := m.db.ExecContext(ctx, m.insert, args...); err != nil {
		return fmt.Errorf("insert item %d: %w", id, err)
	}
	return nil
}

// Close implements Mirror.
func (m *SQLMirror) Close() error {
	return m.db.Close()
}
