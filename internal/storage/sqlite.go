package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB wraps a sql.DB connection to the settings store and the cross-learning
// tables.
type DB struct {
	db     *sql.DB
	driver string
}

// NewDB opens (or creates) a SQLite database at path and creates the
// settings table.
func NewDB(path string) (*DB, error) {
	return Open(DriverSQLite, path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
}

// Open connects to the database identified by driver and dsn and creates the
// settings table. The cross-learning tables are created by EnsureSchema.
func Open(driver, dsn string) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("open db: unsupported driver %q", driver)
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if driver == DriverSQLite {
		// A single writer avoids SQLITE_BUSY between pooled connections.
		sqlDB.SetMaxOpenConns(1)
	}

	d := &DB{db: sqlDB, driver: driver}
	if err := d.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Wrap returns a DB around an existing connection without running any
// migration.
func Wrap(sqlDB *sql.DB, driver string) *DB {
	return &DB{db: sqlDB, driver: driver}
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Driver reports the driver name the DB was opened with.
func (d *DB) Driver() string {
	return d.driver
}

// migrate creates the settings table. Everything else belongs to the
// bootstrap schema.
func (d *DB) migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS settings (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at BIGINT NOT NULL
)`)
	return err
}

// EnsureSchema creates the system log, cross-learning queue and agent
// performance tables if they do not already exist. Safe to call repeatedly.
func (d *DB) EnsureSchema(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	schema := `
CREATE TABLE IF NOT EXISTS system_logs (
    id ` + serial + `,
    log_type TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS cross_learning_queue (
    id ` + serial + `,
    source_agent TEXT NOT NULL,
    target_agent TEXT NOT NULL,
    insight_type TEXT NOT NULL,
    insight_data TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    processed INTEGER NOT NULL DEFAULT 0,
    CHECK (source_agent <> target_agent)
);

CREATE TABLE IF NOT EXISTS agent_performance (
    id ` + serial + `,
    agent_id TEXT NOT NULL UNIQUE,
    examples_processed BIGINT NOT NULL DEFAULT 0,
    insights_generated BIGINT NOT NULL DEFAULT 0,
    last_training BIGINT,
    learning_status TEXT NOT NULL DEFAULT 'active',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_system_logs_type ON system_logs(log_type);
CREATE INDEX IF NOT EXISTS idx_system_logs_created ON system_logs(created_at);
CREATE INDEX IF NOT EXISTS idx_queue_target ON cross_learning_queue(target_agent);
CREATE INDEX IF NOT EXISTS idx_queue_processed ON cross_learning_queue(processed);
CREATE INDEX IF NOT EXISTS idx_performance_status ON agent_performance(learning_status);`
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into the driver's native form.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// boolToInt converts a bool to an integer (0 or 1) for storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
