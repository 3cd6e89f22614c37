// Package sqlite provides SQLite-backed implementations of outbound ports
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS account_roles (
	subject_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	granted_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
	PRIMARY KEY (subject_id, role)
);

CREATE TABLE IF NOT EXISTS session_record (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	subject_id TEXT NOT NULL,
	record     BLOB NOT NULL,
	saved_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scoped_data (
	subject_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	name       TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (subject_id, role, name)
);
`

// Open opens (creating if needed) the database at dsn and applies the schema.
// dsn is a file path, a file: URI, or ":memory:".
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if dsn != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
