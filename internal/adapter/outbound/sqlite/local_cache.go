package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/swiftdrop/accountgate/internal/domain/role"
	"github.com/swiftdrop/accountgate/internal/domain/session"
	"github.com/swiftdrop/accountgate/internal/port/outbound"
)

// LocalCache implements outbound.LocalCache on the session_record and
// scoped_data tables.
type LocalCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewLocalCache wraps db, which must have been opened with Open.
func NewLocalCache(db *sql.DB) *LocalCache {
	return &LocalCache{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SaveSession replaces the single session row.
func (c *LocalCache) SaveSession(ctx context.Context, rec session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO session_record (id, subject_id, record, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			subject_id = excluded.subject_id,
			record = excluded.record,
			saved_at = excluded.saved_at`,
		rec.Session.SubjectID, data, c.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

// LoadSession returns the stored record, or nil.
func (c *LocalCache) LoadSession(ctx context.Context) (*session.Record, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT record FROM session_record WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	var rec session.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse session record: %w", err)
	}
	return &rec, nil
}

// ClearSession deletes the session row.
func (c *LocalCache) ClearSession(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM session_record`); err != nil {
		return fmt.Errorf("clear session record: %w", err)
	}
	return nil
}

// PutScoped upserts value under key.
func (c *LocalCache) PutScoped(ctx context.Context, key outbound.ScopedKey, value []byte) error {
	if !key.Valid() {
		return fmt.Errorf("invalid scoped key %q", key.String())
	}
	if value == nil {
		value = []byte{}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO scoped_data (subject_id, role, name, value, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (subject_id, role, name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key.SubjectID, string(key.Role), key.Name, value, c.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put scoped entry: %w", err)
	}
	return nil
}

// GetScoped returns the value under key or outbound.ErrScopedNotFound.
func (c *LocalCache) GetScoped(ctx context.Context, key outbound.ScopedKey) ([]byte, error) {
	var value []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT value FROM scoped_data WHERE subject_id = ? AND role = ? AND name = ?`,
		key.SubjectID, string(key.Role), key.Name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, outbound.ErrScopedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scoped entry: %w", err)
	}
	return value, nil
}

// ListScoped lists keys for subjectID, optionally filtered by role.
func (c *LocalCache) ListScoped(ctx context.Context, subjectID string, r role.AccountRole) ([]outbound.ScopedKey, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT role, name FROM scoped_data
		WHERE subject_id = ? AND (? = '' OR role = ?)
		ORDER BY role, name`,
		subjectID, string(r), string(r))
	if err != nil {
		return nil, fmt.Errorf("list scoped entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []outbound.ScopedKey
	for rows.Next() {
		var roleName, name string
		if err := rows.Scan(&roleName, &name); err != nil {
			return nil, fmt.Errorf("scan scoped entry: %w", err)
		}
		out = append(out, outbound.ScopedKey{SubjectID: subjectID, Role: role.AccountRole(roleName), Name: name})
	}
	return out, rows.Err()
}

// ClearAll deletes the session row and all scoped data in one transaction.
func (c *LocalCache) ClearAll(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM session_record`, `DELETE FROM scoped_data`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear local cache: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (c *LocalCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the underlying database.
func (c *LocalCache) Close() error {
	return c.db.Close()
}

// Compile-time interface verification.
var _ outbound.LocalCache = (*LocalCache)(nil)
