package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/swiftdrop/accountgate/internal/domain/role"
)

// GrantStore implements role.GrantStore on the account_roles table.
type GrantStore struct {
	db *sql.DB
}

// NewGrantStore wraps db, which must have been opened with Open.
func NewGrantStore(db *sql.DB) *GrantStore {
	return &GrantStore{db: db}
}

// GetGrantedRoles returns the roles granted to subjectID. Rows holding
// unknown role names are ignored.
func (s *GrantStore) GetGrantedRoles(ctx context.Context, subjectID string) (role.Set, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM account_roles WHERE subject_id = ?`, subjectID)
	if err != nil {
		return role.Set{}, fmt.Errorf("query granted roles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return role.Set{}, fmt.Errorf("scan granted role: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return role.Set{}, fmt.Errorf("iterate granted roles: %w", err)
	}
	return role.ParseSet(names...), nil
}

// Grant adds r for subjectID. Granting twice is a no-op.
func (s *GrantStore) Grant(ctx context.Context, subjectID string, r role.AccountRole) error {
	if !r.IsValid() {
		return &role.UnknownRoleError{Value: string(r)}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO account_roles (subject_id, role) VALUES (?, ?)`, subjectID, string(r))
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// Revoke removes r from subjectID.
func (s *GrantStore) Revoke(ctx context.Context, subjectID string, r role.AccountRole) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM account_roles WHERE subject_id = ? AND role = ?`, subjectID, string(r))
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *GrantStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Compile-time interface verification.
var _ role.GrantStore = (*GrantStore)(nil)
