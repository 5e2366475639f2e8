package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/isometry/ldapauth"
)

// RoleRepository implements ldapauth.RoleStore on PostgreSQL. Roles are
// expected to exist already; the repository never creates them.
type RoleRepository struct {
	db DBTX
}

func NewRoleRepository(db DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

func (r *RoleRepository) FindRoleByName(ctx context.Context, name string) (*ldapauth.Role, error) {
	query :=
		`SELECT id, name FROM roles
		 WHERE name = $1
		 `

	role := &ldapauth.Role{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(&role.ID, &role.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ldapauth.ErrRoleNotFound, name)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return role, nil
}

func (r *RoleRepository) Attach(ctx context.Context, userID string, role *ldapauth.Role) error {
	query :=
		`INSERT INTO role_user (user_id, role_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, role.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *RoleRepository) Detach(ctx context.Context, userID string, role *ldapauth.Role) error {
	query :=
		`DELETE FROM role_user
		 WHERE user_id = $1 AND role_id = $2
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, role.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *RoleRepository) UserHasRole(ctx context.Context, userID, roleName string) (bool, error) {
	query :=
		`SELECT EXISTS (
		     SELECT 1 FROM role_user ru
		     JOIN roles r ON r.id = ru.role_id
		     WHERE ru.user_id = $1 AND r.name = $2
		 )`

	var held bool
	if err := r.db.QueryRowContext(ctx, query, userID, roleName).Scan(&held); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return held, nil
}
