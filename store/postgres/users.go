package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/isometry/ldapauth"
)

// UserRepository implements ldapauth.UserStore on PostgreSQL.
type UserRepository struct {
	db       DBTX
	loginKey string
}

// NewUserRepository binds a user repository to db. loginKey names the field
// whose value is mirrored into the unique login column.
func NewUserRepository(db DBTX, loginKey string) *UserRepository {
	return &UserRepository{db: db, loginKey: loginKey}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*ldapauth.User, error) {
	query :=
		`SELECT id, password_hash, remember_token, fields FROM users
		 WHERE id = $1
		 `

	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) FindByField(ctx context.Context, field, value string) (*ldapauth.User, error) {
	if field == r.loginKey {
		query :=
			`SELECT id, password_hash, remember_token, fields FROM users
			 WHERE login = $1
			 `
		return r.scanUser(r.db.QueryRowContext(ctx, query, value))
	}

	query :=
		`SELECT id, password_hash, remember_token, fields FROM users
		 WHERE fields->>$1 = $2
		 `

	return r.scanUser(r.db.QueryRowContext(ctx, query, field, value))
}

func (r *UserRepository) Create(ctx context.Context, user *ldapauth.User) (*ldapauth.User, error) {
	fields, err := json.Marshal(user.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}

	query :=
		`INSERT INTO users (login, password_hash, remember_token, fields)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id
		 `

	err = r.db.QueryRowContext(ctx, query,
		user.Fields[r.loginKey], user.PasswordHash, user.RememberToken, fields).Scan(&user.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, ldapauth.ErrDuplicateUser
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *UserRepository) Save(ctx context.Context, user *ldapauth.User) error {
	fields, err := json.Marshal(user.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	query :=
		`UPDATE users
		 SET login = $2, password_hash = $3, remember_token = $4, fields = $5, updated_at = now()
		 WHERE id = $1
		 `

	result, err := r.db.ExecContext(ctx, query,
		user.ID, user.Fields[r.loginKey], user.PasswordHash, user.RememberToken, fields)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return ldapauth.ErrNotFound
	}
	return nil
}

func (r *UserRepository) scanUser(row *sql.Row) (*ldapauth.User, error) {
	user := &ldapauth.User{}
	var fields []byte

	err := row.Scan(&user.ID, &user.PasswordHash, &user.RememberToken, &fields)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ldapauth.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := json.Unmarshal(fields, &user.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	return user, nil
}
