package ldapauth

import "context"

// User is the local user record trusted by the rest of the application.
// Profile fields are keyed by local field name (the values of the attribute
// map), and always include the login-key field.
type User struct {
	ID            string
	PasswordHash  string
	RememberToken string
	Fields        map[string]string
}

// Field returns a profile field value, or "" when absent.
func (u *User) Field(name string) string {
	if u == nil || u.Fields == nil {
		return ""
	}
	return u.Fields[name]
}

// Role is a local role that can be assigned to users.
type Role struct {
	ID   string
	Name string
}

// UserStore persists local users keyed by a stable identifier. Absent
// records are reported as ErrNotFound. The store must enforce uniqueness on
// the login-key field and report violations from Create as ErrDuplicateUser.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByField(ctx context.Context, field, value string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	Save(ctx context.Context, user *User) error
}

// RoleStore persists role assignments. Attach and Detach must be idempotent:
// attaching a held role or detaching an absent one is a no-op, so an
// interrupted synchronization can safely be re-run. A role missing from the
// store is reported by FindRoleByName as ErrRoleNotFound.
type RoleStore interface {
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	Attach(ctx context.Context, userID string, role *Role) error
	Detach(ctx context.Context, userID string, role *Role) error
	UserHasRole(ctx context.Context, userID, roleName string) (bool, error)
}
