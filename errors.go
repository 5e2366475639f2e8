package ldapauth

import "errors"

var (
	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("ldapauth: not found")

	// ErrDuplicateUser is returned by UserStore.Create when another record
	// already holds the login-key value. The resolver recovers from it by
	// re-reading and proceeding as the existing-user path.
	ErrDuplicateUser = errors.New("ldapauth: duplicate user")

	// ErrRoleNotFound is returned by RoleStore.FindRoleByName when a role
	// named in the role map does not exist. This is a configuration error
	// and fails the request loudly.
	ErrRoleNotFound = errors.New("ldapauth: role not found")

	// ErrDirectoryUnavailable wraps transport and protocol failures talking
	// to the directory. It is surfaced distinctly from failed credentials so
	// the front door can report a service problem instead of a wrong
	// password.
	ErrDirectoryUnavailable = errors.New("ldapauth: directory unavailable")

	// ErrInvalidConfig is returned for configurations rejected by Validate.
	ErrInvalidConfig = errors.New("ldapauth: invalid configuration")
)
