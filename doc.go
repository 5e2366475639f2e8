// Package ldapauth is an authentication provider backed by an LDAP
// directory. It verifies submitted credentials by binding against the
// directory as the end user, materialises a matching local user record on
// first login, remaps directory attributes into local profile fields, and
// keeps local role assignments in sync with directory group membership.
//
// The package owns no persistence of its own: callers supply a UserStore and
// a RoleStore (a PostgreSQL implementation ships in store/postgres), and the
// directory is reached through the Directory interface, normally satisfied
// by Open.
package ldapauth
