// Package postgres provides PostgreSQL-backed implementations of the
// ldapauth user and role stores, with schema migrations applied via goose.
//
// Users are keyed by the configured login field. Because the attribute map
// makes local field names configurable, profile fields are stored in a JSONB
// column rather than fixed columns; the login value is duplicated into a
// dedicated unique column to give the first-login creation race a database
// level arbiter.
package postgres
