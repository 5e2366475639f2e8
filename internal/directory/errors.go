package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Category classifies directory errors for the layers above, which only need
// to distinguish "bad credentials" from "no such entry" from "directory is
// unreachable".
type Category string

const (
	CategoryConnection     Category = "connection"
	CategoryAuthentication Category = "authentication"
	CategoryNotFound       Category = "not_found"
	CategoryServer         Category = "server"
	CategoryUnknown        Category = "unknown"
)

// Error wraps a failed directory operation with its classification.
type Error struct {
	Op        string   // The operation that failed
	Category  Category // Error category
	Code      uint16   // LDAP result code, if any
	Message   string   // Human-readable message
	Retryable bool     // Whether the operation may succeed on retry
	Cause     error    // Underlying error
}

func (e *Error) Error() string {
	var parts []string
	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("directory %s failed (code %d)", e.Op, e.Code))
	} else {
		parts = append(parts, fmt.Sprintf("directory %s failed", e.Op))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether the failed operation may succeed on retry.
func (e *Error) IsRetryable() bool { return e.Retryable }

// newError classifies err and wraps it with the operation name.
func newError(op string, err error) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op == "" {
			existing.Op = op
		}
		return existing
	}

	e := &Error{Op: op, Cause: err, Message: err.Error()}

	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		e.Code = ldapErr.ResultCode
		e.Category = categorizeCode(ldapErr.ResultCode)
		e.Retryable = isCodeRetryable(ldapErr.ResultCode)
		return e
	}

	e.Category = categorizeGeneric(err)
	e.Retryable = e.Category == CategoryConnection
	return e
}

// notFoundError builds a CategoryNotFound error for searches that did not
// return exactly one entry.
func notFoundError(op, message string) *Error {
	return &Error{Op: op, Category: CategoryNotFound, Message: message}
}

func categorizeCode(code uint16) Category {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return CategoryAuthentication
	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return CategoryNotFound
	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded:
		return CategoryServer
	case ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError:
		return CategoryConnection
	default:
		return CategoryUnknown
	}
}

func categorizeGeneric(err error) Category {
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "connection") ||
		strings.Contains(s, "network") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "connection reset"):
		return CategoryConnection
	case strings.Contains(s, "credentials") ||
		strings.Contains(s, "authentication"):
		return CategoryAuthentication
	default:
		return CategoryUnknown
	}
}

func isCodeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultConnectError:
		return true
	default:
		return false
	}
}

// GetCategory returns the category of an error, unwrapping as needed.
func GetCategory(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return categorizeCode(ldapErr.ResultCode)
	}
	return categorizeGeneric(err)
}

// IsNotFound reports whether err indicates an entry that does not exist or
// did not resolve uniquely.
func IsNotFound(err error) bool {
	return GetCategory(err) == CategoryNotFound
}

// IsInvalidCredentials reports whether err is a bind rejection, as opposed to
// a transport or protocol failure.
func IsInvalidCredentials(err error) bool {
	if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		return true
	}
	var e *Error
	return errors.As(err, &e) && e.Category == CategoryAuthentication
}

// IsUnavailable reports whether err indicates the directory could not be
// reached or answered with a server-side failure.
func IsUnavailable(err error) bool {
	c := GetCategory(err)
	return c == CategoryConnection || c == CategoryServer
}

// isRetryable reports whether an operation that produced err is worth
// retrying on the same or another server.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	var ldapErr *ldap.Error
	if errors.As(err, &ldapErr) {
		return isCodeRetryable(ldapErr.ResultCode)
	}
	return categorizeGeneric(err) == CategoryConnection
}
