// Package directory implements the LDAP client used to verify credentials
// and read user attributes from the directory service.
//
// The package wraps github.com/go-ldap/ldap/v3 with connection pooling,
// server failover and retry logic, and exposes the three operations the
// authentication pipeline needs: distinguished-name resolution, bind
// authentication and attribute search.
package directory
