package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// client implements the Client interface over a connection pool.
type client struct {
	pool   *connectionPool
	config *Config
}

// NewClient creates a directory client with connection pooling. The context
// bounds server discovery only; operations take their own contexts.
func NewClient(ctx context.Context, config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	log := config.Logger
	log.Debug().
		Str("domain", config.Domain).
		Int("url_count", len(config.URLs)).
		Str("base_dn", config.BaseDN).
		Bool("use_tls", config.UseTLS).
		Msg("creating directory client")

	pool, err := newConnectionPool(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &client{pool: pool, config: config}, nil
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// ResolveDN resolves a login value to the DN of exactly one directory entry.
func (c *client) ResolveDN(ctx context.Context, loginValue string) (string, error) {
	if loginValue == "" {
		return "", notFoundError("resolve_dn", "login value cannot be empty")
	}

	filter := c.config.userFilter(loginValue)

	var dn string
	err := c.logOperation(ctx, "resolve_dn", func() error {
		result, err := c.search(ctx, filter, []string{"1.1"}, 2)
		if err != nil {
			return err
		}
		switch len(result.Entries) {
		case 0:
			return notFoundError("resolve_dn", "no entry matches login value")
		case 1:
			dn = result.Entries[0].DN
			return nil
		default:
			return notFoundError("resolve_dn", "login value matches more than one entry")
		}
	})
	if err != nil {
		return "", err
	}
	return dn, nil
}

// Authenticate performs a bind as the given DN with the supplied secret.
// Invalid credentials yield (false, nil); transport and protocol failures
// are returned as errors so callers can tell the two apart.
func (c *client) Authenticate(ctx context.Context, dn, password string) (bool, error) {
	if dn == "" {
		return false, notFoundError("authenticate", "DN cannot be empty")
	}
	// The directory would treat an empty password as an anonymous bind and
	// report success. Reject it here.
	if password == "" {
		return false, nil
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return false, newError("authenticate", err)
	}
	// Binding as the end user replaces the search-account authentication
	// state, so this connection must not be reused.
	defer conn.Discard()

	err = conn.Conn().Bind(dn, password)
	if err == nil {
		return true, nil
	}
	if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		return false, nil
	}
	return false, newError("authenticate", err)
}

// SearchAttributes returns the requested attributes of the entry matching
// the login value. When multiple entries match, the first one is used; the
// directory is expected to be keyed uniquely on the ID attribute.
func (c *client) SearchAttributes(ctx context.Context, loginValue string, attrs []string) (Attributes, error) {
	if loginValue == "" {
		return nil, notFoundError("search_attributes", "login value cannot be empty")
	}

	filter := c.config.userFilter(loginValue)

	var attributes Attributes
	err := c.logOperation(ctx, "search_attributes", func() error {
		result, err := c.search(ctx, filter, attrs, 0)
		if err != nil {
			return err
		}
		if len(result.Entries) == 0 {
			return notFoundError("search_attributes", "no entry matches login value")
		}
		attributes = entryAttributes(result.Entries[0])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attributes, nil
}

// entryAttributes converts an LDAP entry to an Attributes map, rendering
// binary attributes to their canonical string forms.
func entryAttributes(entry *ldap.Entry) Attributes {
	attributes := make(Attributes, len(entry.Attributes))
	for _, attr := range entry.Attributes {
		if isBinaryAttribute(attr.Name) {
			if values := renderBinaryValues(attr.Name, attr.ByteValues); len(values) > 0 {
				attributes[attr.Name] = values
			}
			continue
		}
		if len(attr.Values) > 0 {
			attributes[attr.Name] = attr.Values
		}
	}
	return attributes
}

// search runs one subtree search under the configured base DN.
func (c *client) search(ctx context.Context, filter string, attrs []string, sizeLimit int) (*ldap.SearchResult, error) {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return nil, newError("search", err)
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		c.config.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		sizeLimit,
		int(c.config.Timeout.Seconds()),
		false,
		filter,
		attrs,
		nil,
	)

	var result *ldap.SearchResult
	err = c.withRetry(ctx, func() error {
		var searchErr error
		result, searchErr = conn.Conn().Search(req)
		return searchErr
	})
	if err != nil {
		// A size-limit overrun still returns the entries read so far; the
		// callers that set a limit want exactly that.
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && result != nil {
			return result, nil
		}
		return nil, newError("search", err)
	}
	return result, nil
}

// Ping tests connectivity by reading the root DSE.
func (c *client) Ping(ctx context.Context) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return newError("ping", err)
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		"", ldap.ScopeBaseObject, ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"supportedLDAPVersion"},
		nil,
	)
	if _, err := conn.Conn().Search(req); err != nil {
		return newError("ping", err)
	}
	return nil
}

// Stats returns pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// withRetry executes an operation, retrying retryable failures with
// exponential backoff.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == c.config.MaxRetries {
			break
		}

		c.config.Logger.Debug().
			Int("attempt", attempt+1).
			Err(err).
			Msg("retrying directory operation")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
		}
	}

	return &Error{
		Op:        "retry",
		Category:  CategoryConnection,
		Message:   "operation failed after retries",
		Retryable: false,
		Cause:     lastErr,
	}
}

// logOperation runs fn and logs its outcome with timing.
func (c *client) logOperation(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	evt := c.config.Logger.Debug().
		Str("operation", op).
		Dur("duration", time.Since(start))
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg("directory operation")
	return err
}
