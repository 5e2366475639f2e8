package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// Config holds connection and search settings for the directory service.
type Config struct {
	// Connection settings
	URLs    []string      // Direct LDAP URLs, tried in order (overrides Domain)
	Domain  string        // DNS domain for SRV discovery when no URLs are given
	Timeout time.Duration `default:"30s"` // Per-connection timeout

	// Search settings
	BaseDN       string // Base DN for all searches
	SearchFilter string `default:"(objectClass=person)"` // Filter restricting which entries are users
	IDAttribute  string `default:"uid"`                  // Attribute uniquely identifying users

	// Search account. Empty BindDN means anonymous bind.
	BindDN       string
	BindPassword string

	// TLS settings
	UseTLS    bool `default:"true"` // Upgrade plain connections with StartTLS
	SkipTLS   bool // Skip TLS entirely (not recommended)
	TLSConfig *tls.Config

	// Pool settings
	MaxConnections int           `default:"10"`
	MaxIdleTime    time.Duration `default:"5m"`

	// Retry settings
	MaxRetries     int           `default:"3"`
	InitialBackoff time.Duration `default:"500ms"`
	MaxBackoff     time.Duration `default:"30s"`
	BackoffFactor  float64       `default:"2.0"`

	Logger zerolog.Logger
}

// DefaultConfig returns a configuration with secure defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("directory: default config: %v", err))
	}
	cfg.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	cfg.Logger = zerolog.Nop()
	return cfg
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	if c.TLSConfig == nil {
		c.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if len(c.URLs) == 0 && c.Domain == "" {
		return fmt.Errorf("either URLs or Domain must be specified")
	}
	if c.BaseDN == "" {
		return fmt.Errorf("BaseDN must be specified")
	}
	if c.IDAttribute == "" {
		return fmt.Errorf("IDAttribute must be specified")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MaxConnections must be positive")
	}
	if c.MaxConnections > maxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", maxConnectionPoolLimit)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive")
	}
	if c.MaxIdleTime <= 0 {
		return fmt.Errorf("MaxIdleTime must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries cannot be negative")
	}
	if c.BackoffFactor <= 1.0 {
		return fmt.Errorf("BackoffFactor must be greater than 1.0")
	}
	return nil
}

// userFilter builds the search filter for a single user, combining the
// configured search filter with an equality match on the ID attribute.
// The login value is escaped per RFC 4515 before interpolation.
func (c *Config) userFilter(loginValue string) string {
	base := strings.TrimSpace(c.SearchFilter)
	if base != "" && !strings.HasPrefix(base, "(") {
		base = "(" + base + ")"
	}
	match := fmt.Sprintf("(%s=%s)", c.IDAttribute, ldap.EscapeFilter(loginValue))
	if base == "" {
		return match
	}
	return fmt.Sprintf("(&%s%s)", base, match)
}

// Attributes is the result of an attribute search: attribute name to its
// ordered values, as returned by the directory.
type Attributes map[string][]string

// First returns the first value of the named attribute, or "" when absent.
// Multi-valued attributes follow the first-value-wins rule.
func (a Attributes) First(name string) string {
	if vs, ok := a[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Has reports whether the named attribute is present with at least one value.
func (a Attributes) Has(name string) bool {
	vs, ok := a[name]
	return ok && len(vs) > 0
}

// Client provides the directory operations used by the authentication pipeline.
type Client interface {
	// ResolveDN resolves a login value to the distinguished name of exactly
	// one directory entry.
	ResolveDN(ctx context.Context, loginValue string) (string, error)

	// Authenticate performs a bind as the given DN. It returns false (with a
	// nil error) on invalid credentials; transport and protocol failures are
	// returned as errors.
	Authenticate(ctx context.Context, dn, password string) (bool, error)

	// SearchAttributes returns the requested attributes of the entry matching
	// the login value. A nil or empty attribute list requests all attributes.
	SearchAttributes(ctx context.Context, loginValue string, attrs []string) (Attributes, error)

	// Ping tests connectivity to the directory.
	Ping(ctx context.Context) error

	// Close releases all pooled connections.
	Close() error

	// Stats returns connection pool statistics.
	Stats() PoolStats
}

// ServerInfo describes one directory server endpoint.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv" or "config"
}

// PoolStats provides statistics about the connection pool.
type PoolStats struct {
	Idle    int           // Idle connections
	Active  int64         // Active (in-use) connections
	Created int64         // Total connections created
	Errors  int64         // Total connection errors
	Uptime  time.Duration // Pool uptime
}
