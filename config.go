package ldapauth

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/creasty/defaults"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/isometry/ldapauth/internal/directory"
)

// Config is the full configuration surface of the provider.
type Config struct {
	Directory DirectoryConfig `toml:"directory"`

	// LoginKey names the credential field holding the login identifier. Its
	// value is also the uniqueness boundary for local user matching.
	LoginKey string `toml:"login_key" default:"email"`

	// PasswordKey names the credential field holding the secret.
	PasswordKey string `toml:"password_key" default:"password"`

	// AttributeMap maps directory attribute names to local user field names.
	// No two directory attributes may map to the same local field.
	AttributeMap map[string]string `toml:"attribute_map"`

	// EmailPartial names a directory attribute whose value is truncated to
	// the substring before the first "@" before being stored. A value with
	// no "@" is stored unchanged.
	EmailPartial string `toml:"email_partial"`

	// RoleAttribute names the multi-valued directory attribute holding group
	// membership values. Empty disables role synchronization.
	RoleAttribute string `toml:"role_attribute"`

	// RoleMap maps directory group values to local role names, defining the
	// closed set of roles this provider manages.
	RoleMap map[string]string `toml:"role_map"`

	// RoleRefresh re-synchronizes roles on every successful login instead of
	// only at first-time user creation.
	RoleRefresh bool `toml:"role_refresh"`

	// Logger receives structured operation logs. Defaults to a no-op logger.
	Logger zerolog.Logger `toml:"-"`
}

// DirectoryConfig describes how to reach and search the directory service.
type DirectoryConfig struct {
	URLs         []string `toml:"urls"`
	Domain       string   `toml:"domain"`
	BaseDN       string   `toml:"base_dn"`
	SearchFilter string   `toml:"search_filter" default:"(objectClass=person)"`
	IDAttribute  string   `toml:"id_attribute" default:"uid"`
	BindDN       string   `toml:"bind_dn"`
	BindPassword string   `toml:"bind_password"`

	// DisableTLS skips TLS entirely. By default plain connections are
	// upgraded with StartTLS and ldaps:// URLs use TLS directly.
	DisableTLS bool `toml:"disable_tls"`

	// TimeoutSeconds bounds each directory network operation.
	TimeoutSeconds int `toml:"timeout_seconds" default:"30"`
}

// NewConfig returns a configuration with defaults applied.
func NewConfig() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("ldapauth: default config: %v", err))
	}
	cfg.Logger = zerolog.Nop()
	return cfg
}

// LoadConfig reads a TOML configuration file, applies defaults to unset
// fields and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	cfg.Logger = zerolog.Nop()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration, including the redesign rule that no two
// directory attributes may target the same local field.
func (c *Config) Validate() error {
	if c.LoginKey == "" {
		return fmt.Errorf("%w: login_key must not be empty", ErrInvalidConfig)
	}
	if c.PasswordKey == "" {
		return fmt.Errorf("%w: password_key must not be empty", ErrInvalidConfig)
	}
	if c.LoginKey == c.PasswordKey {
		return fmt.Errorf("%w: login_key and password_key must differ", ErrInvalidConfig)
	}

	seen := make(map[string]string, len(c.AttributeMap))
	for _, attr := range sortedKeys(c.AttributeMap) {
		field := c.AttributeMap[attr]
		if field == "" {
			return fmt.Errorf("%w: attribute_map entry %q has an empty local field", ErrInvalidConfig, attr)
		}
		if prev, dup := seen[field]; dup {
			return fmt.Errorf("%w: directory attributes %q and %q both map to local field %q",
				ErrInvalidConfig, prev, attr, field)
		}
		seen[field] = attr
	}

	if len(c.RoleMap) > 0 && c.RoleAttribute == "" {
		return fmt.Errorf("%w: role_map is set but role_attribute is empty", ErrInvalidConfig)
	}
	for value, role := range c.RoleMap {
		if role == "" {
			return fmt.Errorf("%w: role_map entry %q has an empty role name", ErrInvalidConfig, value)
		}
	}

	if len(c.Directory.URLs) == 0 && c.Directory.Domain == "" {
		return fmt.Errorf("%w: directory needs urls or a domain", ErrInvalidConfig)
	}
	if c.Directory.BaseDN == "" {
		return fmt.Errorf("%w: directory base_dn must not be empty", ErrInvalidConfig)
	}

	return nil
}

// RoleSyncEnabled reports whether role synchronization is configured.
func (c *Config) RoleSyncEnabled() bool {
	return c.RoleAttribute != "" && len(c.RoleMap) > 0
}

// searchAttributes returns the attribute list requested from the directory
// when materialising a new user: the attribute-map keys plus the role
// attribute. An empty attribute map requests all attributes.
func (c *Config) searchAttributes() []string {
	if len(c.AttributeMap) == 0 {
		return nil
	}
	attrs := sortedKeys(c.AttributeMap)
	if c.RoleAttribute != "" {
		attrs = append(attrs, c.RoleAttribute)
	}
	return attrs
}

// directoryConfig converts the public directory settings to the internal
// client configuration.
func (c *Config) directoryConfig() *directory.Config {
	dc := directory.DefaultConfig()
	dc.URLs = c.Directory.URLs
	dc.Domain = c.Directory.Domain
	dc.BaseDN = c.Directory.BaseDN
	if c.Directory.SearchFilter != "" {
		dc.SearchFilter = c.Directory.SearchFilter
	}
	if c.Directory.IDAttribute != "" {
		dc.IDAttribute = c.Directory.IDAttribute
	}
	dc.BindDN = c.Directory.BindDN
	dc.BindPassword = c.Directory.BindPassword
	dc.UseTLS = !c.Directory.DisableTLS
	dc.SkipTLS = c.Directory.DisableTLS
	if c.Directory.TimeoutSeconds > 0 {
		dc.Timeout = time.Duration(c.Directory.TimeoutSeconds) * time.Second
	}
	dc.Logger = c.Logger
	return dc
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
