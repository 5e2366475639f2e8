package ldapauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Provider is the authentication-provider contract consumed by the front
// door. It composes the directory client, the identity resolver and the
// role synchronizer over caller-supplied stores.
type Provider struct {
	cfg      *Config
	dir      Directory
	users    UserStore
	resolver *Resolver
	log      zerolog.Logger
}

// Option customises a Provider.
type Option func(*Provider)

// WithLogger sets the logger used by the provider and its components.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Provider) { p.log = log }
}

// NewProvider validates the configuration and wires the pipeline. roles may
// be nil when role synchronization is not configured.
func NewProvider(cfg *Config, dir Directory, users UserStore, roles RoleStore, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RoleSyncEnabled() && roles == nil {
		return nil, fmt.Errorf("%w: role synchronization configured but no role store supplied", ErrInvalidConfig)
	}

	p := &Provider{cfg: cfg, dir: dir, users: users, log: cfg.Logger}
	for _, opt := range opts {
		opt(p)
	}
	cfg.Logger = p.log

	var sync *Synchronizer
	if cfg.RoleSyncEnabled() {
		sync = NewSynchronizer(cfg, dir, roles)
	}
	p.resolver = NewResolver(cfg, dir, users, sync)

	return p, nil
}

// RetrieveByID looks up a user by primary identifier. No directory
// interaction; (nil, nil) when no user exists.
func (p *Provider) RetrieveByID(ctx context.Context, id string) (*User, error) {
	user, err := p.users.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// RetrieveByCredentials verifies the submitted credentials against the
// directory and returns the corresponding local user, creating it on first
// login. (nil, nil) means authentication failed; unknown identifiers and
// wrong secrets are not distinguishable from the result.
func (p *Provider) RetrieveByCredentials(ctx context.Context, credentials map[string]string) (*User, error) {
	return p.resolver.ResolveOrCreate(ctx, credentials)
}

// ValidateCredentials re-verifies credentials for an already-resolved user
// without touching the user store. Used before sensitive actions.
func (p *Provider) ValidateCredentials(ctx context.Context, user *User, credentials map[string]string) (bool, error) {
	if user == nil {
		return false, nil
	}

	loginValue := credentials[p.cfg.LoginKey]
	secret := credentials[p.cfg.PasswordKey]
	if loginValue == "" || secret == "" {
		return false, nil
	}

	dn, err := p.dir.LookupDN(ctx, loginValue)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.dir.Bind(ctx, dn, secret)
}

// RetrieveByToken looks up a user by identifier and remember-me token. The
// token comparison is constant-time; (nil, nil) on any mismatch.
func (p *Provider) RetrieveByToken(ctx context.Context, id, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}

	user, err := p.users.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if user.RememberToken == "" || !tokensEqual(user.RememberToken, token) {
		return nil, nil
	}
	return user, nil
}

// UpdateRememberToken stores a new remember-me token on the user.
func (p *Provider) UpdateRememberToken(ctx context.Context, user *User, token string) error {
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}
	user.RememberToken = token
	return p.users.Save(ctx, user)
}
