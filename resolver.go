package ldapauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Resolver turns a verified directory identity into a local user record,
// creating the record on first login.
type Resolver struct {
	cfg   *Config
	dir   Directory
	users UserStore
	sync  *Synchronizer
	log   zerolog.Logger
}

// NewResolver creates an identity resolver. sync may be nil when role
// synchronization is not configured.
func NewResolver(cfg *Config, dir Directory, users UserStore, sync *Synchronizer) *Resolver {
	return &Resolver{cfg: cfg, dir: dir, users: users, sync: sync, log: cfg.Logger}
}

// ResolveOrCreate authenticates the submitted credentials against the
// directory and returns the matching local user, creating it on first
// login.
//
// A (nil, nil) result means authentication failed. Unknown login
// identifiers and wrong secrets are deliberately indistinguishable in the
// result so callers cannot be used for account enumeration; directory
// transport failures are returned as errors wrapping
// ErrDirectoryUnavailable.
func (r *Resolver) ResolveOrCreate(ctx context.Context, credentials map[string]string) (*User, error) {
	loginValue := credentials[r.cfg.LoginKey]
	secret := credentials[r.cfg.PasswordKey]
	if loginValue == "" || secret == "" {
		return nil, nil
	}

	dn, err := r.dir.LookupDN(ctx, loginValue)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.log.Debug().Msg("login identifier did not resolve")
			return nil, nil
		}
		return nil, err
	}

	ok, err := r.dir.Bind(ctx, dn, secret)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.log.Debug().Msg("directory rejected credentials")
		return nil, nil
	}

	user, err := r.users.FindByField(ctx, r.cfg.LoginKey, loginValue)
	switch {
	case err == nil:
		return r.refresh(ctx, user)
	case errors.Is(err, ErrNotFound):
		return r.create(ctx, loginValue, secret)
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

// refresh handles the returning-user path: roles are re-synchronized only
// when role refresh is enabled, otherwise the record is returned untouched.
func (r *Resolver) refresh(ctx context.Context, user *User) (*User, error) {
	if r.cfg.RoleRefresh && r.sync != nil {
		if err := r.sync.Sync(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// create materialises a new local user from directory attributes.
func (r *Resolver) create(ctx context.Context, loginValue, secret string) (*User, error) {
	raw, err := r.dir.SearchAttributes(ctx, loginValue, r.cfg.searchAttributes())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The entry vanished between bind and search. Same outward
			// outcome as a failed authentication.
			return nil, nil
		}
		return nil, err
	}

	fields := Remap(raw, r.cfg.AttributeMap, r.cfg.EmailPartial)

	// Mapped fields with no directory value get a deterministic placeholder
	// so the persisted record is always well-formed.
	for _, field := range r.cfg.AttributeMap {
		if _, ok := fields[field]; !ok {
			fields[field] = field + "_not_found"
		}
	}
	fields[r.cfg.LoginKey] = loginValue

	hash, err := hashSecret(secret)
	if err != nil {
		return nil, err
	}

	user, err := r.users.Create(ctx, &User{PasswordHash: hash, Fields: fields})
	if err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			// Lost a first-login race; the winner created the record.
			existing, findErr := r.users.FindByField(ctx, r.cfg.LoginKey, loginValue)
			if findErr != nil {
				return nil, fmt.Errorf("re-read after create conflict: %w", findErr)
			}
			return r.refresh(ctx, existing)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	r.log.Info().Str("user", user.ID).Msg("local user created from directory identity")

	// New users always get their roles synchronized, regardless of the
	// refresh policy.
	if r.sync != nil {
		if err := r.sync.Sync(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}
