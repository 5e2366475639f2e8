package ldapauth

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Synchronizer reconciles a user's local role assignments with the group
// membership values held by the directory. Only roles named in the role map
// are managed; assignments outside the map are never touched.
type Synchronizer struct {
	cfg   *Config
	dir   Directory
	roles RoleStore
	log   zerolog.Logger
}

// NewSynchronizer creates a role synchronizer.
func NewSynchronizer(cfg *Config, dir Directory, roles RoleStore) *Synchronizer {
	return &Synchronizer{cfg: cfg, dir: dir, roles: roles, log: cfg.Logger}
}

// Sync makes the user's managed role assignments mirror the directory. A
// managed role is held after Sync if and only if at least one directory
// group value mapping to it was present in the user's role attribute. Sync
// is a no-op when role synchronization is not configured.
//
// Each attach and detach is independently idempotent, so an interrupted run
// leaves no half-applied assignment that a re-run cannot repair.
func (s *Synchronizer) Sync(ctx context.Context, user *User) error {
	if !s.cfg.RoleSyncEnabled() {
		return nil
	}
	if user == nil {
		return fmt.Errorf("user cannot be nil")
	}

	loginValue := user.Field(s.cfg.LoginKey)
	if loginValue == "" {
		return fmt.Errorf("user has no %s field", s.cfg.LoginKey)
	}

	raw, err := s.dir.SearchAttributes(ctx, loginValue, []string{s.cfg.RoleAttribute})
	if err != nil {
		return fmt.Errorf("fetch role attribute: %w", err)
	}

	present := make(map[string]bool, len(raw[s.cfg.RoleAttribute]))
	for _, value := range raw[s.cfg.RoleAttribute] {
		present[value] = true
	}

	// Several directory values may map to the same role (e.g. staff and
	// employee both granting staff); the role is wanted if any of them is
	// present.
	wanted := make(map[string]bool, len(s.cfg.RoleMap))
	for value, roleName := range s.cfg.RoleMap {
		wanted[roleName] = wanted[roleName] || present[value]
	}

	for _, roleName := range sortedRoleNames(wanted) {
		if err := s.syncRole(ctx, user, roleName, wanted[roleName]); err != nil {
			return err
		}
	}
	return nil
}

// syncRole brings a single managed role assignment in line with the
// directory.
func (s *Synchronizer) syncRole(ctx context.Context, user *User, roleName string, want bool) error {
	has, err := s.roles.UserHasRole(ctx, user.ID, roleName)
	if err != nil {
		return fmt.Errorf("check role %q: %w", roleName, err)
	}
	if has == want {
		return nil
	}

	role, err := s.roles.FindRoleByName(ctx, roleName)
	if err != nil {
		// A role named in the role map but missing from the store is a
		// configuration error, never skipped silently.
		return fmt.Errorf("role %q named in role map: %w", roleName, err)
	}

	if want {
		if err := s.roles.Attach(ctx, user.ID, role); err != nil {
			return fmt.Errorf("attach role %q: %w", roleName, err)
		}
		s.log.Debug().Str("user", user.ID).Str("role", roleName).Msg("role attached")
		return nil
	}

	if err := s.roles.Detach(ctx, user.ID, role); err != nil {
		return fmt.Errorf("detach role %q: %w", roleName, err)
	}
	s.log.Debug().Str("user", user.ID).Str("role", roleName).Msg("role detached")
	return nil
}

func sortedRoleNames(m map[string]bool) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
