package ldapauth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolverFixture struct {
	cfg   *Config
	dir   *fakeDirectory
	users *memUserStore
	roles *memRoleStore
	res   *Resolver
}

func newResolverFixture(t *testing.T, mutate func(*Config)) *resolverFixture {
	t.Helper()

	cfg := testProviderConfig()
	cfg.AttributeMap = map[string]string{
		"uid": "name",
		"cn":  "display_name",
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	dir := newFakeDirectory()
	users := newMemUserStore(cfg.LoginKey)
	roles := newMemRoleStore("staff", "student", "faculty")

	var sync *Synchronizer
	if cfg.RoleSyncEnabled() {
		sync = NewSynchronizer(cfg, dir, roles)
	}

	return &resolverFixture{
		cfg:   cfg,
		dir:   dir,
		users: users,
		roles: roles,
		res:   NewResolver(cfg, dir, users, sync),
	}
}

func (f *resolverFixture) credentials(login, secret string) map[string]string {
	return map[string]string{f.cfg.LoginKey: login, f.cfg.PasswordKey: secret}
}

func TestResolveCreatesUserOnFirstLogin(t *testing.T) {
	f := newResolverFixture(t, nil)
	f.dir.addUser("jdoe", "s3cret", map[string][]string{
		"uid": {"jdoe"},
		"cn":  {"Jane Doe"},
	})

	user, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Equal(t, "jdoe", user.Field(f.cfg.LoginKey))
	assert.Equal(t, "jdoe", user.Field("name"))
	assert.Equal(t, "Jane Doe", user.Field("display_name"))
	assert.NotEmpty(t, user.ID)

	// The secret is hashed, never stored in the clear.
	assert.NotEqual(t, "s3cret", user.PasswordHash)
	assert.True(t, strings.HasPrefix(user.PasswordHash, "$2"), "expected a bcrypt hash")
}

func TestResolveIsIdempotent(t *testing.T) {
	f := newResolverFixture(t, nil)
	f.dir.addUser("jdoe", "s3cret", map[string][]string{"uid": {"jdoe"}})

	first, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.users.count())
}

func TestResolveRejectsWrongSecret(t *testing.T) {
	f := newResolverFixture(t, nil)
	f.dir.addUser("jdoe", "s3cret", map[string][]string{"uid": {"jdoe"}})

	user, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "wrong"))
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, 0, f.users.count(), "no user may be created on failed authentication")
}

func TestUnknownUserAndWrongSecretLookAlike(t *testing.T) {
	f := newResolverFixture(t, nil)
	f.dir.addUser("jdoe", "s3cret", map[string][]string{"uid": {"jdoe"}})

	unknown, unknownErr := f.res.ResolveOrCreate(context.Background(), f.credentials("nobody", "whatever"))
	wrong, wrongErr := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "wrong"))

	// Both outcomes must be externally identical: nil user, nil error.
	assert.Nil(t, unknown)
	assert.Nil(t, wrong)
	assert.NoError(t, unknownErr)
	assert.NoError(t, wrongErr)
}

func TestResolveMissingCredentialFields(t *testing.T) {
	f := newResolverFixture(t, nil)
	f.dir.addUser("jdoe", "s3cret", nil)

	for name, creds := range map[string]map[string]string{
		"no login":  {f.cfg.PasswordKey: "s3cret"},
		"no secret": {f.cfg.LoginKey: "jdoe"},
		"empty":     {},
	} {
		t.Run(name, func(t *testing.T) {
			user, err := f.res.ResolveOrCreate(context.Background(), creds)
			assert.NoError(t, err)
			assert.Nil(t, user)
		})
	}
}

func TestResolveSurfacesDirectoryFailure(t *testing.T) {
	f := newResolverFixture(t, nil)
	f.dir.addUser("jdoe", "s3cret", nil)
	f.dir.bindErr = ErrDirectoryUnavailable

	_, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
}

func TestResolveDefaultsMissingFields(t *testing.T) {
	f := newResolverFixture(t, nil)
	// Directory has a uid but no cn for this entry.
	f.dir.addUser("jdoe", "s3cret", map[string][]string{"uid": {"jdoe"}})

	user, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Equal(t, "jdoe", user.Field("name"))
	assert.Equal(t, "display_name_not_found", user.Field("display_name"))
}

func TestResolveAppliesEmailPartial(t *testing.T) {
	f := newResolverFixture(t, func(cfg *Config) {
		cfg.AttributeMap = map[string]string{"uid": "name", "mail": "contact"}
		cfg.EmailPartial = "mail"
	})
	f.dir.addUser("jdoe", "s3cret", map[string][]string{
		"uid":  {"jdoe"},
		"mail": {"jane@example.edu"},
	})

	user, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "jane", user.Field("contact"))
}

func TestResolveSyncsRolesOnCreation(t *testing.T) {
	f := newResolverFixture(t, func(cfg *Config) {
		cfg.RoleAttribute = "memberOf"
		cfg.RoleMap = map[string]string{"staff": "staff", "student": "student"}
	})
	f.dir.addUser("jdoe", "s3cret", map[string][]string{
		"uid":      {"jdoe"},
		"memberOf": {"staff"},
	})

	user, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.ElementsMatch(t, []string{"staff"}, f.roles.userRoles(user.ID))
}

func TestResolveRefreshesRolesWhenEnabled(t *testing.T) {
	f := newResolverFixture(t, func(cfg *Config) {
		cfg.RoleAttribute = "memberOf"
		cfg.RoleMap = map[string]string{"staff": "staff", "student": "student"}
		cfg.RoleRefresh = true
	})
	f.dir.addUser("jdoe", "s3cret", map[string][]string{
		"uid":      {"jdoe"},
		"memberOf": {"student"},
	})

	user, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"student"}, f.roles.userRoles(user.ID))

	// Directory membership changes between logins.
	f.dir.attrs["jdoe"]["memberOf"] = []string{"staff"}

	user, err = f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"staff"}, f.roles.userRoles(user.ID))
}

func TestResolveKeepsRolesWhenRefreshDisabled(t *testing.T) {
	f := newResolverFixture(t, func(cfg *Config) {
		cfg.RoleAttribute = "memberOf"
		cfg.RoleMap = map[string]string{"staff": "staff", "student": "student"}
		cfg.RoleRefresh = false
	})
	f.dir.addUser("jdoe", "s3cret", map[string][]string{
		"uid":      {"jdoe"},
		"memberOf": {"student"},
	})

	user, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"student"}, f.roles.userRoles(user.ID))

	f.dir.attrs["jdoe"]["memberOf"] = []string{"staff"}

	user, err = f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"student"}, f.roles.userRoles(user.ID),
		"returning user's roles must not change while refresh is disabled")
}

func TestResolveRecoversFromCreationRace(t *testing.T) {
	f := newResolverFixture(t, nil)
	f.dir.addUser("jdoe", "s3cret", map[string][]string{"uid": {"jdoe"}})

	// A concurrent first login wins the race just before our Create runs.
	f.users.beforeCreate = func() {
		_, err := f.users.Create(context.Background(), &User{
			Fields: map[string]string{f.cfg.LoginKey: "jdoe", "name": "jdoe"},
		})
		require.NoError(t, err)
	}

	user, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Equal(t, 1, f.users.count(), "the race must not produce a duplicate record")
	assert.Equal(t, "jdoe", user.Field(f.cfg.LoginKey))
}

func TestResolveRequestsRoleAttributeWithProfile(t *testing.T) {
	f := newResolverFixture(t, func(cfg *Config) {
		cfg.RoleAttribute = "memberOf"
		cfg.RoleMap = map[string]string{"staff": "staff"}
	})
	f.dir.addUser("jdoe", "s3cret", map[string][]string{
		"uid":      {"jdoe"},
		"cn":       {"Jane Doe"},
		"memberOf": {"staff"},
	})

	user, err := f.res.ResolveOrCreate(context.Background(), f.credentials("jdoe", "s3cret"))
	require.NoError(t, err)
	require.NotNil(t, user)

	// One search for the profile (including memberOf), one for the sync.
	assert.Equal(t, 2, f.dir.searchCalls)
	assert.ElementsMatch(t, []string{"staff"}, f.roles.userRoles(user.ID))
}
