package ldapauth

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// fakeDirectory is an in-memory stand-in for the directory service.
type fakeDirectory struct {
	dns       map[string]string              // login value -> DN
	passwords map[string]string              // DN -> valid secret
	attrs     map[string]map[string][]string // login value -> attributes

	lookupErr error
	bindErr   error
	searchErr error

	bindCalls   int
	searchCalls int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		dns:       make(map[string]string),
		passwords: make(map[string]string),
		attrs:     make(map[string]map[string][]string),
	}
}

// addUser registers a directory entry with a DN derived from the login value.
func (d *fakeDirectory) addUser(login, password string, attrs map[string][]string) {
	dn := fmt.Sprintf("uid=%s,ou=people,dc=example,dc=com", login)
	d.dns[login] = dn
	d.passwords[dn] = password
	if attrs == nil {
		attrs = map[string][]string{}
	}
	d.attrs[login] = attrs
}

func (d *fakeDirectory) LookupDN(_ context.Context, loginValue string) (string, error) {
	if d.lookupErr != nil {
		return "", d.lookupErr
	}
	dn, ok := d.dns[loginValue]
	if !ok {
		return "", fmt.Errorf("%w: no entry matches login value", ErrNotFound)
	}
	return dn, nil
}

func (d *fakeDirectory) Bind(_ context.Context, dn, secret string) (bool, error) {
	d.bindCalls++
	if d.bindErr != nil {
		return false, d.bindErr
	}
	password, ok := d.passwords[dn]
	return ok && secret != "" && password == secret, nil
}

func (d *fakeDirectory) SearchAttributes(_ context.Context, loginValue string, attrs []string) (map[string][]string, error) {
	d.searchCalls++
	if d.searchErr != nil {
		return nil, d.searchErr
	}
	all, ok := d.attrs[loginValue]
	if !ok {
		return nil, fmt.Errorf("%w: no entry matches login value", ErrNotFound)
	}
	if len(attrs) == 0 {
		return all, nil
	}
	result := make(map[string][]string)
	for _, name := range attrs {
		if values, present := all[name]; present {
			result[name] = values
		}
	}
	return result, nil
}

// memUserStore is an in-memory UserStore enforcing login-key uniqueness.
type memUserStore struct {
	mu       sync.Mutex
	loginKey string
	seq      int
	users    map[string]*User

	// beforeCreate, when set, runs inside Create before the uniqueness
	// check; used to provoke creation races.
	beforeCreate func()
}

func newMemUserStore(loginKey string) *memUserStore {
	return &memUserStore{loginKey: loginKey, users: make(map[string]*User)}
}

func (s *memUserStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, ErrNotFound
}

func (s *memUserStore) FindByField(_ context.Context, field, value string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByFieldLocked(field, value)
}

func (s *memUserStore) findByFieldLocked(field, value string) (*User, error) {
	for _, user := range s.users {
		if user.Fields[field] == value {
			return user, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) Create(_ context.Context, user *User) (*User, error) {
	if s.beforeCreate != nil {
		hook := s.beforeCreate
		s.beforeCreate = nil
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.findByFieldLocked(s.loginKey, user.Fields[s.loginKey]); err == nil {
		return nil, ErrDuplicateUser
	}

	s.seq++
	user.ID = strconv.Itoa(s.seq)
	s.users[user.ID] = user
	return user, nil
}

func (s *memUserStore) Save(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return ErrNotFound
	}
	s.users[user.ID] = user
	return nil
}

func (s *memUserStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// memRoleStore is an in-memory RoleStore with idempotent attach/detach.
type memRoleStore struct {
	mu          sync.Mutex
	roles       map[string]*Role           // by name
	assignments map[string]map[string]bool // userID -> role name -> held
}

func newMemRoleStore(names ...string) *memRoleStore {
	s := &memRoleStore{
		roles:       make(map[string]*Role),
		assignments: make(map[string]map[string]bool),
	}
	for i, name := range names {
		s.roles[name] = &Role{ID: strconv.Itoa(i + 1), Name: name}
	}
	return s
}

func (s *memRoleStore) FindRoleByName(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role, ok := s.roles[name]; ok {
		return role, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
}

func (s *memRoleStore) Attach(_ context.Context, userID string, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignments[userID] == nil {
		s.assignments[userID] = make(map[string]bool)
	}
	s.assignments[userID][role.Name] = true
	return nil
}

func (s *memRoleStore) Detach(_ context.Context, userID string, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments[userID], role.Name)
	return nil
}

func (s *memRoleStore) UserHasRole(_ context.Context, userID, roleName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignments[userID][roleName], nil
}

func (s *memRoleStore) userRoles(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, held := range s.assignments[userID] {
		if held {
			names = append(names, name)
		}
	}
	return names
}

// testProviderConfig returns a minimal valid configuration for tests.
func testProviderConfig() *Config {
	cfg := NewConfig()
	cfg.Directory.URLs = []string{"ldaps://dc1.example.com:636"}
	cfg.Directory.BaseDN = "ou=people,dc=example,dc=com"
	return cfg
}
