package database

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Security resources checked by the façade.
const (
	ResourceDatabase = "database"
	ResourceCluster  = "database.cluster"
	ResourceCommand  = "database.command"
	ResourceAll      = "*"
)

// Permission bits.
const (
	PermissionNone   byte = 0
	PermissionCreate byte = 1
	PermissionRead   byte = 2
	PermissionUpdate byte = 4
	PermissionDelete byte = 8
	PermissionAll         = PermissionCreate | PermissionRead | PermissionUpdate | PermissionDelete
)

// Well-known principals.
const (
	AdminUser       = "admin"
	DefaultPassword = "admin"
)

// A Role carries a rule set mapping resource keys to allowed operation
// bits.
type Role struct {
	Name  string
	rules map[string]byte
}

// NewRole returns a role with the given rules.
func NewRole(name string, rules map[string]byte) *Role {
	normalized := make(map[string]byte, len(rules))
	for key, ops := range rules {
		normalized[strings.ToLower(key)] = ops
	}
	return &Role{Name: name, rules: normalized}
}

// AdminRole grants everything on every resource.
func AdminRole() *Role {
	return NewRole("admin", map[string]byte{
		ResourceDatabase + "." + ResourceAll: PermissionAll,
		ResourceCluster + "." + ResourceAll:  PermissionAll,
		ResourceCommand + "." + ResourceAll:  PermissionAll,
		ResourceDatabase:                     PermissionAll,
		ResourceCommand:                      PermissionAll,
	})
}

// PassthroughRole allows everything; remote storages mint it instead of
// consulting schema security.
func PassthroughRole() *Role {
	r := AdminRole()
	r.Name = "passthrough"
	return r
}

// HasRule reports whether the role defines the resource key.
func (r *Role) HasRule(resource string) bool {
	_, ok := r.rules[strings.ToLower(resource)]
	return ok
}

// Allowed reports whether the role grants the operation on the key.
func (r *Role) Allowed(resource string, operation byte) bool {
	ops, ok := r.rules[strings.ToLower(resource)]
	return ok && ops&operation == operation
}

// A User is an authenticated principal with roles.
type User struct {
	Name         string
	PasswordHash []byte
	Roles        []*Role
}

// NewUser returns a user with a hashed password.
func NewUser(name, password string, roles ...*Role) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	return &User{Name: name, PasswordHash: hash, Roles: roles}, nil
}

// CheckPassword verifies the cleartext password against the stored
// hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) == nil
}

// IsRuleDefined reports whether any role defines the resource key.
func (u *User) IsRuleDefined(resource string) bool {
	for _, role := range u.Roles {
		if role.HasRule(resource) {
			return true
		}
	}
	return false
}

// Allow checks the operation against the resource key, failing with an
// access-denied error.
func (u *User) Allow(resource string, operation byte) error {
	for _, role := range u.Roles {
		if role.Allowed(resource, operation) {
			return nil
		}
	}
	return fmt.Errorf("%w: user %q, resource %q, operation %d",
		ErrAccessDenied, u.Name, resource, operation)
}

// SecurityStore holds the users of a database. It stands in for the
// schema security metadata, which is an external collaborator.
type SecurityStore struct {
	lock  sync.Mutex
	users map[string]*User
}

// NewSecurityStore returns a store seeded with the admin user.
func NewSecurityStore() *SecurityStore {
	s := &SecurityStore{users: make(map[string]*User)}
	admin, err := NewUser(AdminUser, DefaultPassword, AdminRole())
	if err != nil {
		panic(err)
	}
	s.users[AdminUser] = admin
	return s
}

// Authenticate verifies credentials and returns the user.
func (s *SecurityStore) Authenticate(name, password string) (*User, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	user, ok := s.users[name]
	if !ok || !user.CheckPassword(password) {
		return nil, fmt.Errorf("%w for user %q", ErrInvalidUser, name)
	}
	return user, nil
}

// GetUser returns the user by name, nil when unknown.
func (s *SecurityStore) GetUser(name string) *User {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.users[name]
}

// PutUser stores or replaces a user.
func (s *SecurityStore) PutUser(user *User) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.users[user.Name] = user
}

// Repair reinstalls the admin user with the default role and password
// and returns it. Called through the corruption-repair listener path
// when an authenticated user has no roles.
func (s *SecurityStore) Repair() (*User, error) {
	admin, err := NewUser(AdminUser, DefaultPassword, AdminRole())
	if err != nil {
		return nil, err
	}
	s.PutUser(admin)
	return admin, nil
}
