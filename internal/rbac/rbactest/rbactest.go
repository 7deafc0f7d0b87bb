// Package rbactest provides an in-memory rbac.Store and request helpers for handler tests.
package rbactest

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fieldops/fieldops/internal/rbac"
	"github.com/fieldops/fieldops/internal/shared"
)

// Store is a map backed rbac.Store.
type Store struct {
	mu        sync.Mutex
	users     map[int64]*int64
	roles     map[int64]rbac.Role
	perms     []rbac.Permission
	rolePerms map[int64][]int64
	direct    map[int64]map[int64]bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		users:     make(map[int64]*int64),
		roles:     make(map[int64]rbac.Role),
		rolePerms: make(map[int64][]int64),
		direct:    make(map[int64]map[int64]bool),
	}
}

// AddRole registers a role.
func (s *Store) AddRole(id int64, label string, system bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[id] = rbac.Role{ID: id, Label: label, IsSystem: system, CreatedAt: time.Now(), UpdatedAt: time.Now()}
}

// AddUser registers a user holding roleID (nil for none).
func (s *Store) AddUser(id int64, roleID *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = roleID
}

// GrantRole gives the role resource:action, persisting the permission when needed.
func (s *Store) GrantRole(roleID int64, resource, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensurePermission(resource, action)
	s.rolePerms[roleID] = append(s.rolePerms[roleID], p.ID)
}

func (s *Store) ensurePermission(resource, action string) rbac.Permission {
	for _, p := range s.perms {
		if p.Resource == resource && p.Action == action {
			return p
		}
	}
	p := rbac.Permission{ID: int64(len(s.perms) + 1), Resource: resource, Action: action}
	s.perms = append(s.perms, p)
	return p
}

func (s *Store) permission(id int64) rbac.Permission {
	for _, p := range s.perms {
		if p.ID == id {
			return p
		}
	}
	return rbac.Permission{}
}

func (s *Store) FindUserAccess(_ context.Context, userID int64) (*rbac.UserAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roleID, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	access := &rbac.UserAccess{UserID: userID}
	if roleID != nil {
		if role, ok := s.roles[*roleID]; ok {
			access.Role = &role
			for _, id := range s.rolePerms[role.ID] {
				access.RolePermissions = append(access.RolePermissions, s.permission(id))
			}
		}
	}
	for id, granted := range s.direct[userID] {
		access.Direct = append(access.Direct, rbac.DirectGrant{Permission: s.permission(id), Granted: granted})
	}
	return access, nil
}

func (s *Store) FindPermission(_ context.Context, resource, action string) (*rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.perms {
		if p.Resource == resource && p.Action == action {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) CreatePermission(_ context.Context, resource, action, description string) (rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.ensurePermission(resource, action)
	p.Description = description
	return p, nil
}

func (s *Store) ListPermissions(context.Context) ([]rbac.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]rbac.Permission(nil), s.perms...), nil
}

func (s *Store) UpsertUserPermission(_ context.Context, userID, permissionID int64, granted bool, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.direct[userID] == nil {
		s.direct[userID] = make(map[int64]bool)
	}
	s.direct[userID][permissionID] = granted
	return nil
}

func (s *Store) ReplaceRolePermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolePerms[roleID] = append([]int64(nil), permissionIDs...)
	return nil
}

func (s *Store) FindUserIDsByRole(_ context.Context, roleID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, rid := range s.users {
		if rid != nil && *rid == roleID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) UpdateUserRole(_ context.Context, userID int64, roleID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return rbac.ErrNotFound
	}
	s.users[userID] = roleID
	return nil
}

func (s *Store) FindRole(_ context.Context, roleID int64) (*rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return nil, rbac.ErrNotFound
	}
	return &role, nil
}

func (s *Store) FindRoleByLabel(_ context.Context, label string) (*rbac.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range s.roles {
		if role.Label == label {
			found := role
			return &found, nil
		}
	}
	return nil, rbac.ErrNotFound
}

var _ rbac.Store = (*Store)(nil)

// NewMiddleware builds a service over store with the default catalog and returns its guards.
func NewMiddleware(store *Store) (rbac.Middleware, *rbac.Service) {
	catalog, err := rbac.DefaultCatalog()
	if err != nil {
		panic(err)
	}
	svc := rbac.NewService(store, rbac.ServiceConfig{Catalog: catalog})
	return rbac.Middleware{Service: svc, Catalog: catalog}, svc
}

// AsUser attaches a session authenticated as userID. Zero leaves the request anonymous.
func AsUser(r *http.Request, userID int64) *http.Request {
	if userID == 0 {
		return r
	}
	sessions := shared.NewSessionManager(nil, "test_session", "secret", time.Hour, false)
	sess, err := sessions.Load(r.Context(), r)
	if err != nil {
		panic(err)
	}
	sess.SetUser(strconv.FormatInt(userID, 10))
	return r.WithContext(shared.ContextWithSession(r.Context(), sess))
}
