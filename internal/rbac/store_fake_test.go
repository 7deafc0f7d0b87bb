package rbac

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type fakeStore struct {
	mu         sync.Mutex
	users      map[int64]*int64
	roles      map[int64]*Role
	perms      map[int64]Permission
	rolePerms  map[int64][]int64
	direct     map[int64]map[int64]bool
	nextPermID int64

	accessErr  error
	holdersErr error
	// beforeAccess runs on every FindUserAccess call, outside the lock.
	beforeAccess func(userID int64)
	accessCalls  atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[int64]*int64),
		roles:      make(map[int64]*Role),
		perms:      make(map[int64]Permission),
		rolePerms:  make(map[int64][]int64),
		direct:     make(map[int64]map[int64]bool),
		nextPermID: 1,
	}
}

func (f *fakeStore) addRole(id int64, label string, system bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.roles[id] = &Role{ID: id, Label: label, IsSystem: system, CreatedAt: now, UpdatedAt: now}
}

func (f *fakeStore) addUser(id int64, roleID *int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = roleID
}

// addPermission persists the pair and returns its id.
func (f *fakeStore) addPermission(resource, action string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextPermID
	f.nextPermID++
	f.perms[id] = Permission{ID: id, Resource: resource, Action: action}
	return id
}

func (f *fakeStore) grantRole(roleID int64, permIDs ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolePerms[roleID] = append(f.rolePerms[roleID], permIDs...)
}

func (f *fakeStore) directRows(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.direct[userID])
}

func (f *fakeStore) FindUserAccess(_ context.Context, userID int64) (*UserAccess, error) {
	f.accessCalls.Add(1)
	if f.beforeAccess != nil {
		f.beforeAccess(userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accessErr != nil {
		return nil, f.accessErr
	}
	roleID, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	access := &UserAccess{UserID: userID}
	if roleID != nil {
		if role, ok := f.roles[*roleID]; ok {
			copied := *role
			access.Role = &copied
			for _, pid := range f.rolePerms[role.ID] {
				access.RolePermissions = append(access.RolePermissions, f.perms[pid])
			}
		}
	}
	pids := make([]int64, 0, len(f.direct[userID]))
	for pid := range f.direct[userID] {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	for _, pid := range pids {
		access.Direct = append(access.Direct, DirectGrant{Permission: f.perms[pid], Granted: f.direct[userID][pid]})
	}
	return access, nil
}

func (f *fakeStore) FindPermission(_ context.Context, resource, action string) (*Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.perms {
		if p.Resource == resource && p.Action == action {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreatePermission(_ context.Context, resource, action, description string) (Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := Permission{ID: f.nextPermID, Resource: resource, Action: action, Description: description}
	f.nextPermID++
	f.perms[p.ID] = p
	return p, nil
}

func (f *fakeStore) ListPermissions(context.Context) ([]Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Permission, 0, len(f.perms))
	for _, p := range f.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (f *fakeStore) UpsertUserPermission(_ context.Context, userID, permissionID int64, granted bool, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.direct[userID] == nil {
		f.direct[userID] = make(map[int64]bool)
	}
	f.direct[userID][permissionID] = granted
	return nil
}

func (f *fakeStore) ReplaceRolePermissions(_ context.Context, roleID int64, permissionIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rolePerms[roleID] = append([]int64(nil), permissionIDs...)
	return nil
}

func (f *fakeStore) FindUserIDsByRole(_ context.Context, roleID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holdersErr != nil {
		return nil, f.holdersErr
	}
	var ids []int64
	for uid, rid := range f.users {
		if rid != nil && *rid == roleID {
			ids = append(ids, uid)
		}
	}
	return ids, nil
}

func (f *fakeStore) UpdateUserRole(_ context.Context, userID int64, roleID *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		return ErrNotFound
	}
	f.users[userID] = roleID
	return nil
}

func (f *fakeStore) FindRole(_ context.Context, roleID int64) (*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[roleID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *role
	return &copied, nil
}

func (f *fakeStore) FindRoleByLabel(_ context.Context, label string) (*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, role := range f.roles {
		if role.Label == label {
			copied := *role
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

var _ Store = (*fakeStore)(nil)

type recordingNotifier struct {
	mu          sync.Mutex
	invalidated []int64
	clears      int
}

func (n *recordingNotifier) NotifyInvalidate(_ context.Context, userID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invalidated = append(n.invalidated, userID)
	return nil
}

func (n *recordingNotifier) NotifyClear(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clears++
	return nil
}

func ptr(v int64) *int64 { return &v }
