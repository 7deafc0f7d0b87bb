package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	viewerRoleID int64 = 10
	superRoleID  int64 = 1
	adminID      int64 = 99
)

type serviceFixture struct {
	store    *fakeStore
	cache    *MemoryCache
	notifier *recordingNotifier
	svc      *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	cache, err := NewMemoryCache(time.Minute, 100)
	require.NoError(t, err)
	store := newFakeStore()
	store.addRole(superRoleID, DefaultSuperRole, true)
	store.addRole(viewerRoleID, "viewer", false)
	notifier := &recordingNotifier{}
	svc := NewService(store, ServiceConfig{Cache: cache, Catalog: catalog, Notifier: notifier})
	return &serviceFixture{store: store, cache: cache, notifier: notifier, svc: svc}
}

func TestHasPermissionDeniesByDefault(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, nil)

	assert.False(t, f.svc.HasPermission(ctx, 1, "clients", "read"))
	assert.False(t, f.svc.HasPermission(ctx, 404, "clients", "read"), "unknown users are denied")

	perms, err := f.svc.EffectivePermissions(ctx, 404)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestViewerRoleWithDirectOverrides(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	read := f.store.addPermission("clients", "read")
	f.store.addPermission("clients", "delete")
	f.store.grantRole(viewerRoleID, read)
	f.store.addUser(1, ptr(viewerRoleID))

	assert.True(t, f.svc.HasPermission(ctx, 1, "clients", "read"))
	assert.False(t, f.svc.HasPermission(ctx, 1, "clients", "delete"))

	require.NoError(t, f.svc.RevokeDirect(ctx, 1, "clients", "read", adminID))
	assert.False(t, f.svc.HasPermission(ctx, 1, "clients", "read"), "direct revoke beats the role grant")

	require.NoError(t, f.svc.GrantDirect(ctx, 1, "clients", "create", adminID))
	assert.True(t, f.svc.HasPermission(ctx, 1, "clients", "create"))

	perms, err := f.svc.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []EffectivePermission{
		{Resource: "clients", Action: "read", Granted: false, Source: SourceDirect},
		{Resource: "clients", Action: "create", Granted: true, Source: SourceDirect},
	}, perms)
}

func TestRoleChangeVisibleToHoldersImmediately(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	read := f.store.addPermission("clients", "read")
	create := f.store.addPermission("clients", "create")
	f.store.grantRole(viewerRoleID, read)
	f.store.addUser(1, ptr(viewerRoleID))
	f.store.addUser(2, ptr(viewerRoleID))
	f.store.addUser(3, nil)

	for _, uid := range []int64{1, 2, 3} {
		f.svc.HasPermission(ctx, uid, "clients", "create")
	}
	require.Equal(t, 3, f.cache.Len())

	require.NoError(t, f.svc.SetRolePermissions(ctx, viewerRoleID, []int64{read, create, create}))

	assert.True(t, f.svc.HasPermission(ctx, 1, "clients", "create"))
	assert.True(t, f.svc.HasPermission(ctx, 2, "clients", "create"))
	assert.False(t, f.svc.HasPermission(ctx, 3, "clients", "create"))
	assert.ElementsMatch(t, []int64{1, 2}, f.notifier.invalidated)
}

func TestSetRolePermissionsClearsCacheWhenHoldersUnknown(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	read := f.store.addPermission("clients", "read")
	f.store.addUser(1, ptr(viewerRoleID))
	f.svc.HasPermission(ctx, 1, "clients", "read")
	f.store.holdersErr = errors.New("connection reset")

	require.NoError(t, f.svc.SetRolePermissions(ctx, viewerRoleID, []int64{read}))

	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, 1, f.notifier.clears)
	f.store.holdersErr = nil
	assert.True(t, f.svc.HasPermission(ctx, 1, "clients", "read"))
}

func TestSetRolePermissionsValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	err := f.svc.SetRolePermissions(ctx, superRoleID, nil)
	assert.ErrorIs(t, err, ErrSystemRole)

	err = f.svc.SetRolePermissions(ctx, 777, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.SetRolePermissions(ctx, viewerRoleID, []int64{1, 0})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGrantDirectRejectsUnregisteredPair(t *testing.T) {
	f := newServiceFixture(t)
	f.store.addUser(1, nil)

	err := f.svc.GrantDirect(context.Background(), 1, "rockets", "launch", adminID)
	assert.ErrorIs(t, err, ErrUnknownPermission)
	assert.Zero(t, f.store.directRows(1))

	err = f.svc.GrantDirect(context.Background(), 0, "clients", "read", adminID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGrantDirectIsIdempotentAndNormalizesCase(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, nil)

	require.NoError(t, f.svc.GrantDirect(ctx, 1, "Clients", " READ ", adminID))
	require.NoError(t, f.svc.GrantDirect(ctx, 1, "clients", "read", adminID))

	assert.Equal(t, 1, f.store.directRows(1))
	assert.True(t, f.svc.HasPermission(ctx, 1, "CLIENTS", "read"))
}

func TestRevokeDirectOfNeverPersistedPermission(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, nil)

	require.NoError(t, f.svc.RevokeDirect(ctx, 1, "stock", "delete", adminID))
	assert.Zero(t, f.store.directRows(1))

	err := f.svc.RevokeDirect(ctx, 1, "rockets", "launch", adminID)
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestHasPermissionFailsClosed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, ptr(superRoleID))
	f.store.accessErr = errors.New("database unavailable")

	assert.False(t, f.svc.HasPermission(ctx, 1, "clients", "read"))
	_, err := f.svc.Authorize(ctx, 1, "clients", "read")
	assert.Error(t, err)
	assert.Equal(t, 0, f.cache.Len(), "failed loads are not cached")
}

func TestSuperuserBypassesChecks(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, nil)

	require.NoError(t, f.svc.BootstrapSuperuser(ctx, 1))

	assert.True(t, f.svc.HasPermission(ctx, 1, "factures", "validate"))
	assert.True(t, f.svc.HasPermission(ctx, 1, "anything", "goes"))
	perms, err := f.svc.EffectivePermissions(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestNonSystemRoleWithSuperLabelIsNotSuperuser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	delete(f.store.roles, superRoleID)
	f.store.addRole(50, DefaultSuperRole, false)
	f.store.addUser(1, ptr(50))

	assert.False(t, f.svc.HasPermission(ctx, 1, "clients", "read"))
}

func TestAssignRoleGuardsSuperRole(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, nil)
	f.store.addUser(2, ptr(superRoleID))

	err := f.svc.AssignRole(ctx, 1, ptr(superRoleID))
	assert.ErrorIs(t, err, ErrSystemRole)

	err = f.svc.AssignRole(ctx, 2, ptr(viewerRoleID))
	assert.ErrorIs(t, err, ErrSystemRole, "super role holders cannot be demoted over HTTP")

	err = f.svc.AssignRole(ctx, 404, ptr(viewerRoleID))
	assert.ErrorIs(t, err, ErrNotFound)

	err = f.svc.AssignRole(ctx, 1, ptr(777))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignRoleInvalidatesUser(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	read := f.store.addPermission("clients", "read")
	f.store.grantRole(viewerRoleID, read)
	f.store.addUser(1, nil)

	assert.False(t, f.svc.HasPermission(ctx, 1, "clients", "read"))
	require.NoError(t, f.svc.AssignRole(ctx, 1, ptr(viewerRoleID)))
	assert.True(t, f.svc.HasPermission(ctx, 1, "clients", "read"))

	require.NoError(t, f.svc.AssignRole(ctx, 1, nil))
	assert.False(t, f.svc.HasPermission(ctx, 1, "clients", "read"))
}

func TestHasOwnershipPermission(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, nil)

	assert.True(t, f.svc.HasOwnershipPermission(ctx, 1, "missions", "update", 1))
	assert.False(t, f.svc.HasOwnershipPermission(ctx, 1, "missions", "update", 2))
	assert.False(t, f.svc.HasOwnershipPermission(ctx, 0, "missions", "update", 0))
}

func TestCachedSetIsReusedUntilInvalidated(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, nil)

	f.svc.HasPermission(ctx, 1, "clients", "read")
	f.svc.HasPermission(ctx, 1, "clients", "create")
	assert.EqualValues(t, 1, f.store.accessCalls.Load())

	require.NoError(t, f.svc.InvalidateUser(ctx, 1))
	f.svc.HasPermission(ctx, 1, "clients", "read")
	assert.EqualValues(t, 2, f.store.accessCalls.Load())

	require.NoError(t, f.svc.ClearCache(ctx))
	f.svc.HasPermission(ctx, 1, "clients", "read")
	assert.EqualValues(t, 3, f.store.accessCalls.Load())
}

func TestStaleLoadIsNotWrittenBack(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	read := f.store.addPermission("clients", "read")
	f.store.addUser(1, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.store.beforeAccess = func(int64) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan bool)
	go func() {
		done <- f.svc.HasPermission(ctx, 1, "clients", "read")
	}()
	<-entered
	// Grant and invalidate while the load is in flight.
	require.NoError(t, f.store.UpsertUserPermission(ctx, 1, read, true, adminID))
	require.NoError(t, f.svc.InvalidateUser(ctx, 1))
	close(release)

	<-done
	assert.Equal(t, 0, f.cache.Len(), "a load that raced an invalidation must not be cached")
	assert.True(t, f.svc.HasPermission(ctx, 1, "clients", "read"))
}

func TestConcurrentLoadsAreCoalesced(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.store.beforeAccess = func(int64) {
		once.Do(func() { close(entered) })
		<-release
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.svc.HasPermission(ctx, 1, "clients", "read")
	}()
	<-entered
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.HasPermission(ctx, 1, "clients", "read")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, f.store.accessCalls.Load())
}

func TestResolveHonoursCallerCancellation(t *testing.T) {
	f := newServiceFixture(t)
	f.store.addUser(1, nil)
	release := make(chan struct{})
	f.store.beforeAccess = func(int64) { <-release }
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.svc.Resolve(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDropLocalDoesNotNotifyPeers(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.store.addUser(1, nil)
	f.svc.HasPermission(ctx, 1, "clients", "read")

	f.svc.DropLocal(ctx, 1)
	f.svc.DropAllLocal(ctx)

	assert.Equal(t, 0, f.cache.Len())
	assert.Empty(t, f.notifier.invalidated)
	assert.Zero(t, f.notifier.clears)
}

func TestSyncCatalogGrantsSuperRoleEverything(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	existing := f.store.addPermission("clients", "read")
	f.store.addUser(1, ptr(superRoleID))

	report, err := f.svc.SyncCatalog(ctx)
	require.NoError(t, err)

	pairs := f.svc.Catalog().Pairs()
	assert.Equal(t, len(pairs), report.Registered)
	assert.Equal(t, len(pairs)-1, report.Created)
	assert.True(t, report.SuperRoleFound)
	assert.Len(t, f.store.rolePerms[superRoleID], len(pairs))
	assert.Contains(t, f.store.rolePerms[superRoleID], existing)
	assert.Contains(t, f.notifier.invalidated, int64(1))

	again, err := f.svc.SyncCatalog(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
}

func TestSyncCatalogWithoutSuperRole(t *testing.T) {
	f := newServiceFixture(t)
	delete(f.store.roles, superRoleID)

	report, err := f.svc.SyncCatalog(context.Background())
	require.NoError(t, err)
	assert.False(t, report.SuperRoleFound)
	assert.Positive(t, report.Created)
}

func TestMergePermissionsDirectReplacesRoleEntry(t *testing.T) {
	role := []Permission{
		{ID: 1, Resource: "clients", Action: "read"},
		{ID: 1, Resource: "clients", Action: "read"},
		{ID: 2, Resource: "stock", Action: "read"},
	}
	direct := []DirectGrant{
		{Permission: Permission{ID: 2, Resource: "stock", Action: "read"}, Granted: false},
		{Permission: Permission{ID: 3, Resource: "devis", Action: "validate"}, Granted: true},
	}

	merged := mergePermissions(role, direct)

	assert.Equal(t, []EffectivePermission{
		{Resource: "clients", Action: "read", Granted: true, Source: SourceRole},
		{Resource: "stock", Action: "read", Granted: false, Source: SourceDirect},
		{Resource: "devis", Action: "validate", Granted: true, Source: SourceDirect},
	}, merged)

	set := PermissionSet{Permissions: merged}
	assert.True(t, set.Allows("clients", "read"))
	assert.False(t, set.Allows("stock", "read"))
	assert.True(t, set.Allows("devis", "validate"))
	assert.False(t, set.Allows("devis", "read"))
}
