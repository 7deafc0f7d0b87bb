package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultSuperRole is the label of the seeded break-glass role.
const DefaultSuperRole = "superadmin"

// Notifier propagates invalidations to other processes.
type Notifier interface {
	NotifyInvalidate(ctx context.Context, userID int64) error
	NotifyClear(ctx context.Context) error
}

// ServiceConfig carries optional collaborators for Service.
type ServiceConfig struct {
	Cache     Cache
	Catalog   *Catalog
	Logger    *slog.Logger
	Metrics   *Metrics
	Notifier  Notifier
	SuperRole string
}

// Service resolves effective permissions and applies permission mutations.
type Service struct {
	store     Store
	cache     Cache
	catalog   *Catalog
	logger    *slog.Logger
	metrics   *Metrics
	notifier  Notifier
	superRole string

	loads singleflight.Group
	gens  generations
}

// NewService constructs a Service. A nil cache falls back to an in-memory cache with defaults.
func NewService(store Store, cfg ServiceConfig) *Service {
	cache := cfg.Cache
	if cache == nil {
		mem, err := NewMemoryCache(DefaultCacheTTL, DefaultCacheSize)
		if err != nil {
			panic(err)
		}
		cache = mem
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	superRole := strings.TrimSpace(cfg.SuperRole)
	if superRole == "" {
		superRole = DefaultSuperRole
	}
	return &Service{
		store:     store,
		cache:     cache,
		catalog:   cfg.Catalog,
		logger:    logger,
		metrics:   cfg.Metrics,
		notifier:  cfg.Notifier,
		superRole: superRole,
		gens:      generations{perUser: make(map[int64]uint64)},
	}
}

// Catalog exposes the registered permission catalog.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// SuperRole returns the label of the break-glass role.
func (s *Service) SuperRole() string {
	return s.superRole
}

// HasPermission reports whether the user may perform action on resource.
// Load failures are logged and resolved as a denial.
func (s *Service) HasPermission(ctx context.Context, userID int64, resource, action string) bool {
	allowed, err := s.Authorize(ctx, userID, resource, action)
	if err != nil {
		s.metrics.loadFailure()
		s.logger.Error("rbac permission check failed closed",
			slog.Int64("user_id", userID),
			slog.String("permission", resource+":"+action),
			slog.Any("error", err))
		return false
	}
	return allowed
}

// Authorize is HasPermission with the load error surfaced to the caller.
func (s *Service) Authorize(ctx context.Context, userID int64, resource, action string) (bool, error) {
	pair := normalizePair(Pair{Resource: resource, Action: action})
	set, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := set.Allows(pair.Resource, pair.Action)
	s.metrics.decision(allowed)
	return allowed, nil
}

// HasOwnershipPermission allows the owner of a resource even without the global permission.
func (s *Service) HasOwnershipPermission(ctx context.Context, userID int64, resource, action string, ownerID int64) bool {
	if s.HasPermission(ctx, userID, resource, action) {
		return true
	}
	return userID > 0 && userID == ownerID
}

// EffectivePermissions returns the merged role and direct permissions of the user.
// Unknown users yield an empty list.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	set, err := s.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]EffectivePermission, len(set.Permissions))
	copy(out, set.Permissions)
	return out, nil
}

// Resolve returns the user's permission set, cache first.
func (s *Service) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	if set, ok := s.cache.Get(ctx, userID); ok {
		s.metrics.cacheLookup(true)
		return set, nil
	}
	s.metrics.cacheLookup(false)

	token := s.gens.token(userID)
	ch := s.loads.DoChan(token.key(userID), func() (any, error) {
		loadCtx := context.WithoutCancel(ctx)
		set, err := s.load(loadCtx, userID)
		if err != nil {
			return PermissionSet{}, err
		}
		s.gens.putIfCurrent(token, userID, func() {
			if err := s.cache.Put(loadCtx, userID, set); err != nil {
				s.logger.Warn("rbac cache put", slog.Int64("user_id", userID), slog.Any("error", err))
			}
		})
		return set, nil
	})
	select {
	case <-ctx.Done():
		return PermissionSet{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return PermissionSet{}, res.Err
		}
		return res.Val.(PermissionSet), nil
	}
}

func (s *Service) load(ctx context.Context, userID int64) (PermissionSet, error) {
	access, err := s.store.FindUserAccess(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("rbac: load access for user %d: %w", userID, err)
	}
	if access == nil {
		return PermissionSet{Permissions: []EffectivePermission{}}, nil
	}
	return PermissionSet{
		Permissions: mergePermissions(access.RolePermissions, access.Direct),
		Superuser:   s.isSuperRole(access.Role),
	}, nil
}

// mergePermissions builds the role-derived list and lets each direct row replace
// the role entry for the same pair, appending otherwise.
func mergePermissions(role []Permission, direct []DirectGrant) []EffectivePermission {
	merged := make([]EffectivePermission, 0, len(role)+len(direct))
	index := make(map[Pair]int, len(role)+len(direct))
	for _, p := range role {
		key := Pair{Resource: p.Resource, Action: p.Action}
		if _, ok := index[key]; ok {
			continue
		}
		index[key] = len(merged)
		merged = append(merged, EffectivePermission{Resource: p.Resource, Action: p.Action, Granted: true, Source: SourceRole})
	}
	for _, d := range direct {
		key := Pair{Resource: d.Permission.Resource, Action: d.Permission.Action}
		entry := EffectivePermission{Resource: key.Resource, Action: key.Action, Granted: d.Granted, Source: SourceDirect}
		if i, ok := index[key]; ok {
			merged[i] = entry
			continue
		}
		index[key] = len(merged)
		merged = append(merged, entry)
	}
	return merged
}

func (s *Service) isSuperRole(role *Role) bool {
	return role != nil && role.IsSystem && role.Label == s.superRole
}

// GrantDirect gives the user an explicit grant that overrides the role.
func (s *Service) GrantDirect(ctx context.Context, userID int64, resource, action string, actorID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id %d", ErrInvalidInput, userID)
	}
	pair, ok := s.catalog.Resolve(Pair{Resource: resource, Action: action})
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPermission, pair)
	}
	perm, err := s.store.FindPermission(ctx, pair.Resource, pair.Action)
	if err != nil {
		return fmt.Errorf("rbac: find permission %s: %w", pair, err)
	}
	if perm == nil {
		created, err := s.store.CreatePermission(ctx, pair.Resource, pair.Action, s.catalog.Description(pair))
		if err != nil {
			return fmt.Errorf("rbac: create permission %s: %w", pair, err)
		}
		perm = &created
	}
	if err := s.store.UpsertUserPermission(ctx, userID, perm.ID, true, actorID); err != nil {
		return fmt.Errorf("rbac: grant %s to user %d: %w", pair, userID, err)
	}
	return s.invalidate(ctx, userID)
}

// RevokeDirect records an explicit revoke that overrides the role.
// It is a no-op when the permission has never been persisted.
func (s *Service) RevokeDirect(ctx context.Context, userID int64, resource, action string, actorID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id %d", ErrInvalidInput, userID)
	}
	pair, registered := s.catalog.Resolve(Pair{Resource: resource, Action: action})
	if pair.Resource == "" || pair.Action == "" {
		return fmt.Errorf("%w: empty resource or action", ErrInvalidInput)
	}
	perm, err := s.store.FindPermission(ctx, pair.Resource, pair.Action)
	if err != nil {
		return fmt.Errorf("rbac: find permission %s: %w", pair, err)
	}
	if perm == nil {
		if !registered {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, pair)
		}
		return s.invalidate(ctx, userID)
	}
	if err := s.store.UpsertUserPermission(ctx, userID, perm.ID, false, actorID); err != nil {
		return fmt.Errorf("rbac: revoke %s from user %d: %w", pair, userID, err)
	}
	return s.invalidate(ctx, userID)
}

// SetRolePermissions replaces the role's grants and invalidates every user holding the role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	role, err := s.store.FindRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: %s", ErrSystemRole, role.Label)
	}
	ids, err := dedupeIDs(permissionIDs)
	if err != nil {
		return err
	}
	if err := s.store.ReplaceRolePermissions(ctx, roleID, ids); err != nil {
		return fmt.Errorf("rbac: replace permissions of role %d: %w", roleID, err)
	}
	userIDs, err := s.store.FindUserIDsByRole(ctx, roleID)
	if err != nil {
		// The grants are committed but the holders are unknown; drop everything.
		s.logger.Warn("rbac list role holders, clearing cache", slog.Int64("role_id", roleID), slog.Any("error", err))
		return s.ClearCache(ctx)
	}
	for _, id := range userIDs {
		if err := s.invalidate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// AssignRole sets (or clears with nil) the user's role. The break-glass role can only be
// granted or removed through BootstrapSuperuser.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleID *int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id %d", ErrInvalidInput, userID)
	}
	if roleID != nil {
		role, err := s.store.FindRole(ctx, *roleID)
		if err != nil {
			return err
		}
		if s.isSuperRole(role) {
			return fmt.Errorf("%w: %s is assigned out of band", ErrSystemRole, role.Label)
		}
	}
	current, err := s.store.FindUserAccess(ctx, userID)
	if err != nil {
		return fmt.Errorf("rbac: load user %d: %w", userID, err)
	}
	if current == nil {
		return ErrNotFound
	}
	if s.isSuperRole(current.Role) {
		return fmt.Errorf("%w: user %d holds %s", ErrSystemRole, userID, current.Role.Label)
	}
	if err := s.store.UpdateUserRole(ctx, userID, roleID); err != nil {
		return fmt.Errorf("rbac: assign role to user %d: %w", userID, err)
	}
	return s.invalidate(ctx, userID)
}

// BootstrapSuperuser assigns the break-glass role directly, bypassing the HTTP guards.
func (s *Service) BootstrapSuperuser(ctx context.Context, userID int64) error {
	role, err := s.store.FindRoleByLabel(ctx, s.superRole)
	if err != nil {
		return fmt.Errorf("rbac: find role %s: %w", s.superRole, err)
	}
	if !role.IsSystem {
		return fmt.Errorf("rbac: role %s must be a system role", s.superRole)
	}
	if err := s.store.UpdateUserRole(ctx, userID, &role.ID); err != nil {
		return fmt.Errorf("rbac: assign %s to user %d: %w", s.superRole, userID, err)
	}
	return s.invalidate(ctx, userID)
}

// InvalidateUser drops the user's cached permissions here and, when configured, on peers.
func (s *Service) InvalidateUser(ctx context.Context, userID int64) error {
	return s.invalidate(ctx, userID)
}

// ClearCache drops every cached permission set here and, when configured, on peers.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.clearLocal(ctx); err != nil {
		return err
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyClear(ctx); err != nil {
			s.logger.Warn("rbac notify clear", slog.Any("error", err))
		}
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) error {
	if err := s.dropLocal(ctx, userID); err != nil {
		return err
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyInvalidate(ctx, userID); err != nil {
			s.logger.Warn("rbac notify invalidate", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	return nil
}

// DropLocal invalidates one user without notifying peers. Used by the invalidation bus.
func (s *Service) DropLocal(ctx context.Context, userID int64) {
	if err := s.dropLocal(ctx, userID); err != nil {
		s.logger.Warn("rbac drop local entry", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// DropAllLocal clears the cache without notifying peers. Used by the invalidation bus.
func (s *Service) DropAllLocal(ctx context.Context) {
	if err := s.clearLocal(ctx); err != nil {
		s.logger.Warn("rbac clear cache", slog.Any("error", err))
	}
}

func (s *Service) clearLocal(ctx context.Context) error {
	s.gens.reset()
	s.metrics.invalidation("all")
	if err := s.cache.Clear(ctx); err != nil {
		return fmt.Errorf("rbac: clear cache: %w", err)
	}
	return nil
}

func (s *Service) dropLocal(ctx context.Context, userID int64) error {
	s.gens.bump(userID)
	s.metrics.invalidation("user")
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("rbac: invalidate user %d: %w", userID, err)
	}
	return nil
}

func dedupeIDs(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w: permission id %d", ErrInvalidInput, id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// generations versions each user's cache entry so a load that began before an
// invalidation can neither be joined by later callers nor written back.
type generations struct {
	mu      sync.Mutex
	epoch   uint64
	perUser map[int64]uint64
}

type genToken struct {
	epoch uint64
	gen   uint64
}

func (t genToken) key(userID int64) string {
	return strconv.FormatInt(userID, 10) + "/" + strconv.FormatUint(t.epoch, 10) + "/" + strconv.FormatUint(t.gen, 10)
}

func (g *generations) token(userID int64) genToken {
	g.mu.Lock()
	defer g.mu.Unlock()
	return genToken{epoch: g.epoch, gen: g.perUser[userID]}
}

func (g *generations) bump(userID int64) {
	g.mu.Lock()
	g.perUser[userID]++
	g.mu.Unlock()
}

func (g *generations) reset() {
	g.mu.Lock()
	g.epoch++
	g.perUser = make(map[int64]uint64)
	g.mu.Unlock()
}

// putIfCurrent runs put while holding the lock, only if no invalidation happened since t.
func (g *generations) putIfCurrent(t genToken, userID int64, put func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.epoch != t.epoch || g.perUser[userID] != t.gen {
		return
	}
	put()
}
