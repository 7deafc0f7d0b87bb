package roles

import (
	"context"
	"strings"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, label, description string) (Role, error)
}

// PermissionAssigner replaces the permissions granted by a role.
type PermissionAssigner interface {
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
}

// Service handles role business logic.
type Service struct {
	repo  RepositoryPort
	perms PermissionAssigner
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, perms PermissionAssigner) *Service {
	return &Service{repo: repo, perms: perms}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole returns a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a role.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (Role, error) {
	return s.repo.CreateRole(ctx, strings.TrimSpace(in.Label), strings.TrimSpace(in.Description))
}

// SetPermissions replaces the role's permissions and returns the updated role.
func (s *Service) SetPermissions(ctx context.Context, roleID int64, in SetPermissionsInput) (Role, error) {
	if err := s.perms.SetRolePermissions(ctx, roleID, in.PermissionIDs); err != nil {
		return Role{}, err
	}
	return s.repo.GetRole(ctx, roleID)
}
