package users

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/fieldops/fieldops/internal/rbac"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	CreateUser(ctx context.Context, email, name, passwordHash string) (int64, error)
}

// AccessManager is the subset of the permission engine used for account administration.
type AccessManager interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]rbac.EffectivePermission, error)
	GrantDirect(ctx context.Context, userID int64, resource, action string, actorID int64) error
	RevokeDirect(ctx context.Context, userID int64, resource, action string, actorID int64) error
	AssignRole(ctx context.Context, userID int64, roleID *int64) error
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	access AccessManager
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, access AccessManager) *Service {
	return &Service{repo: repo, access: access}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// CreateUser registers an account and optionally assigns its role.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	id, err := s.repo.CreateUser(ctx, strings.ToLower(strings.TrimSpace(in.Email)), strings.TrimSpace(in.Name), string(hash))
	if err != nil {
		return User{}, err
	}
	if in.RoleID != nil {
		if err := s.access.AssignRole(ctx, id, in.RoleID); err != nil {
			return User{}, err
		}
	}
	return s.repo.GetUser(ctx, id)
}

// Permissions lists the user's effective permissions.
func (s *Service) Permissions(ctx context.Context, userID int64) ([]rbac.EffectivePermission, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.access.EffectivePermissions(ctx, userID)
}

// Grant adds a direct grant on behalf of actorID.
func (s *Service) Grant(ctx context.Context, userID int64, in PermissionInput, actorID int64) ([]rbac.EffectivePermission, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.access.GrantDirect(ctx, userID, in.Resource, in.Action, actorID); err != nil {
		return nil, err
	}
	return s.access.EffectivePermissions(ctx, userID)
}

// Revoke records a direct revocation on behalf of actorID.
func (s *Service) Revoke(ctx context.Context, userID int64, in PermissionInput, actorID int64) ([]rbac.EffectivePermission, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.access.RevokeDirect(ctx, userID, in.Resource, in.Action, actorID); err != nil {
		return nil, err
	}
	return s.access.EffectivePermissions(ctx, userID)
}

// AssignRole changes the user's role.
func (s *Service) AssignRole(ctx context.Context, userID int64, in AssignRoleInput) (User, error) {
	if err := s.access.AssignRole(ctx, userID, in.RoleID); err != nil {
		return User{}, err
	}
	return s.repo.GetUser(ctx, userID)
}
