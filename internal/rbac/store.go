package rbac

import "context"

// Store is the persistence contract the engine depends on.
type Store interface {
	// FindUserAccess returns nil, nil when the user does not exist.
	FindUserAccess(ctx context.Context, userID int64) (*UserAccess, error)
	// FindPermission returns nil, nil when the pair is not persisted yet.
	FindPermission(ctx context.Context, resource, action string) (*Permission, error)
	CreatePermission(ctx context.Context, resource, action, description string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	UpsertUserPermission(ctx context.Context, userID, permissionID int64, granted bool, createdBy int64) error
	// ReplaceRolePermissions deletes every grant of the role and inserts the given set atomically.
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
	FindUserIDsByRole(ctx context.Context, roleID int64) ([]int64, error)
	// UpdateUserRole sets or clears (roleID == nil) the user's role.
	UpdateUserRole(ctx context.Context, userID int64, roleID *int64) error
	// FindRole returns ErrNotFound when the role does not exist.
	FindRole(ctx context.Context, roleID int64) (*Role, error)
	FindRoleByLabel(ctx context.Context, label string) (*Role, error)
}
