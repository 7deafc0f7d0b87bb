package roles

import "time"

// Role represents a role for management.
type Role struct {
	ID            int64     `json:"id"`
	Label         string    `json:"label"`
	Description   string    `json:"description"`
	IsSystem      bool      `json:"is_system"`
	PermissionIDs []int64   `json:"permission_ids"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateRoleInput is the payload for creating a role.
type CreateRoleInput struct {
	Label       string `json:"label" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=255"`
}

// SetPermissionsInput is the payload for replacing a role's permissions.
type SetPermissionsInput struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"dive,gt=0"`
}
