package users

import "time"

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	RoleID    *int64    `json:"role_id"`
	RoleLabel *string   `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateUserInput is the payload for creating an account.
type CreateUserInput struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=128"`
	Password string `json:"password" validate:"required,min=8"`
	RoleID   *int64 `json:"role_id" validate:"omitempty,gt=0"`
}

// PermissionInput names a resource:action pair for direct grants and revocations.
type PermissionInput struct {
	Resource string `json:"resource" validate:"required,max=64"`
	Action   string `json:"action" validate:"required,max=64"`
}

// AssignRoleInput sets or clears (null) the user's role.
type AssignRoleInput struct {
	RoleID *int64 `json:"role_id" validate:"omitempty,gt=0"`
}
