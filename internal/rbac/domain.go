package rbac

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrSystemRole is returned when a mutation targets a seeded system role.
	ErrSystemRole = errors.New("rbac: system role is immutable")
	// ErrUnknownPermission is returned for resource/action pairs missing from the catalog.
	ErrUnknownPermission = errors.New("rbac: permission not registered in catalog")
	// ErrInvalidInput flags malformed identifiers or empty resource/action values.
	ErrInvalidInput = errors.New("rbac: invalid input")
)

// Source tells where an effective permission came from.
type Source string

const (
	SourceRole   Source = "role"
	SourceDirect Source = "direct"
)

// Permission represents an atomic capability on a resource.
type Permission struct {
	ID          int64  `json:"id"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

// Key returns the canonical "resource:action" form.
func (p Permission) Key() string {
	return Pair{Resource: p.Resource, Action: p.Action}.String()
}

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64     `json:"id"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
}

// UserPermission is a direct per-user override. Granted=false is an explicit revoke.
type UserPermission struct {
	UserID       int64
	PermissionID int64
	Granted      bool
	CreatedBy    int64
	CreatedAt    time.Time
}

// DirectGrant is a UserPermission joined with its permission.
type DirectGrant struct {
	Permission Permission
	Granted    bool
}

// UserAccess is everything the engine needs to resolve a user's permissions.
type UserAccess struct {
	UserID          int64
	Role            *Role
	RolePermissions []Permission
	Direct          []DirectGrant
}

// EffectivePermission is the merged decision for one resource/action pair.
type EffectivePermission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Granted  bool   `json:"granted"`
	Source   Source `json:"source"`
}

// PermissionSet is the cached resolution result for a user.
type PermissionSet struct {
	Permissions []EffectivePermission `json:"permissions"`
	Superuser   bool                  `json:"superuser"`
}

// Lookup returns the entry matching resource and action.
func (s PermissionSet) Lookup(resource, action string) (EffectivePermission, bool) {
	for _, p := range s.Permissions {
		if p.Resource == resource && p.Action == action {
			return p, true
		}
	}
	return EffectivePermission{}, false
}

// Allows applies the resolution rule: superuser, then the merged entry, then deny.
func (s PermissionSet) Allows(resource, action string) bool {
	if s.Superuser {
		return true
	}
	entry, ok := s.Lookup(resource, action)
	if !ok {
		return false
	}
	if entry.Source == SourceDirect {
		return entry.Granted
	}
	return true
}
