package rbac

import "context"

type permissionsContextKey struct{}

// ContextWithPermissions attaches a resolved permission set to ctx.
func ContextWithPermissions(ctx context.Context, set PermissionSet) context.Context {
	return context.WithValue(ctx, permissionsContextKey{}, set)
}

// PermissionsFromContext returns the set attached by LoadUserPermissions, if any.
func PermissionsFromContext(ctx context.Context) (PermissionSet, bool) {
	set, ok := ctx.Value(permissionsContextKey{}).(PermissionSet)
	return set, ok
}
