package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldops/fieldops/internal/platform/db"
)

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository backed by the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindUserAccess loads the user's role with its grants and the user's direct overrides.
func (r *Repository) FindUserAccess(ctx context.Context, userID int64) (*UserAccess, error) {
	var (
		roleID      pgtype.Int8
		label       pgtype.Text
		description pgtype.Text
		isSystem    pgtype.Bool
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `
		SELECT r.id, r.label, r.description, r.is_system, r.created_at, r.updated_at
		FROM users u
		LEFT JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1`, userID).Scan(&roleID, &label, &description, &isSystem, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("rbac: load user %d: %w", userID, err)
	}

	access := &UserAccess{UserID: userID}
	if roleID.Valid {
		access.Role = &Role{
			ID:          roleID.Int64,
			Label:       label.String,
			Description: description.String,
			IsSystem:    isSystem.Bool,
			CreatedAt:   createdAt.Time,
			UpdatedAt:   updatedAt.Time,
		}
		perms, err := r.rolePermissions(ctx, roleID.Int64)
		if err != nil {
			return nil, err
		}
		access.RolePermissions = perms
	}

	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.resource, p.action, p.description, up.granted
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: load direct permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var grant DirectGrant
		if err := rows.Scan(&grant.Permission.ID, &grant.Permission.Resource, &grant.Permission.Action, &grant.Permission.Description, &grant.Granted); err != nil {
			return nil, err
		}
		access.Direct = append(access.Direct, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return access, nil
}

func (r *Repository) rolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.resource, p.action, p.description
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: load role permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// FindPermission fetches a permission by its pair.
func (r *Repository) FindPermission(ctx context.Context, resource, action string) (*Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		SELECT id, resource, action, description FROM permissions
		WHERE resource = $1 AND action = $2`, resource, action).Scan(&p.ID, &p.Resource, &p.Action, &p.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// CreatePermission inserts the pair, returning the existing row on conflict.
func (r *Repository) CreatePermission(ctx context.Context, resource, action, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (resource, action, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource, action) DO UPDATE SET resource = EXCLUDED.resource
		RETURNING id, resource, action, description`, resource, action, description).Scan(&p.ID, &p.Resource, &p.Action, &p.Description)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// ListPermissions returns all permissions ordered by resource and action.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, resource, action, description FROM permissions ORDER BY resource, action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// UpsertUserPermission writes the override keyed on (user_id, permission_id).
func (r *Repository) UpsertUserPermission(ctx context.Context, userID, permissionID int64, granted bool, createdBy int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_permissions (user_id, permission_id, granted, created_by, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, permission_id)
		DO UPDATE SET granted = EXCLUDED.granted, created_by = EXCLUDED.created_by, created_at = EXCLUDED.created_at`,
		userID, permissionID, granted, createdBy)
	return err
}

// ReplaceRolePermissions swaps the role's grants inside one transaction.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if len(permissionIDs) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, unnest($2::bigint[])
			ON CONFLICT DO NOTHING`, roleID, permissionIDs)
		return err
	})
}

// FindUserIDsByRole lists users currently assigned to the role.
func (r *Repository) FindUserIDsByRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateUserRole sets the user's role. Returns ErrNotFound if the user is missing.
func (r *Repository) UpdateUserRole(ctx context.Context, userID int64, roleID *int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2, updated_at = NOW() WHERE id = $1`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindRole fetches a role by ID.
func (r *Repository) FindRole(ctx context.Context, roleID int64) (*Role, error) {
	return r.findRole(ctx, `WHERE id = $1`, roleID)
}

// FindRoleByLabel fetches a role by its label.
func (r *Repository) FindRoleByLabel(ctx context.Context, label string) (*Role, error) {
	return r.findRole(ctx, `WHERE label = $1`, label)
}

func (r *Repository) findRole(ctx context.Context, where string, arg any) (*Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, label, description, is_system, created_at, updated_at FROM roles `+where, arg).
		Scan(&role.ID, &role.Label, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

func scanPermissions(rows pgx.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

var _ Store = (*Repository)(nil)
