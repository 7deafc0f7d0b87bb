package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldops/fieldops/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the role does not exist.
	ErrNotFound = fmt.Errorf("roles: role %w", httpx.ErrNotFound)
	// ErrDuplicateLabel indicates another role already uses the label.
	ErrDuplicateLabel = fmt.Errorf("roles: label %w", httpx.ErrDuplicate)
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles with their permission ids.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.label, r.description, r.is_system, r.created_at, r.updated_at,
		       COALESCE(array_agg(rp.permission_id ORDER BY rp.permission_id) FILTER (WHERE rp.permission_id IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		GROUP BY r.id
		ORDER BY r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Label, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt, &role.PermissionIDs); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole returns one role with its permission ids.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		SELECT r.id, r.label, r.description, r.is_system, r.created_at, r.updated_at,
		       COALESCE(array_agg(rp.permission_id ORDER BY rp.permission_id) FILTER (WHERE rp.permission_id IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		WHERE r.id = $1
		GROUP BY r.id`, id).
		Scan(&role.ID, &role.Label, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt, &role.PermissionIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// CreateRole inserts a new non-system role.
func (r *Repository) CreateRole(ctx context.Context, label, description string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		INSERT INTO roles (label, description, is_system, created_at, updated_at)
		VALUES ($1, $2, FALSE, NOW(), NOW())
		RETURNING id, label, description, is_system, created_at, updated_at`, label, description).
		Scan(&role.ID, &role.Label, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Role{}, ErrDuplicateLabel
		}
		return Role{}, err
	}
	role.PermissionIDs = []int64{}
	return role, nil
}

var _ RepositoryPort = (*Repository)(nil)
