package users

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
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = fmt.Errorf("users: user %w", httpx.ErrNotFound)
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = fmt.Errorf("users: email %w", httpx.ErrDuplicate)
)

const userColumns = `u.id, u.email, u.name, u.is_active, u.role_id, r.label, u.created_at, u.updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns all users ordered by id.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+`
		FROM users u LEFT JOIN roles r ON r.id = u.role_id
		ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetUser returns a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+`
		FROM users u LEFT JOIN roles r ON r.id = u.role_id
		WHERE u.id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

// CreateUser inserts an active user without a role.
func (r *Repository) CreateUser(ctx context.Context, email, name, passwordHash string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		RETURNING id`, email, name, passwordHash).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateEmail
		}
		return 0, err
	}
	return id, nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.IsActive, &user.RoleID, &user.RoleLabel, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

var _ RepositoryPort = (*Repository)(nil)
