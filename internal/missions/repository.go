package missions

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const missionColumns = `id, client_id, title, status, assignee_id, scheduled_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns missions matching the filters, soonest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Mission, error) {
	var (
		where []string
		args  []any
	)
	if filters.AssigneeID != nil {
		args = append(args, *filters.AssigneeID)
		where = append(where, "assignee_id = $"+strconv.Itoa(len(args)))
	}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	query := `SELECT ` + missionColumns + ` FROM missions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY scheduled_at, id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Get returns a mission by id.
func (r *Repository) Get(ctx context.Context, id int64) (Mission, error) {
	m, err := scanMission(r.pool.QueryRow(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Mission{}, ErrNotFound
	}
	return m, err
}

// OwnerOf returns the assignee of the mission; found is false when the mission is missing or unassigned.
func (r *Repository) OwnerOf(ctx context.Context, id int64) (int64, bool, error) {
	var assignee *int64
	err := r.pool.QueryRow(ctx, `SELECT assignee_id FROM missions WHERE id = $1`, id).Scan(&assignee)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if assignee == nil {
		return 0, false, nil
	}
	return *assignee, true, nil
}

// UpdateStatus moves the mission to status only if it is still in from.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from, to Status) (Mission, error) {
	m, err := scanMission(r.pool.QueryRow(ctx, `
		UPDATE missions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+missionColumns, id, string(from), string(to)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Mission{}, ErrInvalidTransition
	}
	return m, err
}

func scanMission(row pgx.Row) (Mission, error) {
	var m Mission
	var status string
	if err := row.Scan(&m.ID, &m.ClientID, &m.Title, &status, &m.AssigneeID, &m.ScheduledAt, &m.UpdatedAt); err != nil {
		return Mission{}, err
	}
	m.Status = Status(status)
	return m, nil
}

var _ RepositoryPort = (*Repository)(nil)
