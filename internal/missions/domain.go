package missions

import (
	"fmt"
	"time"

	"github.com/fieldops/fieldops/internal/platform/httpx"
)

// Status is the lifecycle state of a mission.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// ErrNotFound indicates the mission does not exist.
var ErrNotFound = fmt.Errorf("missions: mission %w", httpx.ErrNotFound)

// ErrInvalidTransition indicates the requested status cannot follow the current one.
var ErrInvalidTransition = fmt.Errorf("missions: %w: invalid status transition", httpx.ErrValidation)

// Mission is a field intervention assigned to a technician.
type Mission struct {
	ID          int64     `json:"id"`
	ClientID    int64     `json:"client_id"`
	Title       string    `json:"title"`
	Status      Status    `json:"status"`
	AssigneeID  *int64    `json:"assignee_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilters narrows mission listings.
type ListFilters struct {
	AssigneeID *int64
	Status     Status
}

// StatusInput is the payload for a status change.
type StatusInput struct {
	Status Status `json:"status" validate:"required,oneof=planned in_progress done cancelled"`
}

var transitions = map[Status][]Status{
	StatusPlanned:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusDone, StatusCancelled},
}

// CanTransition reports whether a mission may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
