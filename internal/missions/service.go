package missions

import (
	"context"
	"fmt"
)

// RepositoryPort defines data access methods for missions.
type RepositoryPort interface {
	List(ctx context.Context, filters ListFilters) ([]Mission, error)
	Get(ctx context.Context, id int64) (Mission, error)
	OwnerOf(ctx context.Context, id int64) (int64, bool, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status) (Mission, error)
}

// Service handles mission business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns missions.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Mission, error) {
	return s.repo.List(ctx, filters)
}

// Get returns a mission.
func (s *Service) Get(ctx context.Context, id int64) (Mission, error) {
	return s.repo.Get(ctx, id)
}

// OwnerOf returns the mission's assignee.
func (s *Service) OwnerOf(ctx context.Context, id int64) (int64, bool, error) {
	return s.repo.OwnerOf(ctx, id)
}

// ChangeStatus applies a status transition.
func (s *Service) ChangeStatus(ctx context.Context, id int64, to Status) (Mission, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Mission{}, err
	}
	if !CanTransition(current.Status, to) {
		return Mission{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
	}
	return s.repo.UpdateStatus(ctx, id, current.Status, to)
}
