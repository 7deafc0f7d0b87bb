package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SyncReport summarizes a catalog synchronization.
type SyncReport struct {
	Registered     int  `json:"registered"`
	Created        int  `json:"created"`
	SuperRoleFound bool `json:"super_role_found"`
}

// SyncCatalog persists every registered pair that has no permission row yet and
// gives the break-glass role the full persisted set.
func (s *Service) SyncCatalog(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	if s.catalog == nil {
		return report, errors.New("rbac: no catalog configured")
	}
	ids := make([]int64, 0)
	for _, pair := range s.catalog.Pairs() {
		report.Registered++
		perm, err := s.store.FindPermission(ctx, pair.Resource, pair.Action)
		if err != nil {
			return report, fmt.Errorf("rbac: find permission %s: %w", pair, err)
		}
		if perm == nil {
			created, err := s.store.CreatePermission(ctx, pair.Resource, pair.Action, s.catalog.Description(pair))
			if err != nil {
				return report, fmt.Errorf("rbac: create permission %s: %w", pair, err)
			}
			perm = &created
			report.Created++
		}
		ids = append(ids, perm.ID)
	}

	role, err := s.store.FindRoleByLabel(ctx, s.superRole)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("rbac super role missing, skipping grant", slog.String("role", s.superRole))
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("rbac: find role %s: %w", s.superRole, err)
	}
	report.SuperRoleFound = true
	if err := s.store.ReplaceRolePermissions(ctx, role.ID, ids); err != nil {
		return report, fmt.Errorf("rbac: grant catalog to %s: %w", s.superRole, err)
	}
	holders, err := s.store.FindUserIDsByRole(ctx, role.ID)
	if err != nil {
		s.logger.Warn("rbac list role holders, clearing cache", slog.Int64("role_id", role.ID), slog.Any("error", err))
		return report, s.ClearCache(ctx)
	}
	for _, id := range holders {
		if err := s.invalidate(ctx, id); err != nil {
			return report, err
		}
	}
	return report, nil
}
