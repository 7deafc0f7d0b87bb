package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/fieldops/internal/platform/httpx"
	"github.com/fieldops/fieldops/internal/shared"
)

// PermissionsHandler exposes the permission catalog and the caller's own permissions.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	store   Store
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, store Store, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, service: service, store: store, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.LoadUserPermissions)
		r.Get("/me", h.showMine)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission("permissions", "read"))
		r.Get("/", h.listPermissions)
	})
}

type catalogEntry struct {
	ID          *int64 `json:"id,omitempty"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
	Registered  bool   `json:"registered"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	persisted, err := h.store.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions failed", slog.Any("error", err))
		RespondError(w, err)
		return
	}
	catalog := h.service.Catalog()
	byPair := make(map[Pair]Permission, len(persisted))
	for _, p := range persisted {
		byPair[Pair{Resource: p.Resource, Action: p.Action}] = p
	}
	entries := make([]catalogEntry, 0, len(persisted))
	for _, pair := range catalog.Pairs() {
		entry := catalogEntry{Resource: pair.Resource, Action: pair.Action, Description: catalog.Description(pair), Registered: true}
		if p, ok := byPair[pair]; ok {
			id := p.ID
			entry.ID = &id
			delete(byPair, pair)
		}
		entries = append(entries, entry)
	}
	// Rows persisted before a catalog entry was removed are still listed so they can be revoked.
	for _, p := range persisted {
		if _, ok := byPair[Pair{Resource: p.Resource, Action: p.Action}]; !ok {
			continue
		}
		id := p.ID
		entries = append(entries, catalogEntry{ID: &id, Resource: p.Resource, Action: p.Action, Description: p.Description})
	}
	httpx.OK(w, http.StatusOK, entries)
}

func (h *PermissionsHandler) showMine(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.SessionUserID(r.Context()); !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CategoryUnauthenticated, "Authentication required")
		return
	}
	set, ok := PermissionsFromContext(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusServiceUnavailable, httpx.CategoryInternal, "Permissions unavailable")
		return
	}
	httpx.OK(w, http.StatusOK, set)
}

// RespondError maps RBAC errors to failure envelopes.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Fail(w, http.StatusNotFound, httpx.CategoryNotFound, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownPermission):
		httpx.Fail(w, http.StatusBadRequest, httpx.CategoryValidation, err.Error())
	case errors.Is(err, ErrSystemRole):
		httpx.Fail(w, http.StatusConflict, httpx.CategoryConflict, err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
