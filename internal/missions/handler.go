package missions

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/fieldops/internal/platform/httpx"
	"github.com/fieldops/fieldops/internal/rbac"
	"github.com/fieldops/fieldops/internal/shared"
)

// Handler exposes mission endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers mission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.LoadUserPermissions).Get("/", h.list)
	r.With(h.rbac.RequireOwnershipOrPermission("missions", "read", h.ownerFromPath)).Get("/{id}", h.show)
	r.With(h.rbac.RequireOwnershipOrPermission("missions", "update", h.ownerFromPath)).Post("/{id}/status", h.changeStatus)
}

// ownerFromPath resolves the assignee of the mission named in the URL.
func (h *Handler) ownerFromPath(r *http.Request) (int64, bool, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, false, err
	}
	return h.service.OwnerOf(r.Context(), id)
}

// list shows every mission to holders of missions:read and only their own to everyone else.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.SessionUserID(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CategoryUnauthenticated, "Authentication required")
		return
	}
	filters := ListFilters{Status: Status(r.URL.Query().Get("status"))}
	set, loaded := rbac.PermissionsFromContext(r.Context())
	if !loaded || !set.Allows("missions", "read") {
		filters.AssigneeID = &userID
	}
	missions, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.logger.Error("list missions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if missions == nil {
		missions = []Mission{}
	}
	httpx.OK(w, http.StatusOK, missions)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := missionID(w, r)
	if !ok {
		return
	}
	mission, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, mission)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := missionID(w, r)
	if !ok {
		return
	}
	var in StatusInput
	if err := httpx.Bind(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mission, err := h.service.ChangeStatus(r.Context(), id, in.Status)
	if err != nil {
		h.logger.Warn("change mission status", slog.Int64("mission_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, mission)
}

func missionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, httpx.CategoryValidation, "invalid mission id")
		return 0, false
	}
	return id, true
}
