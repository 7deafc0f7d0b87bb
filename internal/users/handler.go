package users

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/fieldops/internal/platform/httpx"
	"github.com/fieldops/fieldops/internal/rbac"
	"github.com/fieldops/fieldops/internal/shared"
)

// Handler manages user administration endpoints.
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

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.P("users", "read"), rbac.P("users", "manage")))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.showUser)
		r.Get("/{id}/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission("users", "manage"))
		r.Post("/", h.createUser)
		r.Post("/{id}/permissions/grant", h.grant)
		r.Post("/{id}/permissions/revoke", h.revoke)
		r.Put("/{id}/role", h.assignRole)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.OK(w, http.StatusOK, users)
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, user)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var in CreateUserInput
	if err := httpx.Bind(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.CreateUser(r.Context(), in)
	if err != nil {
		h.logger.Warn("create user", slog.String("email", in.Email), slog.Any("error", err))
		rbac.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusCreated, user)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	perms, err := h.service.Permissions(r.Context(), id)
	if err != nil {
		h.logger.Error("list user permissions", slog.Int64("user_id", id), slog.Any("error", err))
		rbac.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, perms)
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	h.changeDirect(w, r, "grant", h.service.Grant)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.changeDirect(w, r, "revoke", h.service.Revoke)
}

func (h *Handler) changeDirect(w http.ResponseWriter, r *http.Request, op string, apply func(ctx context.Context, userID int64, in PermissionInput, actorID int64) ([]rbac.EffectivePermission, error)) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	actorID, ok := shared.SessionUserID(r.Context())
	if !ok {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CategoryUnauthenticated, "Authentication required")
		return
	}
	var in PermissionInput
	if err := httpx.Bind(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	perms, err := apply(r.Context(), id, in, actorID)
	if err != nil {
		h.logger.Warn("direct permission "+op, slog.Int64("user_id", id), slog.String("permission", in.Resource+":"+in.Action), slog.Any("error", err))
		rbac.RespondError(w, err)
		return
	}
	h.logger.Info("direct permission "+op, slog.Int64("user_id", id), slog.Int64("actor_id", actorID), slog.String("permission", in.Resource+":"+in.Action))
	httpx.OK(w, http.StatusOK, perms)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var in AssignRoleInput
	if err := httpx.Bind(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.AssignRole(r.Context(), id, in)
	if err != nil {
		h.logger.Warn("assign role", slog.Int64("user_id", id), slog.Any("error", err))
		rbac.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, user)
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Fail(w, http.StatusBadRequest, httpx.CategoryValidation, "invalid user id")
		return 0, false
	}
	return id, true
}
