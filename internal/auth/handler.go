package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/fieldops/internal/platform/httpx"
	"github.com/fieldops/fieldops/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/session", h.showSession)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type sessionResponse struct {
	CSRFToken string `json:"csrf_token"`
	User      *User  `json:"user,omitempty"`
}

func (h *Handler) showSession(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.Fail(w, http.StatusInternalServerError, httpx.CategoryInternal, "session unavailable")
		return
	}
	resp := sessionResponse{CSRFToken: csrfToken}
	if userID, ok := shared.SessionUserID(r.Context()); ok {
		user, err := h.service.CurrentUser(r.Context(), userID)
		switch {
		case err == nil:
			resp.User = user
		case errors.Is(err, shared.ErrNotFound):
			sess.SetUser("")
		default:
			h.logger.Warn("load session user", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
	httpx.OK(w, http.StatusOK, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Fail(w, http.StatusInternalServerError, httpx.CategoryInternal, "session unavailable")
		return
	}
	var req loginRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.Fail(w, http.StatusUnauthorized, httpx.CategoryUnauthenticated, "invalid email or password")
		return
	}
	h.sessionManager.Renew(sess)
	sess.Delete(shared.CSRFSessionKey)
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	h.logger.Info("user logged in", slog.Int64("user_id", user.ID))
	httpx.OK(w, http.StatusOK, sessionResponse{CSRFToken: csrfToken, User: user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}
