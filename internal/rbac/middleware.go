package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fieldops/fieldops/internal/platform/httpx"
	"github.com/fieldops/fieldops/internal/shared"
)

// OwnerResolver returns the owner of the resource addressed by the request.
// found is false when the resource has no owner or does not exist.
type OwnerResolver func(r *http.Request) (ownerID int64, found bool, err error)

// Middleware wires RBAC authorization guards for HTTP handlers.
// Guards built for pairs missing from Catalog panic at construction.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
	Catalog *Catalog
}

// RequirePermission admits the request only when the principal holds resource:action.
func (m Middleware) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return m.RequireAll(P(resource, action))
}

// RequireAny admits the request when at least one pair is granted, checked in order.
func (m Middleware) RequireAny(perms ...Pair) func(http.Handler) http.Handler {
	required := m.resolvePairs(perms)
	label := joinPairs(required, " OR ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.SessionUserID(r.Context())
			if !ok {
				rejectUnauthenticated(w)
				return
			}
			var firstErr error
			for _, p := range required {
				allowed, err := m.authorize(r, userID, p)
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				if allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			if firstErr != nil {
				m.rejectInternal(w, "rbac require any", userID, firstErr)
				return
			}
			rejectForbidden(w, label)
		})
	}
}

// RequireAll admits the request only when every pair is granted; it stops at the first denial
// but always reports the full requirement.
func (m Middleware) RequireAll(perms ...Pair) func(http.Handler) http.Handler {
	required := m.resolvePairs(perms)
	label := joinPairs(required, " AND ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := shared.SessionUserID(r.Context())
			if !ok {
				rejectUnauthenticated(w)
				return
			}
			for _, p := range required {
				allowed, err := m.authorize(r, userID, p)
				if err != nil {
					m.rejectInternal(w, "rbac require all", userID, err)
					return
				}
				if !allowed {
					rejectForbidden(w, label)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwnershipOrPermission admits holders of resource:action, or the owner reported by resolve.
// Resolver failures count as "not the owner".
func (m Middleware) RequireOwnershipOrPermission(resource, action string, resolve OwnerResolver) func(http.Handler) http.Handler {
	required := m.resolvePair(P(resource, action))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := shared.SessionUserID(r.Context())
			if !ok {
				rejectUnauthenticated(w)
				return
			}
			allowed, err := m.authorize(r, userID, required)
			if err != nil {
				m.rejectInternal(w, "rbac require ownership", userID, err)
				return
			}
			if allowed || m.isOwner(r, userID, resolve) {
				next.ServeHTTP(w, r)
				return
			}
			rejectForbidden(w, required.String())
		})
	}
}

// LoadUserPermissions attaches the principal's permission set to the request context.
// It never blocks the request.
func (m Middleware) LoadUserPermissions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := shared.SessionUserID(r.Context())
		if !ok || m.Service == nil {
			next.ServeHTTP(w, r)
			return
		}
		set, err := m.Service.Resolve(r.Context(), userID)
		if err != nil {
			m.logger().Warn("rbac load user permissions", slog.Int64("user_id", userID), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPermissions(r.Context(), set)))
	})
}

func (m Middleware) authorize(r *http.Request, userID int64, p Pair) (allowed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			allowed, err = false, fmt.Errorf("rbac: panic during check: %v", rec)
		}
	}()
	if m.Service == nil {
		return false, fmt.Errorf("rbac: middleware has no service")
	}
	return m.Service.Authorize(r.Context(), userID, p.Resource, p.Action)
}

func (m Middleware) isOwner(r *http.Request, userID int64, resolve OwnerResolver) (owner bool) {
	if resolve == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			m.logger().Error("rbac owner resolver panic", slog.Any("panic", rec))
			owner = false
		}
	}()
	ownerID, found, err := resolve(r)
	if err != nil {
		m.logger().Warn("rbac owner resolver", slog.String("path", r.URL.Path), slog.Any("error", err))
		return false
	}
	return found && ownerID == userID
}

func (m Middleware) resolvePairs(perms []Pair) []Pair {
	out := make([]Pair, 0, len(perms))
	for _, p := range perms {
		out = append(out, m.resolvePair(p))
	}
	return out
}

func (m Middleware) resolvePair(p Pair) Pair {
	if m.Catalog != nil {
		return m.Catalog.MustResolve(p)
	}
	return normalizePair(p)
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m Middleware) rejectInternal(w http.ResponseWriter, msg string, userID int64, err error) {
	m.logger().Error(msg, slog.Int64("user_id", userID), slog.Any("error", err))
	httpx.Fail(w, http.StatusInternalServerError, httpx.CategoryInternal, "Permission check failed")
}

func rejectUnauthenticated(w http.ResponseWriter) {
	httpx.Fail(w, http.StatusUnauthorized, httpx.CategoryUnauthenticated, "Authentication required")
}

func rejectForbidden(w http.ResponseWriter, required string) {
	httpx.Reject(w, http.StatusForbidden, httpx.CategoryForbidden, "Insufficient permissions", required)
}

func joinPairs(pairs []Pair, sep string) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, sep)
}
