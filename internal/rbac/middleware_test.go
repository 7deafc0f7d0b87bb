package rbac

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldops/internal/platform/httpx"
	"github.com/fieldops/fieldops/internal/shared"
)

func requestAs(t *testing.T, method, target string, userID int64) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if userID == 0 {
		return req
	}
	sessions := shared.NewSessionManager(nil, "test_session", "secret", time.Hour, false)
	sess, err := sessions.Load(req.Context(), req)
	require.NoError(t, err)
	sess.SetUser(strconv.FormatInt(userID, 10))
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) httpx.Envelope {
	t.Helper()
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type middlewareFixture struct {
	*serviceFixture
	mw Middleware
}

// newMiddlewareFixture seeds user 1 as a viewer holding clients:read and user 2 without a role.
func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	f := newServiceFixture(t)
	read := f.store.addPermission("clients", "read")
	f.store.grantRole(viewerRoleID, read)
	f.store.addUser(1, ptr(viewerRoleID))
	f.store.addUser(2, nil)
	return &middlewareFixture{serviceFixture: f, mw: Middleware{Service: f.svc, Catalog: f.svc.Catalog()}}
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequirePermission(t *testing.T) {
	f := newMiddlewareFixture(t)
	guarded := f.mw.RequirePermission("clients", "read")(okHandler)

	rec := serve(guarded, requestAs(t, http.MethodGet, "/clients", 0))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, httpx.CategoryUnauthenticated, decodeEnvelope(t, rec).Error)

	rec = serve(guarded, requestAs(t, http.MethodGet, "/clients", 1))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(guarded, requestAs(t, http.MethodGet, "/clients", 2))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, httpx.CategoryForbidden, env.Error)
	assert.Equal(t, "clients:read", env.Required)
}

func TestRequireAnyAndAllReportRequirement(t *testing.T) {
	f := newMiddlewareFixture(t)

	anyGuard := f.mw.RequireAny(P("clients", "create"), P("clients", "read"))(okHandler)
	assert.Equal(t, http.StatusOK, serve(anyGuard, requestAs(t, http.MethodGet, "/", 1)).Code)
	rec := serve(anyGuard, requestAs(t, http.MethodGet, "/", 2))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "clients:create OR clients:read", decodeEnvelope(t, rec).Required)

	allGuard := f.mw.RequireAll(P("clients", "read"), P("clients", "create"))(okHandler)
	rec = serve(allGuard, requestAs(t, http.MethodGet, "/", 1))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "clients:read AND clients:create", decodeEnvelope(t, rec).Required)

	empty := f.mw.RequireAny()(okHandler)
	assert.Equal(t, http.StatusOK, serve(empty, requestAs(t, http.MethodGet, "/", 0)).Code)
}

func TestGuardsReturnInternalErrorWhenLoadFails(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.store.accessErr = errors.New("database unavailable")

	for name, guard := range map[string]func(http.Handler) http.Handler{
		"permission": f.mw.RequirePermission("clients", "read"),
		"any":        f.mw.RequireAny(P("clients", "read"), P("clients", "create")),
		"ownership":  f.mw.RequireOwnershipOrPermission("missions", "read", nil),
	} {
		rec := serve(guard(okHandler), requestAs(t, http.MethodGet, "/", 1))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, name)
		assert.Equal(t, httpx.CategoryInternal, decodeEnvelope(t, rec).Error, name)
	}
}

func TestRequireOwnershipOrPermission(t *testing.T) {
	f := newMiddlewareFixture(t)
	owner := func(id int64, found bool, err error) OwnerResolver {
		return func(*http.Request) (int64, bool, error) { return id, found, err }
	}

	guard := f.mw.RequireOwnershipOrPermission("missions", "update", owner(2, true, nil))
	assert.Equal(t, http.StatusOK, serve(guard(okHandler), requestAs(t, http.MethodPost, "/", 2)).Code)

	guard = f.mw.RequireOwnershipOrPermission("missions", "update", owner(3, true, nil))
	rec := serve(guard(okHandler), requestAs(t, http.MethodPost, "/", 2))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "missions:update", decodeEnvelope(t, rec).Required)

	guard = f.mw.RequireOwnershipOrPermission("missions", "update", owner(2, true, errors.New("lookup failed")))
	assert.Equal(t, http.StatusForbidden, serve(guard(okHandler), requestAs(t, http.MethodPost, "/", 2)).Code)

	guard = f.mw.RequireOwnershipOrPermission("missions", "update", owner(2, false, nil))
	assert.Equal(t, http.StatusForbidden, serve(guard(okHandler), requestAs(t, http.MethodPost, "/", 2)).Code)

	guard = f.mw.RequireOwnershipOrPermission("missions", "update", func(*http.Request) (int64, bool, error) {
		panic("boom")
	})
	assert.Equal(t, http.StatusForbidden, serve(guard(okHandler), requestAs(t, http.MethodPost, "/", 2)).Code)

	guard = f.mw.RequireOwnershipOrPermission("clients", "read", owner(3, true, nil))
	assert.Equal(t, http.StatusOK, serve(guard(okHandler), requestAs(t, http.MethodPost, "/", 1)).Code, "holders skip the owner check")
}

func TestLoadUserPermissionsNeverBlocks(t *testing.T) {
	f := newMiddlewareFixture(t)
	var (
		got    PermissionSet
		loaded bool
	)
	capture := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, loaded = PermissionsFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := f.mw.LoadUserPermissions(capture)

	rec := serve(h, requestAs(t, http.MethodGet, "/", 1))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, loaded)
	assert.True(t, got.Allows("clients", "read"))

	rec = serve(h, requestAs(t, http.MethodGet, "/", 0))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, loaded)

	f.store.accessErr = errors.New("database unavailable")
	rec = serve(h, requestAs(t, http.MethodGet, "/", 2))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, loaded)
}

func TestGuardForUnregisteredPairPanicsAtMount(t *testing.T) {
	f := newMiddlewareFixture(t)
	assert.Panics(t, func() { f.mw.RequirePermission("clients", "raed") })
	assert.Panics(t, func() { f.mw.RequireAny(P("clients", "read"), P("rockets", "launch")) })
	assert.Panics(t, func() { f.mw.RequireOwnershipOrPermission("missions", "steal", nil) })
}

func TestMiddlewareWithoutServiceFailsClosed(t *testing.T) {
	mw := Middleware{}
	rec := serve(mw.RequirePermission("clients", "read")(okHandler), requestAs(t, http.MethodGet, "/", 1))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
