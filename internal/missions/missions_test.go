package missions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/fieldops/internal/platform/httpx"
	"github.com/fieldops/fieldops/internal/rbac/rbactest"
)

const (
	dispatcherID int64 = 1
	techID       int64 = 2
	otherTechID  int64 = 3
)

type mockRepository struct {
	missions  map[int64]Mission
	lastQuery ListFilters
	ownerErr  error
}

func newMockRepository() *mockRepository {
	now := time.Now()
	tech, other := techID, otherTechID
	return &mockRepository{missions: map[int64]Mission{
		1: {ID: 1, ClientID: 7, Title: "Boiler maintenance", Status: StatusPlanned, AssigneeID: &tech, ScheduledAt: now},
		2: {ID: 2, ClientID: 7, Title: "Fire safety check", Status: StatusDone, AssigneeID: &other, ScheduledAt: now},
		3: {ID: 3, ClientID: 8, Title: "Site survey", Status: StatusPlanned, ScheduledAt: now},
	}}
}

func (m *mockRepository) List(_ context.Context, filters ListFilters) ([]Mission, error) {
	m.lastQuery = filters
	var out []Mission
	for _, mission := range m.missions {
		if filters.AssigneeID != nil && (mission.AssigneeID == nil || *mission.AssigneeID != *filters.AssigneeID) {
			continue
		}
		if filters.Status != "" && mission.Status != filters.Status {
			continue
		}
		out = append(out, mission)
	}
	return out, nil
}

func (m *mockRepository) Get(_ context.Context, id int64) (Mission, error) {
	mission, ok := m.missions[id]
	if !ok {
		return Mission{}, ErrNotFound
	}
	return mission, nil
}

func (m *mockRepository) OwnerOf(_ context.Context, id int64) (int64, bool, error) {
	if m.ownerErr != nil {
		return 0, false, m.ownerErr
	}
	mission, ok := m.missions[id]
	if !ok || mission.AssigneeID == nil {
		return 0, false, nil
	}
	return *mission.AssigneeID, true, nil
}

func (m *mockRepository) UpdateStatus(_ context.Context, id int64, from, to Status) (Mission, error) {
	mission, ok := m.missions[id]
	if !ok {
		return Mission{}, ErrNotFound
	}
	if mission.Status != from {
		return Mission{}, ErrInvalidTransition
	}
	mission.Status = to
	m.missions[id] = mission
	return mission, nil
}

func newMissionsRouter(t *testing.T, repo *mockRepository) http.Handler {
	t.Helper()
	store := rbactest.NewStore()
	dispatcher := int64(30)
	store.AddRole(dispatcher, "dispatcher", false)
	store.GrantRole(dispatcher, "missions", "read")
	store.GrantRole(dispatcher, "missions", "update")
	store.AddUser(dispatcherID, &dispatcher)
	store.AddUser(techID, nil)
	store.AddUser(otherTechID, nil)
	mw, _ := rbactest.NewMiddleware(store)

	r := chi.NewRouter()
	NewHandler(nil, NewService(repo), mw).MountRoutes(r)
	return r
}

func do(h http.Handler, method, target, body string, userID int64) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, rbactest.AsUser(req, userID))
	return rec
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPlanned, StatusInProgress))
	assert.True(t, CanTransition(StatusPlanned, StatusCancelled))
	assert.True(t, CanTransition(StatusInProgress, StatusDone))
	assert.False(t, CanTransition(StatusPlanned, StatusDone))
	assert.False(t, CanTransition(StatusDone, StatusPlanned))
	assert.False(t, CanTransition(StatusCancelled, StatusInProgress))
}

func TestChangeStatusRejectsInvalidTransition(t *testing.T) {
	svc := NewService(newMockRepository())

	_, err := svc.ChangeStatus(context.Background(), 2, StatusInProgress)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, httpx.ErrValidation)

	mission, err := svc.ChangeStatus(context.Background(), 1, StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, mission.Status)

	_, err = svc.ChangeStatus(context.Background(), 404, StatusDone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListScopesNonHoldersToOwnMissions(t *testing.T) {
	repo := newMockRepository()
	router := newMissionsRouter(t, repo)

	rec := do(router, http.MethodGet, "/", "", dispatcherID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, repo.lastQuery.AssigneeID)

	rec = do(router, http.MethodGet, "/?status=planned", "", techID)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, repo.lastQuery.AssigneeID)
	assert.Equal(t, techID, *repo.lastQuery.AssigneeID)
	var body struct {
		Data []Mission `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, int64(1), body.Data[0].ID)

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/", "", 0).Code)
}

func TestShowMissionOwnershipOrPermission(t *testing.T) {
	repo := newMockRepository()
	router := newMissionsRouter(t, repo)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/1", "", techID).Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, "/1", "", otherTechID).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/2", "", dispatcherID).Code)
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, "/3", "", techID).Code, "unassigned missions have no owner")

	repo.ownerErr = errors.New("database unavailable")
	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, "/1", "", techID).Code)
}

func TestChangeStatusByAssignee(t *testing.T) {
	repo := newMockRepository()
	router := newMissionsRouter(t, repo)

	rec := do(router, http.MethodPost, "/1/status", `{"status":"in_progress"}`, techID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, StatusInProgress, repo.missions[1].Status)

	rec = do(router, http.MethodPost, "/1/status", `{"status":"planned"}`, techID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/1/status", `{"status":"paused"}`, techID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/1/status", `{"status":"done"}`, otherTechID)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "missions:update", env.Required)

	rec = do(router, http.MethodPost, "/3/status", `{"status":"cancelled"}`, dispatcherID)
	assert.Equal(t, http.StatusOK, rec.Code)
}
