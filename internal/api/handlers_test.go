package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"example.com/timetracking/internal/auth"
	"example.com/timetracking/internal/domain"
	"example.com/timetracking/internal/enforcement"
	"example.com/timetracking/internal/persistence/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	router http.Handler
	store  *memory.Store
	clock  *testClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutOrganization(domain.Organization{ID: "org-1"})
	clock := &testClock{now: time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)}
	service := domain.NewService(store, store, domain.WithClock(clock.Now))

	router := chi.NewRouter()
	handler := NewHandler(service, opts...)
	handler.Routes(router)
	handler.InternalRoutes(router)
	return &fixture{router: router, store: store, clock: clock}
}

func writer() *auth.Claims {
	return &auth.Claims{
		Subject:   "user-1",
		TenantID:  "org-1",
		Scopes:    map[string]struct{}{auth.ScopeTimersWrite: {}},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func reader() *auth.Claims {
	return &auth.Claims{
		Subject:   "user-1",
		TenantID:  "org-1",
		Scopes:    map[string]struct{}{auth.ScopeTimersRead: {}},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func (f *fixture) do(t *testing.T, claims *auth.Claims, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if claims != nil {
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestStartTimer(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, writer(), http.MethodPost, "/v1/timers", StartTimerRequest{Description: "Planning", Tags: []string{"a"}})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	timer := decode[ActiveTimerView](t, rr)
	require.NotEmpty(t, timer.TimerID)
	require.Equal(t, "user-1", timer.UserID)
	require.Equal(t, "org-1", timer.OrganizationID)
	require.True(t, timer.IsBillable)

	rr = f.do(t, writer(), http.MethodPost, "/v1/timers", StartTimerRequest{Description: "Second"})
	require.Equal(t, http.StatusConflict, rr.Code)
	conflict := decode[ConflictResponse](t, rr)
	require.Equal(t, "conflict", conflict.Type)
	require.NotNil(t, conflict.Timer)
	require.Equal(t, timer.TimerID, conflict.Timer.TimerID)
}

func TestStartTimerRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, writer(), http.MethodPost, "/v1/timers", StartTimerRequest{Description: " "})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "validation_failed", decode[map[string]string](t, rr)["type"])

	rr = f.do(t, writer(), http.MethodPost, "/v1/timers", map[string]any{"description": "x", "unknown": true})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_request", decode[map[string]string](t, rr)["type"])
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, nil, http.MethodGet, "/v1/timers/active", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, reader(), http.MethodPost, "/v1/timers", StartTimerRequest{Description: "x"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, reader(), http.MethodGet, "/v1/timers/active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestActiveTimer(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, reader(), http.MethodGet, "/v1/timers/active", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"timer":null,"elapsed_minutes":0}`, rr.Body.String())

	require.Equal(t, http.StatusCreated, f.do(t, writer(), http.MethodPost, "/v1/timers", StartTimerRequest{Description: "x"}).Code)
	f.clock.Advance(90 * time.Second)

	resp := decode[ActiveTimerResponse](t, f.do(t, reader(), http.MethodGet, "/v1/timers/active", nil))
	require.NotNil(t, resp.Timer)
	require.InDelta(t, 1.5, resp.ElapsedMinutes, 0.001)
}

func TestPauseResumeStop(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, writer(), http.MethodPost, "/v1/timers", StartTimerRequest{Description: "Deep work"}).Code)

	f.clock.Advance(20 * time.Minute)
	rr := f.do(t, writer(), http.MethodPut, "/v1/timers/active", ChangeTimerRequest{Action: "pause"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.True(t, decode[ActiveTimerView](t, rr).IsPaused)

	rr = f.do(t, writer(), http.MethodPut, "/v1/timers/active", ChangeTimerRequest{Action: "pause"})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "invalid_state", decode[map[string]string](t, rr)["type"])

	f.clock.Advance(10 * time.Minute)
	rr = f.do(t, writer(), http.MethodPut, "/v1/timers/active", ChangeTimerRequest{Action: "resume"})
	require.Equal(t, http.StatusOK, rr.Code)
	resumed := decode[ActiveTimerView](t, rr)
	require.False(t, resumed.IsPaused)
	require.InDelta(t, 10, resumed.TotalPausedMinutes, 0.001)

	description := "Deep work, part two"
	rr = f.do(t, writer(), http.MethodPut, "/v1/timers/active", ChangeTimerRequest{Action: "update", Description: &description, Tags: &[]string{"focus"}})
	require.Equal(t, http.StatusOK, rr.Code)
	updated := decode[ActiveTimerView](t, rr)
	require.Equal(t, description, updated.Description)
	require.Equal(t, []string{"focus"}, updated.Tags)

	f.clock.Advance(5 * time.Minute)
	rr = f.do(t, writer(), http.MethodPut, "/v1/timers/active", ChangeTimerRequest{Action: "stop"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	stopped := decode[StopResponse](t, rr)
	require.NotNil(t, stopped.Entry)
	require.Equal(t, 25, stopped.Entry.DurationMin)
	require.Equal(t, "timer", stopped.Entry.Source)
	require.Equal(t, "completed", stopped.Entry.Status)

	rr = f.do(t, writer(), http.MethodPut, "/v1/timers/active", ChangeTimerRequest{Action: "stop"})
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestChangeTimerRejectsUnknownAction(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, writer(), http.MethodPut, "/v1/timers/active", ChangeTimerRequest{Action: "start"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListEntriesPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusCreated, f.do(t, writer(), http.MethodPost, "/v1/timers", StartTimerRequest{Description: "task"}).Code)
		f.clock.Advance(15 * time.Minute)
		require.Equal(t, http.StatusOK, f.do(t, writer(), http.MethodPut, "/v1/timers/active", ChangeTimerRequest{Action: "stop"}).Code)
		f.clock.Advance(time.Minute)
	}

	first := decode[ListEntriesResponse](t, f.do(t, reader(), http.MethodGet, "/v1/time-entries?limit=2", nil))
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	require.True(t, first.Items[0].StartTime.After(first.Items[1].StartTime))

	second := decode[ListEntriesResponse](t, f.do(t, reader(), http.MethodGet, "/v1/time-entries?limit=2&cursor="+first.NextCursor, nil))
	require.Len(t, second.Items, 1)
	require.Empty(t, second.NextCursor)

	rr := f.do(t, reader(), http.MethodGet, "/v1/time-entries?cursor=!!!", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, reader(), http.MethodGet, "/v1/time-entries?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSweepTrigger(t *testing.T) {
	store := memory.NewStore()
	clock := &testClock{now: time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)}
	limit, overtime := 1.0, false
	store.PutOrganization(domain.Organization{ID: "org-1"})
	store.PutSettings(domain.TimeTrackingSettings{OrganizationID: "org-1", MaxSessionHours: &limit, AllowOvertime: &overtime})
	store.PutTimer(domain.ActiveTimer{
		ID:             "timer-1",
		UserID:         "user-1",
		OrganizationID: "org-1",
		Description:    "Left running",
		IsBillable:     true,
		StartTime:      clock.Now().Add(-2 * time.Hour),
		Version:        1,
	})
	sweeper := enforcement.NewSweeper(store, store, nil, store, enforcement.WithClock(clock.Now))

	disabled := newFixture(t)
	rr := disabled.do(t, nil, http.MethodPost, "/v1/internal/sweeps", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	service := domain.NewService(store, store, domain.WithClock(clock.Now))
	router := chi.NewRouter()
	NewHandler(service, WithSweeps(sweeper, "s3cret")).InternalRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/v1/internal/sweeps", nil)
	req.Header.Set(SweepSecretHeader, "wrong")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/internal/sweeps", nil)
	req.Header.Set(SweepSecretHeader, "s3cret")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	summary := decode[SweepSummaryView](t, rr)
	require.Equal(t, 1, summary.TotalChecked)
	require.Equal(t, 1, summary.Stopped)
	require.Empty(t, summary.Errors)

	entries := store.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, domain.EntrySourceAutoStop, entries[0].Source)
	require.Equal(t, 60, entries[0].DurationMin)
}
