package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/reconcile"
	"github.com/venkytv/calendar-sync/pkg/scheduler"
	"github.com/venkytv/calendar-sync/pkg/store/memory"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

type fakeRunner struct {
	syncedOwner string
	trigger     string
	syncErr     error
	pushed      string
	pushErr     error
	resync      struct {
		owner, subject string
		from, to       time.Time
	}
}

func (f *fakeRunner) SyncOwner(ctx context.Context, ownerID, trigger string) (*models.SyncReport, error) {
	f.syncedOwner, f.trigger = ownerID, trigger
	if f.syncErr != nil {
		return &models.SyncReport{OwnerID: ownerID, Error: f.syncErr.Error()}, f.syncErr
	}
	return &models.SyncReport{OwnerID: ownerID, Trigger: trigger, Created: 2}, nil
}

func (f *fakeRunner) PushWorkout(ctx context.Context, ownerID, workoutID string) (*reconcile.PushResult, error) {
	f.pushed = ownerID + "/" + workoutID
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	return &reconcile.PushResult{Action: reconcile.PushCreated, EventID: "evt-1", Title: "Workout - Dana Levi 1"}, nil
}

func (f *fakeRunner) ResyncSubjectTitles(ctx context.Context, ownerID, subjectID string, from, to time.Time) (*reconcile.Result, error) {
	f.resync.owner, f.resync.subject, f.resync.from, f.resync.to = ownerID, subjectID, from, to
	return &reconcile.Result{Updated: 3}, nil
}

type fakeSweeper struct {
	err     error
	trigger string
	stats   scheduler.SweeperStats
}

func (f *fakeSweeper) GetStats() scheduler.SweeperStats {
	return f.stats
}

type fakeReports struct {
	err error
}

func (f *fakeReports) IsHealthy() error {
	return f.err
}

func (f *fakeSweeper) SweepNow(ctx context.Context, trigger string) (*scheduler.SweepResult, error) {
	f.trigger = trigger
	if f.err != nil {
		return nil, f.err
	}
	return &scheduler.SweepResult{Owners: 2, Succeeded: 2}, nil
}

type apiFixture struct {
	server  http.Handler
	runner  *fakeRunner
	sweeper *fakeSweeper
	reports *fakeReports
	store   *memory.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		runner:  &fakeRunner{},
		sweeper: &fakeSweeper{},
		reports: &fakeReports{},
		store:   memory.New(),
	}
	webhooks := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(f.runner, f.sweeper, f.reports, f.store, webhooks, time.UTC, logger)
	handler.now = func() time.Time { return time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC) }

	srv := NewServer(ServerConfig{Address: ":0"}, handler, NewAuthMiddleware(testAuth, PublicPaths), logger)
	f.server = srv.Handler
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	return payload["type"]
}

func TestHealthzAndMetricsArePublic(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/webhooks/google", "", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	lastSweep := time.Date(2024, 6, 10, 11, 45, 0, 0, time.UTC)
	f.sweeper.stats = scheduler.SweeperStats{Sweeps: 4, LastSweepAt: lastSweep, LastSucceeded: 3, LastFailed: 1, IsRunning: true}

	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view HealthView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.Equal(t, "ok", view.Status)
	require.Equal(t, "ok", view.Reports)
	require.NotNil(t, view.Sweeper)
	require.Equal(t, 4, view.Sweeper.Sweeps)
	require.True(t, view.Sweeper.LastSweepAt.Equal(lastSweep))
	require.Equal(t, 1, view.Sweeper.LastFailed)

	f.reports.err = errors.New("NATS is not connected")
	rec = f.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	view = HealthView{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.Equal(t, "unavailable", view.Status)
	require.Equal(t, "NATS is not connected", view.Reports)
}

func TestSyncOwner(t *testing.T) {
	f := newAPIFixture(t)
	token := signToken(t, jwt.MapClaims{"sub": "owner-1"})

	rec := f.do(t, http.MethodPost, "/v1/sync", token, `{"owner_id":"owner-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "owner-1", f.runner.syncedOwner)
	require.Equal(t, scheduler.TriggerManual, f.runner.trigger)

	var report models.SyncReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.Equal(t, 2, report.Created)

	// Empty body defaults to the caller
	f.runner.syncedOwner = ""
	rec = f.do(t, http.MethodPost, "/v1/sync", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "owner-1", f.runner.syncedOwner)
}

func TestSyncOwner_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		syncErr  error
		wantCode int
		wantType string
	}{
		{name: "other owner", body: `{"owner_id":"owner-2"}`, wantCode: http.StatusForbidden, wantType: "forbidden"},
		{name: "bad body", body: `{`, wantCode: http.StatusBadRequest, wantType: "invalid_request"},
		{name: "not connected", syncErr: syncerr.ErrNotConnected, wantCode: http.StatusConflict, wantType: "not_connected"},
		{name: "reauth", syncErr: syncerr.ReauthRequired("refresh", errors.New("revoked")), wantCode: http.StatusConflict, wantType: "reauth_required"},
		{name: "transient", syncErr: syncerr.Transient("list", errors.New("503")), wantCode: http.StatusServiceUnavailable, wantType: "unavailable"},
		{name: "internal", syncErr: errors.New("boom"), wantCode: http.StatusInternalServerError, wantType: "server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.runner.syncErr = tt.syncErr

			rec := f.do(t, http.MethodPost, "/v1/sync", signToken(t, jwt.MapClaims{"sub": "owner-1"}), tt.body)
			require.Equal(t, tt.wantCode, rec.Code)
			require.Equal(t, tt.wantType, decodeError(t, rec))
		})
	}
}

func TestSyncOwner_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/sync", "", `{"owner_id":"owner-1"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, f.runner.syncedOwner)
}

func TestSyncAll(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/sync/periodic", signToken(t, jwt.MapClaims{"sub": "cron"}), "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, f.sweeper.trigger)

	admin := signToken(t, jwt.MapClaims{"sub": "cron", "scopes": []string{ScopeSyncAll}})
	rec = f.do(t, http.MethodPost, "/v1/sync/periodic", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, scheduler.TriggerPeriodic, f.sweeper.trigger)

	var result scheduler.SweepResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.Equal(t, 2, result.Succeeded)

	f.sweeper.err = scheduler.ErrSweepInProgress
	rec = f.do(t, http.MethodPost, "/v1/sync/periodic", admin, "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPushWorkout(t *testing.T) {
	f := newAPIFixture(t)
	token := signToken(t, jwt.MapClaims{"sub": "owner-1"})

	rec := f.do(t, http.MethodPost, "/v1/workouts/w-1/push", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "owner-1/w-1", f.runner.pushed)

	var result reconcile.PushResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.Equal(t, reconcile.PushCreated, result.Action)

	f.runner.pushErr = syncerr.ErrNotFound
	rec = f.do(t, http.MethodPost, "/v1/workouts/w-2/push", token, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/workouts/w-2/push", token, "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResyncTitles(t *testing.T) {
	f := newAPIFixture(t)
	token := signToken(t, jwt.MapClaims{"sub": "owner-1"})

	rec := f.do(t, http.MethodPost, "/v1/subjects/subject-dana/resync-titles", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "owner-1", f.runner.resync.owner)
	require.Equal(t, "subject-dana", f.runner.resync.subject)
	require.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), f.runner.resync.from)
	require.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), f.runner.resync.to)

	var view ResultView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	require.Equal(t, 3, view.Updated)

	rec = f.do(t, http.MethodPost, "/v1/subjects/subject-dana/resync-titles", token, `{"month":"2024-12"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), f.runner.resync.from)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), f.runner.resync.to)

	rec = f.do(t, http.MethodPost, "/v1/subjects/subject-dana/resync-titles", token, `{"month":"December"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarFeed(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	start := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	require.NoError(t, f.store.UpsertCredential(ctx, &models.Credential{OwnerID: "owner-1", DefaultCalendarID: "trainer@example.com"}))
	require.NoError(t, f.store.InsertSyncRecord(ctx, &models.SyncRecord{
		ID:                 "rec-1",
		OwnerID:            "owner-1",
		SubjectID:          "subject-dana",
		ExternalEventID:    "evt-1",
		ExternalCalendarID: "trainer@example.com",
		SyncDirection:      models.DirectionBidirectional,
		SyncStatus:         models.SyncStatusSynced,
		EventStartTime:     start,
		EventEndTime:       start.Add(time.Hour),
		EventSummary:       "Workout - Dana Levi 1",
	}))

	rec := f.do(t, http.MethodGet, "/v1/calendar.ics", signToken(t, jwt.MapClaims{"sub": "owner-1"}), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	require.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
	require.Contains(t, rec.Body.String(), "Workout - Dana Levi 1")
}

func TestMonthBounds(t *testing.T) {
	jerusalem := time.FixedZone("IDT", 3*60*60)

	// 22:30 UTC on the last day of May is already June at UTC+3
	now := time.Date(2024, 5, 31, 22, 30, 0, 0, time.UTC)
	from, to, err := monthBounds("", now, jerusalem)
	require.NoError(t, err)
	require.Equal(t, time.June, from.Month())
	require.True(t, to.Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, jerusalem)))
}
