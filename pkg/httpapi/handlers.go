// Package httpapi exposes the sync service over HTTP: provider webhooks,
// manual and periodic sync triggers, the push path and the iCalendar feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/calendar/ical"
	"github.com/venkytv/calendar-sync/pkg/reconcile"
	"github.com/venkytv/calendar-sync/pkg/scheduler"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

// OwnerRunner runs single-owner operations
type OwnerRunner interface {
	SyncOwner(ctx context.Context, ownerID, trigger string) (*models.SyncReport, error)
	PushWorkout(ctx context.Context, ownerID, workoutID string) (*reconcile.PushResult, error)
	ResyncSubjectTitles(ctx context.Context, ownerID, subjectID string, from, to time.Time) (*reconcile.Result, error)
}

// Sweeper syncs every enabled owner on demand
type Sweeper interface {
	SweepNow(ctx context.Context, trigger string) (*scheduler.SweepResult, error)
	GetStats() scheduler.SweeperStats
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	IsHealthy() error
}

// FeedStore serves the iCalendar export
type FeedStore interface {
	GetCredential(ctx context.Context, ownerID string) (*models.Credential, error)
	ListOwnerSyncRecords(ctx context.Context, ownerID string) ([]*models.SyncRecord, error)
}

// Handler coordinates HTTP requests with the sync components.
type Handler struct {
	runner   OwnerRunner
	sweeper  Sweeper
	reports  HealthChecker
	store    FeedStore
	webhooks http.Handler
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewHandler builds a Handler. loc defines calendar months for title resyncs;
// reports is the sync report publisher checked by /healthz.
func NewHandler(runner OwnerRunner, sweeper Sweeper, reports HealthChecker, store FeedStore, webhooks http.Handler, loc *time.Location, logger *slog.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runner:   runner,
		sweeper:  sweeper,
		reports:  reports,
		store:    store,
		webhooks: webhooks,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	if h.webhooks != nil {
		mux.Handle("/webhooks/google", h.webhooks)
	}
	mux.HandleFunc("POST /v1/sync", h.syncOwner)
	mux.HandleFunc("POST /v1/sync/periodic", h.syncAll)
	mux.HandleFunc("POST /v1/workouts/{id}/push", h.pushWorkout)
	mux.HandleFunc("POST /v1/subjects/{id}/resync-titles", h.resyncTitles)
	mux.HandleFunc("GET /v1/calendar.ics", h.calendarFeed)
}

// HealthView is the body of GET /healthz
type HealthView struct {
	Status  string                  `json:"status"`
	Reports string                  `json:"reports"`
	Sweeper *scheduler.SweeperStats `json:"sweeper,omitempty"`
}

// healthz reports the report publisher connection and the last periodic sweep.
// An unusable publisher fails the check.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	view := HealthView{Status: "ok", Reports: "ok"}
	code := http.StatusOK

	if h.reports != nil {
		if err := h.reports.IsHealthy(); err != nil {
			h.logger.Warn("Report publisher unhealthy", "error", err)
			view.Status = "unavailable"
			view.Reports = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if h.sweeper != nil {
		stats := h.sweeper.GetStats()
		view.Sweeper = &stats
	}

	writeJSON(w, code, view)
}

// SyncRequest is the body of POST /v1/sync
type SyncRequest struct {
	OwnerID string `json:"owner_id"`
}

// ResyncTitlesRequest is the optional body of POST /v1/subjects/{id}/resync-titles
type ResyncTitlesRequest struct {
	// Month is YYYY-MM; empty means the current month
	Month string `json:"month"`
}

// ResultView is the JSON form of a reconciliation result
type ResultView struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (h *Handler) syncOwner(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req SyncRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = claims.Subject
	}
	if req.OwnerID != claims.Subject {
		writeError(w, http.StatusForbidden, "forbidden", "token subject does not match owner_id")
		return
	}

	report, err := h.runner.SyncOwner(r.Context(), req.OwnerID, scheduler.TriggerManual)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) syncAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	if !claims.HasScope(ScopeSyncAll) {
		writeError(w, http.StatusForbidden, "forbidden", "scope sync:all required")
		return
	}

	result, err := h.sweeper.SweepNow(r.Context(), scheduler.TriggerPeriodic)
	if err != nil {
		if errors.Is(err, scheduler.ErrSweepInProgress) {
			writeError(w, http.StatusConflict, "sweep_in_progress", err.Error())
			return
		}
		h.writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) pushWorkout(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	workoutID := r.PathValue("id")
	result, err := h.runner.PushWorkout(r.Context(), claims.Subject, workoutID)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) resyncTitles(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req ResyncTitlesRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	from, to, err := monthBounds(req.Month, h.now(), h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	result, err := h.runner.ResyncSubjectTitles(r.Context(), claims.Subject, r.PathValue("id"), from, to)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultView{
		Created: result.Created,
		Updated: result.Updated,
		Deleted: result.Deleted,
		Skipped: result.Skipped,
		Failed:  result.Failed,
	})
}

func (h *Handler) calendarFeed(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	cred, err := h.store.GetCredential(r.Context(), claims.Subject)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}
	name := "Workouts"
	if cred != nil {
		name = fmt.Sprintf("Workouts (%s)", cred.CalendarID())
	}

	records, err := h.store.ListOwnerSyncRecords(r.Context(), claims.Subject)
	if err != nil {
		h.writeSyncError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ical.BuildFeed(name, records, h.now()))
}

// monthBounds returns [first of month, first of next month) in loc
func monthBounds(month string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	var start time.Time
	if month == "" {
		local := now.In(loc)
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	} else {
		parsed, err := time.ParseInLocation("2006-01", month, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("month must be YYYY-MM: %w", err)
		}
		start = parsed
	}
	return start, start.AddDate(0, 1, 0), nil
}

func requireClaims(w http.ResponseWriter, r *http.Request) (*Claims, bool) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	return claims, true
}

// decodeOptionalBody decodes a JSON body into dst; an empty body leaves dst untouched
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
	return false
}

func (h *Handler) writeSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, syncerr.ErrNotConnected):
		writeError(w, http.StatusConflict, "not_connected", err.Error())
	case errors.Is(err, syncerr.ErrReauthRequired):
		writeError(w, http.StatusConflict, "reauth_required", err.Error())
	case errors.Is(err, syncerr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case syncerr.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
