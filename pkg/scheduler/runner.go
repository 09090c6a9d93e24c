package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/calendar"
	"github.com/venkytv/calendar-sync/pkg/nats"
	"github.com/venkytv/calendar-sync/pkg/observability"
	"github.com/venkytv/calendar-sync/pkg/reconcile"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

// Triggers recorded on sync reports
const (
	TriggerWebhook  = "webhook"
	TriggerCron     = "cron"
	TriggerManual   = "manual"
	TriggerPeriodic = "periodic"
)

// TokenSource yields an owner's credential with a valid access token
type TokenSource interface {
	ValidCredential(ctx context.Context, ownerID string) (*models.Credential, error)
}

// Engine is the reconciliation surface the runner drives
type Engine interface {
	Reconcile(ctx context.Context, ownerID, calendarID string, direction models.SyncDirection, events []*models.Event) (*reconcile.Result, error)
	Cleanup(ctx context.Context, ownerID, calendarID string, window reconcile.Window, fetched []*models.Event, fetchedAt time.Time) (*reconcile.Result, error)
	RecomputeStats(ctx context.Context, ownerID string) ([]*models.ClientStats, error)
	PushWorkout(ctx context.Context, cred *models.Credential, client calendar.Client, workoutID string) (*reconcile.PushResult, error)
	ResyncSubjectTitles(ctx context.Context, cred *models.Credential, client calendar.Client, subjectID string, from, to time.Time) (*reconcile.Result, error)
}

// Runner performs one full reconciliation for one owner
type Runner struct {
	tokens    TokenSource
	clients   calendar.ClientFactory
	engine    Engine
	publisher nats.ReportPublisher
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewRunner creates a Runner. window is the half-width of the reconciliation
// range around now.
func NewRunner(tokens TokenSource, clients calendar.ClientFactory, engine Engine, publisher nats.ReportPublisher, window time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = nats.NewLogPublisher(logger)
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &Runner{
		tokens:    tokens,
		clients:   clients,
		engine:    engine,
		publisher: publisher,
		window:    window,
		now:       time.Now,
		logger:    logger,
	}
}

// credential fetches a valid credential, retrying a transient failure once
func (r *Runner) credential(ctx context.Context, ownerID string) (*models.Credential, error) {
	cred, err := r.tokens.ValidCredential(ctx, ownerID)
	if err != nil && syncerr.IsRetryable(err) {
		r.logger.Warn("Transient token failure, retrying once", "owner_id", ownerID, "error", err)
		cred, err = r.tokens.ValidCredential(ctx, ownerID)
	}

	switch {
	case err == nil:
		observability.RecordTokenOutcome("ok")
	case errors.Is(err, syncerr.ErrNotConnected):
		observability.RecordTokenOutcome("not_connected")
	case errors.Is(err, syncerr.ErrReauthRequired):
		observability.RecordTokenOutcome("reauth")
	default:
		observability.RecordTokenOutcome("transient")
	}
	return cred, err
}

// client returns an owner's valid credential and a provider client bound to it
func (r *Runner) client(ctx context.Context, ownerID string) (*models.Credential, calendar.Client, error) {
	cred, err := r.credential(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	client, err := r.clients.ForOwner(ctx, ownerID, cred.AccessToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create calendar client: %w", err)
	}
	return cred, client, nil
}

// SyncOwner runs a full reconciliation for the owner. It ignores
// auto_sync_enabled; callers that honour it check before calling.
func (r *Runner) SyncOwner(ctx context.Context, ownerID, trigger string) (*models.SyncReport, error) {
	report := &models.SyncReport{
		OwnerID:   ownerID,
		Trigger:   trigger,
		StartedAt: r.now(),
	}

	cred, client, err := r.client(ctx, ownerID)
	if err != nil {
		return r.finish(ctx, report, err)
	}

	err = r.syncWithClient(ctx, cred, client, report)
	return r.finish(ctx, report, err)
}

func (r *Runner) syncWithClient(ctx context.Context, cred *models.Credential, client calendar.Client, report *models.SyncReport) error {
	calendarID := cred.CalendarID()
	window := reconcile.WindowAround(report.StartedAt, r.window)
	report.CalendarID = calendarID
	report.WindowFrom = window.From
	report.WindowTo = window.To

	logger := r.logger.With("owner_id", cred.OwnerID, "calendar_id", calendarID, "trigger", report.Trigger)
	logger.Debug("Fetching events", "from", window.From.Format(time.RFC3339), "to", window.To.Format(time.RFC3339))

	fetchedAt := r.now()
	events, err := client.ListEvents(ctx, calendarID, window.From, window.To)
	if err != nil {
		return fmt.Errorf("failed to fetch events: %w", err)
	}
	report.Fetched = len(events)

	result, err := r.engine.Reconcile(ctx, cred.OwnerID, calendarID, cred.SyncDirection, events)
	addResult(report, result)
	if err != nil {
		return fmt.Errorf("failed to reconcile events: %w", err)
	}

	cleanup, err := r.engine.Cleanup(ctx, cred.OwnerID, calendarID, window, events, fetchedAt)
	addResult(report, cleanup)
	if err != nil {
		return fmt.Errorf("failed to clean up stale pairings: %w", err)
	}

	if _, err := r.engine.RecomputeStats(ctx, cred.OwnerID); err != nil {
		// Derived read model; the next run rebuilds it
		logger.Warn("Failed to recompute client stats", "error", err)
	}
	return nil
}

func addResult(report *models.SyncReport, result *reconcile.Result) {
	if result == nil {
		return
	}
	report.Created += result.Created
	report.Updated += result.Updated
	report.Deleted += result.Deleted
	report.Skipped += result.Skipped
	report.Failed += result.Failed
}

func (r *Runner) finish(ctx context.Context, report *models.SyncReport, err error) (*models.SyncReport, error) {
	report.FinishedAt = r.now()
	if err != nil {
		report.Error = err.Error()
	}

	observability.RecordSyncReport(report)

	// Publishing must not be cut short by the run's own deadline
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if perr := r.publisher.PublishReport(pubCtx, report); perr != nil {
		r.logger.Warn("Failed to publish sync report", "owner_id", report.OwnerID, "error", perr)
	}

	if err != nil {
		r.logger.Error("Owner sync failed",
			"owner_id", report.OwnerID,
			"trigger", report.Trigger,
			"error", err)
		return report, err
	}

	r.logger.Info("Owner sync completed",
		"owner_id", report.OwnerID,
		"trigger", report.Trigger,
		"fetched", report.Fetched,
		"created", report.Created,
		"updated", report.Updated,
		"deleted", report.Deleted,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

// PushWorkout writes one internal workout to the owner's calendar
func (r *Runner) PushWorkout(ctx context.Context, ownerID, workoutID string) (*reconcile.PushResult, error) {
	cred, client, err := r.client(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	result, err := r.engine.PushWorkout(ctx, cred, client, workoutID)
	if err != nil {
		observability.RecordPush("failed")
		return nil, err
	}
	observability.RecordPush(string(result.Action))
	return result, nil
}

// ResyncSubjectTitles rewrites the titles of one subject's events in [from, to)
func (r *Runner) ResyncSubjectTitles(ctx context.Context, ownerID, subjectID string, from, to time.Time) (*reconcile.Result, error) {
	cred, client, err := r.client(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return r.engine.ResyncSubjectTitles(ctx, cred, client, subjectID, from, to)
}
