// Package reconcile maps external calendar events onto internal workouts and
// keeps the Sync Records that pair them.
//
// Correctness under overlapping runs for the same owner relies on the unique
// (external event id, calendar id) key on Sync Records and a re-check before
// insert. No locks are taken.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/matcher"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

// SubjectMatcher resolves an event to subjects
type SubjectMatcher interface {
	Match(ctx context.Context, ownerID string, event *models.Event) (*matcher.Result, error)
}

// TitleGenerator builds outbound event titles
type TitleGenerator interface {
	Title(ctx context.Context, ownerID, subjectID string, at time.Time, workoutID string) (string, error)
}

// Options tunes the engine
type Options struct {
	// SessionDuration is the length of events pushed for a workout
	SessionDuration time.Duration
	// TimeZone is attached to pushed events
	TimeZone string
	// WorkoutType is stored on workouts created from events
	WorkoutType string
	Now         func() time.Time
}

// Result counts what a run did
type Result struct {
	Created int
	Updated int
	Deleted int
	Skipped int
	Failed  int
}

// Add accumulates other into r
func (r *Result) Add(other *Result) {
	if other == nil {
		return
	}
	r.Created += other.Created
	r.Updated += other.Updated
	r.Deleted += other.Deleted
	r.Skipped += other.Skipped
	r.Failed += other.Failed
}

// Engine is the event to workout mapper
type Engine struct {
	store   Store
	matcher SubjectMatcher
	titles  TitleGenerator
	opts    Options
	logger  *slog.Logger
}

// NewEngine creates an Engine
func NewEngine(store Store, m SubjectMatcher, titles TitleGenerator, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionDuration <= 0 {
		opts.SessionDuration = time.Hour
	}
	if opts.WorkoutType == "" {
		opts.WorkoutType = "personal"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:   store,
		matcher: m,
		titles:  titles,
		opts:    opts,
		logger:  logger,
	}
}

type action int

const (
	actionNone action = iota
	actionCreated
	actionUpdated
	actionDeleted
	actionSkipped
)

func (r *Result) record(a action) {
	switch a {
	case actionCreated:
		r.Created++
	case actionUpdated:
		r.Updated++
	case actionDeleted:
		r.Deleted++
	case actionSkipped:
		r.Skipped++
	}
}

// Reconcile applies a batch of fetched events for one owner's calendar.
// Cancellations are handled before live events. A failing event is logged and
// counted without aborting the batch.
func (e *Engine) Reconcile(ctx context.Context, ownerID, calendarID string, direction models.SyncDirection, events []*models.Event) (*Result, error) {
	logger := e.logger.With("owner_id", ownerID, "calendar_id", calendarID)
	result := &Result{}

	var live []*models.Event
	for _, event := range events {
		if event.Unparsed {
			result.Skipped++
			continue
		}
		if !event.IsCancelled() {
			live = append(live, event)
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		a, err := e.handleCancellation(ctx, calendarID, event)
		if err != nil {
			logger.Error("Failed to apply cancelled event", "event_id", event.ID, "error", err)
			result.Failed++
			continue
		}
		result.record(a)
	}

	for _, event := range live {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !direction.AllowsInbound() {
			result.Skipped++
			continue
		}
		a, err := e.handleLive(ctx, ownerID, calendarID, direction, event)
		if err != nil {
			logger.Error("Failed to apply event", "event_id", event.ID, "error", err)
			result.Failed++
			continue
		}
		result.record(a)
	}

	logger.Info("Reconciled events",
		"direction", direction,
		"events", len(events),
		"created", result.Created,
		"updated", result.Updated,
		"deleted", result.Deleted,
		"skipped", result.Skipped,
		"failed", result.Failed)

	return result, nil
}

// Cleanup deletes the pairings in the window whose events were absent from a
// full fetch of that window, exactly as if they had been cancelled.
// fetchedAt is when that fetch started: records synced at or after it were
// written by a concurrent push or run the fetch could not have seen, and are kept.
// Unparsed events count as present.
func (e *Engine) Cleanup(ctx context.Context, ownerID, calendarID string, window Window, fetched []*models.Event, fetchedAt time.Time) (*Result, error) {
	logger := e.logger.With("owner_id", ownerID, "calendar_id", calendarID)
	result := &Result{}

	present := make(map[string]bool, len(fetched))
	for _, event := range fetched {
		if event.Unparsed || !event.IsCancelled() {
			present[event.ID] = true
		}
	}

	records, err := e.store.ListSyncRecordsInWindow(ctx, ownerID, calendarID, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}

	for _, record := range records {
		if present[record.ExternalEventID] {
			continue
		}
		if !record.LastSyncedAt.Before(fetchedAt) {
			logger.Debug("Keeping pairing synced after fetch",
				"event_id", record.ExternalEventID,
				"last_synced_at", record.LastSyncedAt)
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.deletePairing(ctx, record); err != nil {
			logger.Error("Failed to remove stale pairing",
				"event_id", record.ExternalEventID,
				"error", err)
			result.Failed++
			continue
		}
		logger.Info("Removed stale pairing",
			"event_id", record.ExternalEventID,
			"workout_id", record.WorkoutID)
		result.Deleted++
	}

	return result, nil
}

func (e *Engine) handleCancellation(ctx context.Context, calendarID string, event *models.Event) (action, error) {
	record, err := e.store.FindSyncRecord(ctx, event.ID, calendarID)
	if err != nil {
		return actionNone, fmt.Errorf("failed to find sync record: %w", err)
	}
	if record == nil {
		return actionNone, nil
	}

	if err := e.deletePairing(ctx, record); err != nil {
		return actionNone, err
	}

	e.logger.Info("Deleted cancelled event pairing",
		"owner_id", record.OwnerID,
		"event_id", event.ID,
		"workout_id", record.WorkoutID)
	return actionDeleted, nil
}

// deletePairing removes the workout before its record so a failure leaves the
// record behind for the next run to retry
func (e *Engine) deletePairing(ctx context.Context, record *models.SyncRecord) error {
	if record.WorkoutID != "" {
		if err := e.store.DeleteWorkout(ctx, record.OwnerID, record.WorkoutID); err != nil {
			return fmt.Errorf("failed to delete workout %s: %w", record.WorkoutID, err)
		}
	}
	if err := e.store.DeleteSyncRecord(ctx, record.ID); err != nil {
		return fmt.Errorf("failed to delete sync record %s: %w", record.ID, err)
	}
	return nil
}

func (e *Engine) handleLive(ctx context.Context, ownerID, calendarID string, direction models.SyncDirection, event *models.Event) (action, error) {
	record, err := e.store.FindSyncRecord(ctx, event.ID, calendarID)
	if err != nil {
		return actionNone, fmt.Errorf("failed to find sync record: %w", err)
	}
	if record != nil {
		return e.updatePairing(ctx, record, event)
	}

	pushed, err := e.store.FindWorkoutByExternalEvent(ctx, ownerID, event.ID)
	if err != nil {
		return actionNone, fmt.Errorf("failed to find pushed workout: %w", err)
	}
	if pushed != nil {
		return e.adoptWorkout(ctx, calendarID, direction, pushed, event)
	}

	match, err := e.matcher.Match(ctx, ownerID, event)
	if err != nil {
		return actionNone, fmt.Errorf("failed to match subjects: %w", err)
	}
	if len(match.SubjectIDs) == 0 {
		e.logger.Debug("No subject matched event",
			"owner_id", ownerID,
			"event_id", event.ID,
			"summary", event.Summary,
			"ambiguous", match.Ambiguous)
		return actionSkipped, nil
	}

	// A concurrent run may have paired this event while we were matching
	record, err = e.store.FindSyncRecord(ctx, event.ID, calendarID)
	if err != nil {
		return actionNone, fmt.Errorf("failed to re-check sync record: %w", err)
	}
	if record != nil {
		return e.updatePairing(ctx, record, event)
	}

	now := e.opts.Now()
	workout := &models.Workout{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		WorkoutDate: event.StartTime,
		WorkoutType: e.opts.WorkoutType,
		Notes:       event.Description,
		SubjectIDs:  match.SubjectIDs,
	}
	record = &models.SyncRecord{
		ID:                 uuid.NewString(),
		OwnerID:            ownerID,
		SubjectID:          match.Primary(),
		WorkoutID:          workout.ID,
		ExternalEventID:    event.ID,
		ExternalCalendarID: calendarID,
		SyncDirection:      direction.RecordDirection(),
	}
	record.ApplyEvent(event, now)

	if err := e.store.CreatePairedWorkout(ctx, workout, record); err != nil {
		if errors.Is(err, syncerr.ErrConflictIgnored) {
			e.logger.Debug("Event already paired by a concurrent run",
				"owner_id", ownerID,
				"event_id", event.ID)
			return actionSkipped, nil
		}
		return actionNone, fmt.Errorf("failed to create workout: %w", err)
	}

	e.logger.Info("Created workout from event",
		"owner_id", ownerID,
		"event_id", event.ID,
		"workout_id", workout.ID,
		"subject_ids", match.SubjectIDs,
		"match_method", match.Method)
	return actionCreated, nil
}

// adoptWorkout pairs an event with the workout that was pushed to it while the
// owner synced one-way, instead of matching it into a second workout
func (e *Engine) adoptWorkout(ctx context.Context, calendarID string, direction models.SyncDirection, workout *models.Workout, event *models.Event) (action, error) {
	record := &models.SyncRecord{
		ID:                 uuid.NewString(),
		OwnerID:            workout.OwnerID,
		SubjectID:          workout.PrimarySubjectID(),
		WorkoutID:          workout.ID,
		ExternalEventID:    event.ID,
		ExternalCalendarID: calendarID,
		SyncDirection:      direction.RecordDirection(),
	}
	record.ApplyEvent(event, e.opts.Now())

	if err := e.store.InsertSyncRecord(ctx, record); err != nil {
		if errors.Is(err, syncerr.ErrConflictIgnored) {
			return actionSkipped, nil
		}
		return actionNone, fmt.Errorf("failed to pair pushed workout: %w", err)
	}

	if err := e.store.UpdateWorkoutSchedule(ctx, workout.OwnerID, workout.ID, event.StartTime, event.Description); err != nil {
		return actionNone, fmt.Errorf("failed to update workout %s: %w", workout.ID, err)
	}

	e.logger.Info("Paired previously pushed workout",
		"owner_id", workout.OwnerID,
		"event_id", event.ID,
		"workout_id", workout.ID)
	return actionUpdated, nil
}

// updatePairing refreshes the cached event fields and moves the paired workout
// to the event's exact start
func (e *Engine) updatePairing(ctx context.Context, record *models.SyncRecord, event *models.Event) (action, error) {
	if record.WorkoutID != "" {
		err := e.store.UpdateWorkoutSchedule(ctx, record.OwnerID, record.WorkoutID, event.StartTime, event.Description)
		switch {
		case errors.Is(err, syncerr.ErrNotFound):
			e.logger.Warn("Paired workout no longer exists, unlinking",
				"owner_id", record.OwnerID,
				"event_id", event.ID,
				"workout_id", record.WorkoutID)
			record.WorkoutID = ""
		case err != nil:
			return actionNone, fmt.Errorf("failed to update workout %s: %w", record.WorkoutID, err)
		}
	}

	record.ApplyEvent(event, e.opts.Now())
	if err := e.store.UpdateSyncRecord(ctx, record); err != nil {
		return actionNone, fmt.Errorf("failed to update sync record: %w", err)
	}
	return actionUpdated, nil
}
