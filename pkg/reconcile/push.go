package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/calendar"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

// PushAction describes what PushWorkout did
type PushAction string

const (
	PushSkipped PushAction = "skipped"
	PushCreated PushAction = "created"
	PushUpdated PushAction = "updated"
)

// PushResult reports the outcome of pushing one workout
type PushResult struct {
	Action  PushAction `json:"action"`
	EventID string     `json:"event_id,omitempty"`
	Title   string     `json:"title,omitempty"`
}

// EventIDForWorkout derives a stable provider event id from a workout id, so
// a retried insert collides with the first attempt instead of duplicating it.
// Hex digits are valid in provider event ids.
func EventIDForWorkout(workoutID string) string {
	sum := sha256.Sum256([]byte(workoutID))
	return hex.EncodeToString(sum[:])[:32]
}

// PushWorkout writes an internal workout to the owner's calendar
func (e *Engine) PushWorkout(ctx context.Context, cred *models.Credential, client calendar.Client, workoutID string) (*PushResult, error) {
	if !cred.SyncDirection.AllowsOutbound() {
		e.logger.Debug("Outbound sync disabled for owner",
			"owner_id", cred.OwnerID,
			"direction", cred.SyncDirection)
		return &PushResult{Action: PushSkipped}, nil
	}

	workout, err := e.store.GetWorkout(ctx, cred.OwnerID, workoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workout: %w", err)
	}
	if workout == nil {
		return nil, fmt.Errorf("workout %s: %w", workoutID, syncerr.ErrNotFound)
	}

	title, err := e.titles.Title(ctx, cred.OwnerID, workout.PrimarySubjectID(), workout.WorkoutDate, workout.ID)
	if err != nil {
		e.logger.Warn("Falling back to plain title",
			"owner_id", cred.OwnerID,
			"workout_id", workout.ID,
			"error", err)
	}

	input := &models.EventInput{
		Summary:     title,
		Description: workout.Notes,
		StartTime:   workout.WorkoutDate,
		EndTime:     workout.WorkoutDate.Add(e.opts.SessionDuration),
		TimeZone:    e.opts.TimeZone,
	}

	record, err := e.store.FindSyncRecordByWorkout(ctx, cred.OwnerID, workout.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find sync record: %w", err)
	}
	if record != nil {
		return e.pushToRecord(ctx, client, record, input)
	}

	calendarID := cred.CalendarID()
	if workout.ExternalEventID != "" {
		err := client.UpdateEvent(ctx, calendarID, workout.ExternalEventID, input)
		if err == nil {
			return &PushResult{Action: PushUpdated, EventID: workout.ExternalEventID, Title: title}, nil
		}
		if !errors.Is(err, syncerr.ErrNotFound) {
			return nil, fmt.Errorf("failed to update event %s: %w", workout.ExternalEventID, err)
		}
		e.logger.Info("Previously pushed event is gone, recreating",
			"owner_id", cred.OwnerID,
			"workout_id", workout.ID,
			"event_id", workout.ExternalEventID)
	}

	return e.pushNew(ctx, cred, client, workout, input)
}

func (e *Engine) pushToRecord(ctx context.Context, client calendar.Client, record *models.SyncRecord, input *models.EventInput) (*PushResult, error) {
	now := e.opts.Now()
	if err := client.UpdateEvent(ctx, record.ExternalCalendarID, record.ExternalEventID, input); err != nil {
		record.SyncStatus = models.SyncStatusFailed
		record.LastSyncedAt = now
		if uerr := e.store.UpdateSyncRecord(ctx, record); uerr != nil {
			e.logger.Error("Failed to mark sync record failed", "record_id", record.ID, "error", uerr)
		}
		return nil, fmt.Errorf("failed to update event %s: %w", record.ExternalEventID, err)
	}

	applyInput(record, input, now)
	if err := e.store.UpdateSyncRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update sync record: %w", err)
	}
	return &PushResult{Action: PushUpdated, EventID: record.ExternalEventID, Title: input.Summary}, nil
}

// pushNew inserts the event. Under bidirectional sync the pairing is recorded
// before the provider call so an inbound notification for the new event finds
// it instead of creating a second workout.
func (e *Engine) pushNew(ctx context.Context, cred *models.Credential, client calendar.Client, workout *models.Workout, input *models.EventInput) (*PushResult, error) {
	calendarID := cred.CalendarID()
	eventID := EventIDForWorkout(workout.ID)
	input.ID = eventID

	var record *models.SyncRecord
	if cred.SyncDirection == models.DirectionBidirectional {
		record = &models.SyncRecord{
			ID:                 uuid.NewString(),
			OwnerID:            cred.OwnerID,
			SubjectID:          workout.PrimarySubjectID(),
			WorkoutID:          workout.ID,
			ExternalEventID:    eventID,
			ExternalCalendarID: calendarID,
			SyncDirection:      models.DirectionBidirectional,
		}
		applyInput(record, input, e.opts.Now())
		if err := e.store.InsertSyncRecord(ctx, record); err != nil {
			if !errors.Is(err, syncerr.ErrConflictIgnored) {
				return nil, fmt.Errorf("failed to record pairing: %w", err)
			}
			// Another push got there first; its record stays authoritative
			record = nil
		}
	}

	createdID, err := client.InsertEvent(ctx, calendarID, input)
	action := PushCreated
	if errors.Is(err, calendar.ErrEventExists) {
		createdID, action = eventID, PushUpdated
		err = client.UpdateEvent(ctx, calendarID, eventID, input)
	}
	if err != nil {
		if record != nil {
			if derr := e.store.DeleteSyncRecord(ctx, record.ID); derr != nil {
				e.logger.Error("Failed to roll back pairing", "record_id", record.ID, "error", derr)
			}
		}
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	if cred.SyncDirection == models.DirectionToExternal {
		if err := e.store.SetWorkoutExternalEvent(ctx, cred.OwnerID, workout.ID, createdID); err != nil {
			return nil, fmt.Errorf("failed to store event id on workout: %w", err)
		}
	}

	e.logger.Info("Pushed workout to calendar",
		"owner_id", cred.OwnerID,
		"workout_id", workout.ID,
		"event_id", createdID,
		"action", action)
	return &PushResult{Action: action, EventID: createdID, Title: input.Summary}, nil
}

// ResyncSubjectTitles rewrites the title of every paired event of one subject
// in [from, to). Failed records are retried; a failing event is marked and counted.
func (e *Engine) ResyncSubjectTitles(ctx context.Context, cred *models.Credential, client calendar.Client, subjectID string, from, to time.Time) (*Result, error) {
	records, err := e.store.ListSubjectSyncRecords(ctx, cred.OwnerID, subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list subject sync records: %w", err)
	}

	result := &Result{}
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		title, err := e.titles.Title(ctx, cred.OwnerID, subjectID, record.EventStartTime, record.WorkoutID)
		if err != nil {
			e.logger.Warn("Skipping title with incomplete data",
				"owner_id", cred.OwnerID,
				"event_id", record.ExternalEventID,
				"error", err)
			result.Failed++
			continue
		}
		if title == record.EventSummary && record.SyncStatus == models.SyncStatusSynced {
			result.Skipped++
			continue
		}

		now := e.opts.Now()
		if err := client.PatchSummary(ctx, record.ExternalCalendarID, record.ExternalEventID, title); err != nil {
			e.logger.Error("Failed to update event title",
				"owner_id", cred.OwnerID,
				"event_id", record.ExternalEventID,
				"error", err)
			record.SyncStatus = models.SyncStatusFailed
			record.LastSyncedAt = now
			if uerr := e.store.UpdateSyncRecord(ctx, record); uerr != nil {
				e.logger.Error("Failed to mark sync record failed", "record_id", record.ID, "error", uerr)
			}
			result.Failed++
			continue
		}

		record.EventSummary = title
		record.SyncStatus = models.SyncStatusSynced
		record.LastSyncedAt = now
		if err := e.store.UpdateSyncRecord(ctx, record); err != nil {
			e.logger.Error("Failed to update sync record", "record_id", record.ID, "error", err)
			result.Failed++
			continue
		}
		result.Updated++
	}

	e.logger.Info("Resynced subject titles",
		"owner_id", cred.OwnerID,
		"subject_id", subjectID,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}

func applyInput(record *models.SyncRecord, input *models.EventInput, now time.Time) {
	record.EventStartTime = input.StartTime
	record.EventEndTime = input.EndTime
	record.EventSummary = input.Summary
	record.EventDescription = input.Description
	record.SyncStatus = models.SyncStatusSynced
	record.LastSyncedAt = now
}
