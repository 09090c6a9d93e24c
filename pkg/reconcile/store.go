package reconcile

import (
	"context"
	"time"

	"github.com/venkytv/calendar-sync/internal/models"
)

// Store is the persistence the engine needs. Lookups return nil, nil for
// missing rows. Sync Records are unique per (external event id, calendar id);
// inserts that lose that race return syncerr.ErrConflictIgnored.
type Store interface {
	FindSyncRecord(ctx context.Context, eventID, calendarID string) (*models.SyncRecord, error)
	FindSyncRecordByWorkout(ctx context.Context, ownerID, workoutID string) (*models.SyncRecord, error)
	InsertSyncRecord(ctx context.Context, record *models.SyncRecord) error
	UpdateSyncRecord(ctx context.Context, record *models.SyncRecord) error
	DeleteSyncRecord(ctx context.Context, id string) error
	// ListSyncRecordsInWindow returns records with from <= event_start_time < to
	ListSyncRecordsInWindow(ctx context.Context, ownerID, calendarID string, from, to time.Time) ([]*models.SyncRecord, error)
	ListSubjectSyncRecords(ctx context.Context, ownerID, subjectID string, from, to time.Time) ([]*models.SyncRecord, error)
	ListOwnerSyncRecords(ctx context.Context, ownerID string) ([]*models.SyncRecord, error)

	// CreatePairedWorkout inserts a workout, its subject links and its Sync Record
	// atomically. Nothing is written when the record already exists.
	CreatePairedWorkout(ctx context.Context, workout *models.Workout, record *models.SyncRecord) error
	GetWorkout(ctx context.Context, ownerID, workoutID string) (*models.Workout, error)
	// FindWorkoutByExternalEvent finds a workout pushed one-way to eventID
	FindWorkoutByExternalEvent(ctx context.Context, ownerID, eventID string) (*models.Workout, error)
	// UpdateWorkoutSchedule returns syncerr.ErrNotFound when the workout is gone
	UpdateWorkoutSchedule(ctx context.Context, ownerID, workoutID string, date time.Time, notes string) error
	// DeleteWorkout succeeds when the workout is already gone
	DeleteWorkout(ctx context.Context, ownerID, workoutID string) error
	SetWorkoutExternalEvent(ctx context.Context, ownerID, workoutID, eventID string) error

	ReplaceClientStats(ctx context.Context, ownerID string, stats []*models.ClientStats) error
}
