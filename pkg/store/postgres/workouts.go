package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

const workoutSelect = `SELECT w.id, w.owner_id, w.workout_date, w.workout_type, w.notes,
        w.is_completed, w.is_prepared, w.external_event_id,
        COALESCE(array_agg(ws.subject_id ORDER BY ws.position, ws.subject_id)
            FILTER (WHERE ws.subject_id IS NOT NULL), '{}')
    FROM workouts w
    LEFT JOIN workout_subjects ws ON ws.workout_id = w.id`

func scanWorkout(row pgx.Row) (*models.Workout, error) {
	var w models.Workout
	var externalID *string
	if err := row.Scan(&w.ID, &w.OwnerID, &w.WorkoutDate, &w.WorkoutType, &w.Notes,
		&w.IsCompleted, &w.IsPrepared, &externalID, &w.SubjectIDs); err != nil {
		return nil, err
	}
	w.ExternalEventID = deref(externalID)
	return &w, nil
}

func collectWorkouts(rows pgx.Rows) ([]*models.Workout, error) {
	defer rows.Close()
	var out []*models.Workout
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workout: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func insertWorkout(ctx context.Context, tx pgx.Tx, workout *models.Workout) error {
	_, err := tx.Exec(ctx, `INSERT INTO workouts (id, owner_id, workout_date, workout_type, notes,
            is_completed, is_prepared, external_event_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		workout.ID,
		workout.OwnerID,
		workout.WorkoutDate,
		workout.WorkoutType,
		workout.Notes,
		workout.IsCompleted,
		workout.IsPrepared,
		nullIfEmpty(workout.ExternalEventID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert workout: %w", err)
	}

	for i, subjectID := range workout.SubjectIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO workout_subjects (workout_id, subject_id, position) VALUES ($1, $2, $3)
            ON CONFLICT DO NOTHING`,
			workout.ID, subjectID, i,
		); err != nil {
			return fmt.Errorf("failed to link subject %s: %w", subjectID, err)
		}
	}
	return nil
}

// CreateWorkout stores a workout and its subjects. An empty ID is assigned.
func (s *Store) CreateWorkout(ctx context.Context, workout *models.Workout) error {
	if workout.ID == "" {
		workout.ID = uuid.NewString()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertWorkout(ctx, tx, workout); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreatePairedWorkout inserts a workout together with the Sync Record pairing it
// to an external event. When the event is already paired nothing is written and
// ErrConflictIgnored is returned.
func (s *Store) CreatePairedWorkout(ctx context.Context, workout *models.Workout, record *models.SyncRecord) error {
	if workout.ID == "" {
		workout.ID = uuid.NewString()
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.WorkoutID = workout.ID

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertWorkout(ctx, tx, workout); err != nil {
		return err
	}

	inserted, err := insertSyncRecord(ctx, tx, record)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("event %s: %w", record.ExternalEventID, syncerr.ErrConflictIgnored)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %s: %w", record.ExternalEventID, syncerr.ErrConflictIgnored)
		}
		return fmt.Errorf("failed to commit paired workout: %w", err)
	}
	return nil
}

func (s *Store) GetWorkout(ctx context.Context, ownerID, workoutID string) (*models.Workout, error) {
	row := s.pool.QueryRow(ctx, workoutSelect+`
        WHERE w.owner_id = $1 AND w.id = $2
        GROUP BY w.id`, ownerID, workoutID)
	w, err := scanWorkout(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workout: %w", err)
	}
	return w, nil
}

// FindWorkoutByExternalEvent returns the workout a one-way push stored eventID on
func (s *Store) FindWorkoutByExternalEvent(ctx context.Context, ownerID, eventID string) (*models.Workout, error) {
	row := s.pool.QueryRow(ctx, workoutSelect+`
        WHERE w.owner_id = $1 AND w.external_event_id = $2
        GROUP BY w.id
        ORDER BY w.workout_date, w.id
        LIMIT 1`, ownerID, eventID)
	w, err := scanWorkout(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find workout by event: %w", err)
	}
	return w, nil
}

func (s *Store) ListWorkouts(ctx context.Context, ownerID string) ([]*models.Workout, error) {
	rows, err := s.pool.Query(ctx, workoutSelect+`
        WHERE w.owner_id = $1
        GROUP BY w.id
        ORDER BY w.workout_date, w.id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workouts: %w", err)
	}
	return collectWorkouts(rows)
}

func (s *Store) ListSubjectWorkouts(ctx context.Context, ownerID, subjectID string, from, to time.Time) ([]*models.Workout, error) {
	rows, err := s.pool.Query(ctx, workoutSelect+`
        WHERE w.owner_id = $1
          AND w.workout_date >= $3 AND w.workout_date < $4
          AND EXISTS (SELECT 1 FROM workout_subjects x WHERE x.workout_id = w.id AND x.subject_id = $2)
        GROUP BY w.id
        ORDER BY w.workout_date, w.id`, ownerID, subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list subject workouts: %w", err)
	}
	return collectWorkouts(rows)
}

// UpdateWorkoutSchedule moves a workout to date and replaces its notes
func (s *Store) UpdateWorkoutSchedule(ctx context.Context, ownerID, workoutID string, date time.Time, notes string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workouts SET workout_date = $3, notes = $4 WHERE owner_id = $1 AND id = $2`,
		ownerID, workoutID, date, notes)
	if err != nil {
		return fmt.Errorf("failed to update workout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workout %s: %w", workoutID, syncerr.ErrNotFound)
	}
	return nil
}

// DeleteWorkout removes a workout. A missing workout is not an error.
func (s *Store) DeleteWorkout(ctx context.Context, ownerID, workoutID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM workouts WHERE owner_id = $1 AND id = $2`, ownerID, workoutID,
	); err != nil {
		return fmt.Errorf("failed to delete workout: %w", err)
	}
	return nil
}

func (s *Store) SetWorkoutExternalEvent(ctx context.Context, ownerID, workoutID, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE workouts SET external_event_id = $3 WHERE owner_id = $1 AND id = $2`,
		ownerID, workoutID, nullIfEmpty(eventID))
	if err != nil {
		return fmt.Errorf("failed to set workout event id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workout %s: %w", workoutID, syncerr.ErrNotFound)
	}
	return nil
}
