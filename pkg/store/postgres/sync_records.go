package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const recordColumns = `id, owner_id, subject_id, workout_id, external_event_id, external_calendar_id,
    sync_direction, sync_status, event_start_time, event_end_time, event_summary,
    event_description, last_synced_at`

func scanRecord(row pgx.Row) (*models.SyncRecord, error) {
	var r models.SyncRecord
	var subjectID, workoutID *string
	var direction, status string
	if err := row.Scan(&r.ID, &r.OwnerID, &subjectID, &workoutID, &r.ExternalEventID,
		&r.ExternalCalendarID, &direction, &status, &r.EventStartTime, &r.EventEndTime,
		&r.EventSummary, &r.EventDescription, &r.LastSyncedAt); err != nil {
		return nil, err
	}
	r.SubjectID = deref(subjectID)
	r.WorkoutID = deref(workoutID)
	r.SyncDirection = models.SyncDirection(direction)
	r.SyncStatus = models.SyncStatus(status)
	return &r, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*models.SyncRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.SyncRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// insertSyncRecord reports false when the event is already paired
func insertSyncRecord(ctx context.Context, db execer, record *models.SyncRecord) (bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	tag, err := db.Exec(ctx, `INSERT INTO sync_records (`+recordColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (external_event_id, external_calendar_id) DO NOTHING`,
		record.ID,
		record.OwnerID,
		nullIfEmpty(record.SubjectID),
		nullIfEmpty(record.WorkoutID),
		record.ExternalEventID,
		record.ExternalCalendarID,
		string(record.SyncDirection),
		string(record.SyncStatus),
		record.EventStartTime,
		record.EventEndTime,
		record.EventSummary,
		record.EventDescription,
		record.LastSyncedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert sync record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindSyncRecord looks a pairing up by its natural key. Returns nil, nil when absent.
func (s *Store) FindSyncRecord(ctx context.Context, eventID, calendarID string) (*models.SyncRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM sync_records
        WHERE external_event_id = $1 AND external_calendar_id = $2`, eventID, calendarID)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sync record: %w", err)
	}
	return r, nil
}

func (s *Store) FindSyncRecordByWorkout(ctx context.Context, ownerID, workoutID string) (*models.SyncRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM sync_records
        WHERE owner_id = $1 AND workout_id = $2
        ORDER BY event_start_time, external_event_id LIMIT 1`, ownerID, workoutID)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find sync record by workout: %w", err)
	}
	return r, nil
}

func (s *Store) InsertSyncRecord(ctx context.Context, record *models.SyncRecord) error {
	inserted, err := insertSyncRecord(ctx, s.pool, record)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("event %s: %w", record.ExternalEventID, syncerr.ErrConflictIgnored)
	}
	return nil
}

func (s *Store) UpdateSyncRecord(ctx context.Context, record *models.SyncRecord) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sync_records SET
            subject_id = $2,
            workout_id = $3,
            sync_direction = $4,
            sync_status = $5,
            event_start_time = $6,
            event_end_time = $7,
            event_summary = $8,
            event_description = $9,
            last_synced_at = $10
        WHERE id = $1`,
		record.ID,
		nullIfEmpty(record.SubjectID),
		nullIfEmpty(record.WorkoutID),
		string(record.SyncDirection),
		string(record.SyncStatus),
		record.EventStartTime,
		record.EventEndTime,
		record.EventSummary,
		record.EventDescription,
		record.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync record %s: %w", record.ID, syncerr.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteSyncRecord(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sync_records WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete sync record: %w", err)
	}
	return nil
}

func (s *Store) ListSyncRecordsInWindow(ctx context.Context, ownerID, calendarID string, from, to time.Time) ([]*models.SyncRecord, error) {
	records, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM sync_records
        WHERE owner_id = $1 AND external_calendar_id = $2
          AND event_start_time >= $3 AND event_start_time < $4
        ORDER BY event_start_time, external_event_id`, ownerID, calendarID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records in window: %w", err)
	}
	return records, nil
}

func (s *Store) ListSubjectSyncRecords(ctx context.Context, ownerID, subjectID string, from, to time.Time) ([]*models.SyncRecord, error) {
	records, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM sync_records
        WHERE owner_id = $1 AND subject_id = $2
          AND event_start_time >= $3 AND event_start_time < $4
        ORDER BY event_start_time, external_event_id`, ownerID, subjectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list subject sync records: %w", err)
	}
	return records, nil
}

func (s *Store) ListOwnerSyncRecords(ctx context.Context, ownerID string) ([]*models.SyncRecord, error) {
	records, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM sync_records
        WHERE owner_id = $1
        ORDER BY event_start_time, external_event_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owner sync records: %w", err)
	}
	return records, nil
}

// ReplaceClientStats swaps the owner's statistics rows in one transaction
func (s *Store) ReplaceClientStats(ctx context.Context, ownerID string, stats []*models.ClientStats) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM client_stats WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("failed to clear client stats: %w", err)
	}

	batch := &pgx.Batch{}
	for _, st := range stats {
		batch.Queue(`INSERT INTO client_stats (owner_id, subject_id, total_events, upcoming_events,
                completed_events, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			ownerID, st.SubjectID, st.TotalEvents, st.UpcomingEvents, st.CompletedEvents, st.UpdatedAt)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert client stats: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) ListClientStats(ctx context.Context, ownerID string) ([]*models.ClientStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT owner_id, subject_id, total_events, upcoming_events,
            completed_events, updated_at
        FROM client_stats WHERE owner_id = $1 ORDER BY subject_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list client stats: %w", err)
	}
	defer rows.Close()

	var out []*models.ClientStats
	for rows.Next() {
		var st models.ClientStats
		if err := rows.Scan(&st.OwnerID, &st.SubjectID, &st.TotalEvents, &st.UpcomingEvents,
			&st.CompletedEvents, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client stats: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
