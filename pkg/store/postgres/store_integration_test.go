//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("calendar_sync"),
		postgrescontainer.WithUsername("sync"),
		postgrescontainer.WithPassword("sync"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, connStr, 4, nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx))
	// Second run must be a no-op
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestStore_CredentialLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	missing, err := store.GetCredential(ctx, "owner-1")
	require.NoError(t, err)
	require.Nil(t, missing)

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, store.UpsertCredential(ctx, &models.Credential{
		OwnerID:           "owner-1",
		AccessToken:       "access",
		RefreshToken:      "refresh",
		TokenExpiresAt:    expiry,
		DefaultCalendarID: "trainer@example.com",
		SyncDirection:     models.DirectionBidirectional,
		AutoSyncEnabled:   true,
	}))

	newExpiry := expiry.Add(time.Hour)
	require.NoError(t, store.UpdateToken(ctx, "owner-1", "access-2", "", newExpiry))

	cred, err := store.GetCredential(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", cred.AccessToken)
	require.Equal(t, "refresh", cred.RefreshToken)
	require.True(t, cred.TokenExpiresAt.Equal(newExpiry))

	require.NoError(t, store.UpdateToken(ctx, "owner-1", "access-3", "refresh-rotated", newExpiry))
	cred, err = store.GetCredential(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, "refresh-rotated", cred.RefreshToken)

	byCal, err := store.FindCredentialByCalendar(ctx, "trainer@example.com")
	require.NoError(t, err)
	require.Equal(t, "owner-1", byCal.OwnerID)

	err = store.UpdateToken(ctx, "owner-unknown", "x", "", newExpiry)
	require.ErrorIs(t, err, syncerr.ErrNotConnected)

	enabled, err := store.ListAutoSyncCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
}

func TestStore_PairedWorkoutIsUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	subject := &models.Subject{OwnerID: "owner-1", FullName: "Dana Levi", Email: "dana@example.com"}
	require.NoError(t, store.UpsertSubject(ctx, subject))

	start := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	pair := func() error {
		workout := &models.Workout{
			ID:          uuid.NewString(),
			OwnerID:     "owner-1",
			WorkoutDate: start,
			WorkoutType: "personal",
			SubjectIDs:  []string{subject.ID},
		}
		record := &models.SyncRecord{
			ID:                 uuid.NewString(),
			OwnerID:            "owner-1",
			SubjectID:          subject.ID,
			WorkoutID:          workout.ID,
			ExternalEventID:    "evt-1",
			ExternalCalendarID: "trainer@example.com",
			SyncDirection:      models.DirectionBidirectional,
			SyncStatus:         models.SyncStatusSynced,
			EventStartTime:     start,
			EventEndTime:       start.Add(time.Hour),
			LastSyncedAt:       time.Now(),
		}
		return store.CreatePairedWorkout(ctx, workout, record)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- pair()
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		require.ErrorIs(t, err, syncerr.ErrConflictIgnored)
	}
	require.Equal(t, 1, created)

	workouts, err := store.ListWorkouts(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, workouts, 1)
	require.Equal(t, []string{subject.ID}, workouts[0].SubjectIDs)
	require.True(t, workouts[0].WorkoutDate.Equal(start))

	record, err := store.FindSyncRecord(ctx, "evt-1", "trainer@example.com")
	require.NoError(t, err)
	require.Equal(t, workouts[0].ID, record.WorkoutID)

	// Deleting the workout leaves the record unlinked
	require.NoError(t, store.DeleteWorkout(ctx, "owner-1", workouts[0].ID))
	record, err = store.FindSyncRecord(ctx, "evt-1", "trainer@example.com")
	require.NoError(t, err)
	require.Empty(t, record.WorkoutID)

	err = store.UpdateWorkoutSchedule(ctx, "owner-1", workouts[0].ID, start, "")
	require.ErrorIs(t, err, syncerr.ErrNotFound)
}

func TestStore_RecordQueriesAndStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"evt-a", "evt-b", "evt-c"} {
		require.NoError(t, store.InsertSyncRecord(ctx, &models.SyncRecord{
			OwnerID:            "owner-1",
			SubjectID:          "subject-1",
			ExternalEventID:    id,
			ExternalCalendarID: "cal",
			SyncDirection:      models.DirectionFromExternal,
			SyncStatus:         models.SyncStatusSynced,
			EventStartTime:     base.AddDate(0, 0, i*10),
			EventEndTime:       base.AddDate(0, 0, i*10).Add(time.Hour),
			LastSyncedAt:       base,
		}))
	}

	err := store.InsertSyncRecord(ctx, &models.SyncRecord{
		OwnerID:            "owner-1",
		ExternalEventID:    "evt-a",
		ExternalCalendarID: "cal",
		SyncDirection:      models.DirectionFromExternal,
		SyncStatus:         models.SyncStatusSynced,
		EventStartTime:     base,
		EventEndTime:       base,
		LastSyncedAt:       base,
	})
	require.ErrorIs(t, err, syncerr.ErrConflictIgnored)

	inWindow, err := store.ListSyncRecordsInWindow(ctx, "owner-1", "cal", base, base.AddDate(0, 0, 20))
	require.NoError(t, err)
	require.Len(t, inWindow, 2)
	require.Equal(t, "evt-a", inWindow[0].ExternalEventID)
	require.Empty(t, inWindow[0].WorkoutID)

	inWindow[0].SyncStatus = models.SyncStatusFailed
	require.NoError(t, store.UpdateSyncRecord(ctx, inWindow[0]))

	got, err := store.FindSyncRecord(ctx, "evt-a", "cal")
	require.NoError(t, err)
	require.Equal(t, models.SyncStatusFailed, got.SyncStatus)

	stats := []*models.ClientStats{{OwnerID: "owner-1", SubjectID: "subject-1", TotalEvents: 3, UpcomingEvents: 1, CompletedEvents: 2, UpdatedAt: base}}
	require.NoError(t, store.ReplaceClientStats(ctx, "owner-1", stats))
	require.NoError(t, store.ReplaceClientStats(ctx, "owner-1", stats))

	stored, err := store.ListClientStats(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, 3, stored[0].TotalEvents)
}
