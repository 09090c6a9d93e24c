// Package memory is an in-process implementation of the sync engine's
// persistence, with the same uniqueness guarantees as the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

type recordKey struct {
	eventID    string
	calendarID string
}

// Store keeps all state in maps guarded by one mutex
type Store struct {
	mu          sync.RWMutex
	credentials map[string]*models.Credential
	subjects    map[string]*models.Subject
	workouts    map[string]*models.Workout
	records     map[string]*models.SyncRecord
	byEvent     map[recordKey]string
	stats       map[string][]*models.ClientStats
}

// New creates an empty Store
func New() *Store {
	return &Store{
		credentials: make(map[string]*models.Credential),
		subjects:    make(map[string]*models.Subject),
		workouts:    make(map[string]*models.Workout),
		records:     make(map[string]*models.SyncRecord),
		byEvent:     make(map[recordKey]string),
		stats:       make(map[string][]*models.ClientStats),
	}
}

func copyCredential(c *models.Credential) *models.Credential {
	out := *c
	return &out
}

func copyWorkout(w *models.Workout) *models.Workout {
	out := *w
	out.SubjectIDs = append([]string(nil), w.SubjectIDs...)
	return &out
}

func copyRecord(r *models.SyncRecord) *models.SyncRecord {
	out := *r
	return &out
}

// Credentials

func (s *Store) UpsertCredential(ctx context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copyCredential(cred)
	c.UpdatedAt = time.Now()
	s.credentials[cred.OwnerID] = c
	return nil
}

func (s *Store) GetCredential(ctx context.Context, ownerID string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[ownerID]
	if !ok {
		return nil, nil
	}
	return copyCredential(c), nil
}

func (s *Store) UpdateToken(ctx context.Context, ownerID, accessToken, refreshToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[ownerID]
	if !ok {
		return fmt.Errorf("credential for %s: %w", ownerID, syncerr.ErrNotConnected)
	}
	c.AccessToken = accessToken
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	c.TokenExpiresAt = expiresAt
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, ownerID)
	return nil
}

func (s *Store) FindCredentialByCalendar(ctx context.Context, calendarID string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owners []string
	for ownerID, c := range s.credentials {
		if c.DefaultCalendarID == calendarID {
			owners = append(owners, ownerID)
		}
	}
	if len(owners) == 0 {
		return nil, nil
	}
	sort.Strings(owners)
	return copyCredential(s.credentials[owners[0]]), nil
}

func (s *Store) ListAutoSyncCredentials(ctx context.Context) ([]*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Credential
	for _, c := range s.credentials {
		if c.AutoSyncEnabled {
			out = append(out, copyCredential(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

// Subjects

func (s *Store) UpsertSubject(ctx context.Context, subject *models.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	out := *subject
	s.subjects[subject.ID] = &out
	return nil
}

func (s *Store) GetSubject(ctx context.Context, ownerID, subjectID string) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[subjectID]
	if !ok || subject.OwnerID != ownerID {
		return nil, nil
	}
	out := *subject
	return &out, nil
}

func (s *Store) FindSubjectByEmail(ctx context.Context, ownerID, email string) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, subject := range s.sortedSubjects(ownerID) {
		if subject.Email != "" && subject.Email == email {
			out := *subject
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) ListSubjects(ctx context.Context, ownerID string) ([]*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Subject
	for _, subject := range s.sortedSubjects(ownerID) {
		c := *subject
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) sortedSubjects(ownerID string) []*models.Subject {
	var out []*models.Subject
	for _, subject := range s.subjects {
		if subject.OwnerID == ownerID {
			out = append(out, subject)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Workouts

func (s *Store) CreateWorkout(ctx context.Context, workout *models.Workout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if workout.ID == "" {
		workout.ID = uuid.NewString()
	}
	s.workouts[workout.ID] = copyWorkout(workout)
	return nil
}

func (s *Store) GetWorkout(ctx context.Context, ownerID, workoutID string) (*models.Workout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workouts[workoutID]
	if !ok || w.OwnerID != ownerID {
		return nil, nil
	}
	return copyWorkout(w), nil
}

func (s *Store) FindWorkoutByExternalEvent(ctx context.Context, ownerID, eventID string) (*models.Workout, error) {
	all, _ := s.ListWorkouts(ctx, ownerID)
	for _, w := range all {
		if eventID != "" && w.ExternalEventID == eventID {
			return w, nil
		}
	}
	return nil, nil
}

func (s *Store) ListWorkouts(ctx context.Context, ownerID string) ([]*models.Workout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Workout
	for _, w := range s.workouts {
		if w.OwnerID == ownerID {
			out = append(out, copyWorkout(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkoutDate.Equal(out[j].WorkoutDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].WorkoutDate.Before(out[j].WorkoutDate)
	})
	return out, nil
}

func (s *Store) ListSubjectWorkouts(ctx context.Context, ownerID, subjectID string, from, to time.Time) ([]*models.Workout, error) {
	all, _ := s.ListWorkouts(ctx, ownerID)
	var out []*models.Workout
	for _, w := range all {
		if w.WorkoutDate.Before(from) || !w.WorkoutDate.Before(to) {
			continue
		}
		for _, id := range w.SubjectIDs {
			if id == subjectID {
				out = append(out, w)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) UpdateWorkoutSchedule(ctx context.Context, ownerID, workoutID string, date time.Time, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workouts[workoutID]
	if !ok || w.OwnerID != ownerID {
		return fmt.Errorf("workout %s: %w", workoutID, syncerr.ErrNotFound)
	}
	w.WorkoutDate = date
	w.Notes = notes
	return nil
}

// DeleteWorkout also clears the workout from any Sync Record, like ON DELETE SET NULL
func (s *Store) DeleteWorkout(ctx context.Context, ownerID, workoutID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workouts[workoutID]
	if !ok || w.OwnerID != ownerID {
		return nil
	}
	delete(s.workouts, workoutID)
	for _, r := range s.records {
		if r.WorkoutID == workoutID {
			r.WorkoutID = ""
		}
	}
	return nil
}

func (s *Store) SetWorkoutExternalEvent(ctx context.Context, ownerID, workoutID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workouts[workoutID]
	if !ok || w.OwnerID != ownerID {
		return fmt.Errorf("workout %s: %w", workoutID, syncerr.ErrNotFound)
	}
	w.ExternalEventID = eventID
	return nil
}

// Sync Records

func (s *Store) FindSyncRecord(ctx context.Context, eventID, calendarID string) (*models.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEvent[recordKey{eventID, calendarID}]
	if !ok {
		return nil, nil
	}
	return copyRecord(s.records[id]), nil
}

func (s *Store) FindSyncRecordByWorkout(ctx context.Context, ownerID, workoutID string) (*models.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.sortedRecords(ownerID) {
		if r.WorkoutID == workoutID {
			return copyRecord(r), nil
		}
	}
	return nil, nil
}

func (s *Store) InsertSyncRecord(ctx context.Context, record *models.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRecordLocked(record)
}

func (s *Store) insertRecordLocked(record *models.SyncRecord) error {
	key := recordKey{record.ExternalEventID, record.ExternalCalendarID}
	if _, exists := s.byEvent[key]; exists {
		return fmt.Errorf("event %s: %w", record.ExternalEventID, syncerr.ErrConflictIgnored)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	s.records[record.ID] = copyRecord(record)
	s.byEvent[key] = record.ID
	return nil
}

func (s *Store) UpdateSyncRecord(ctx context.Context, record *models.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; !ok {
		return fmt.Errorf("sync record %s: %w", record.ID, syncerr.ErrNotFound)
	}
	s.records[record.ID] = copyRecord(record)
	return nil
}

func (s *Store) DeleteSyncRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil
	}
	delete(s.byEvent, recordKey{r.ExternalEventID, r.ExternalCalendarID})
	delete(s.records, id)
	return nil
}

func (s *Store) ListSyncRecordsInWindow(ctx context.Context, ownerID, calendarID string, from, to time.Time) ([]*models.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SyncRecord
	for _, r := range s.sortedRecords(ownerID) {
		if r.ExternalCalendarID != calendarID || r.EventStartTime.Before(from) || !r.EventStartTime.Before(to) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	return out, nil
}

func (s *Store) ListSubjectSyncRecords(ctx context.Context, ownerID, subjectID string, from, to time.Time) ([]*models.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SyncRecord
	for _, r := range s.sortedRecords(ownerID) {
		if r.SubjectID != subjectID || r.EventStartTime.Before(from) || !r.EventStartTime.Before(to) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	return out, nil
}

func (s *Store) ListOwnerSyncRecords(ctx context.Context, ownerID string) ([]*models.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SyncRecord
	for _, r := range s.sortedRecords(ownerID) {
		out = append(out, copyRecord(r))
	}
	return out, nil
}

func (s *Store) sortedRecords(ownerID string) []*models.SyncRecord {
	var out []*models.SyncRecord
	for _, r := range s.records {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventStartTime.Equal(out[j].EventStartTime) {
			return out[i].ExternalEventID < out[j].ExternalEventID
		}
		return out[i].EventStartTime.Before(out[j].EventStartTime)
	})
	return out
}

// CreatePairedWorkout writes the workout and its record under one lock, so a
// losing concurrent caller leaves no orphan workout behind
func (s *Store) CreatePairedWorkout(ctx context.Context, workout *models.Workout, record *models.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertRecordLocked(record); err != nil {
		return err
	}
	if workout.ID == "" {
		workout.ID = uuid.NewString()
		s.records[record.ID].WorkoutID = workout.ID
	}
	s.workouts[workout.ID] = copyWorkout(workout)
	return nil
}

// Client stats

func (s *Store) ReplaceClientStats(ctx context.Context, ownerID string, stats []*models.ClientStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ClientStats, len(stats))
	for i, st := range stats {
		c := *st
		out[i] = &c
	}
	s.stats[ownerID] = out
	return nil
}

func (s *Store) ListClientStats(ctx context.Context, ownerID string) ([]*models.ClientStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ClientStats, len(s.stats[ownerID]))
	for i, st := range s.stats[ownerID] {
		c := *st
		out[i] = &c
	}
	return out, nil
}

// Counts returns the number of workouts and sync records, for tests and diagnostics
func (s *Store) Counts() (workouts, records int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workouts), len(s.records)
}
