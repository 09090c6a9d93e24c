// Package title builds the event titles written to the calendar when a
// workout is pushed outward. A title carries the subject's session position
// within the calendar month, e.g. "Workout - Dana Levi 2/4".
package title

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/venkytv/calendar-sync/internal/models"
)

// sameSessionTolerance pairs a not-yet-stored session with an existing
// workout starting this close to it
const sameSessionTolerance = time.Hour

// Store is the read access the generator needs
type Store interface {
	// GetSubject returns nil, nil when the subject does not exist for the owner
	GetSubject(ctx context.Context, ownerID, subjectID string) (*models.Subject, error)
	// ListSubjectWorkouts returns the subject's workouts with from <= workout_date < to
	ListSubjectWorkouts(ctx context.Context, ownerID, subjectID string, from, to time.Time) ([]*models.Workout, error)
}

// Generator computes event titles
type Generator struct {
	store    Store
	prefix   string
	location *time.Location
	logger   *slog.Logger
}

// NewGenerator creates a Generator. Months are delimited in loc.
func NewGenerator(store Store, prefix string, loc *time.Location, logger *slog.Logger) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:    store,
		prefix:   prefix,
		location: loc,
		logger:   logger,
	}
}

// Title returns the title for a session of subjectID at the given time.
// workoutID may be empty for a session not stored yet. On failure the bare
// prefix is returned together with the error.
func (g *Generator) Title(ctx context.Context, ownerID, subjectID string, at time.Time, workoutID string) (string, error) {
	if subjectID == "" {
		return g.prefix, nil
	}

	subject, err := g.store.GetSubject(ctx, ownerID, subjectID)
	if err != nil {
		return g.prefix, fmt.Errorf("failed to load subject: %w", err)
	}
	if subject == nil {
		g.logger.Warn("Subject not found for title", "owner_id", ownerID, "subject_id", subjectID)
		return g.prefix, nil
	}

	from, to := MonthBounds(at, g.location)
	workouts, err := g.store.ListSubjectWorkouts(ctx, ownerID, subjectID, from, to)
	if err != nil {
		return Format(g.prefix, subject.FullName, 0, 0), fmt.Errorf("failed to list workouts: %w", err)
	}

	position, total := computePosition(workouts, workoutID, at)
	return Format(g.prefix, subject.FullName, position, total), nil
}

// MonthBounds returns the first instant of at's month and of the following month in loc
func MonthBounds(at time.Time, loc *time.Location) (time.Time, time.Time) {
	local := at.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// computePosition ranks a session among the month's workouts ordered by (date, id).
// A session not yet stored counts towards the total.
func computePosition(workouts []*models.Workout, workoutID string, at time.Time) (int, int) {
	sorted := make([]*models.Workout, len(workouts))
	copy(sorted, workouts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].WorkoutDate.Equal(sorted[j].WorkoutDate) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].WorkoutDate.Before(sorted[j].WorkoutDate)
	})

	if workoutID != "" {
		for i, w := range sorted {
			if w.ID == workoutID {
				return i + 1, len(sorted)
			}
		}
	} else {
		for i, w := range sorted {
			if absDuration(w.WorkoutDate.Sub(at)) <= sameSessionTolerance {
				return i + 1, len(sorted)
			}
		}
	}

	earlier := 0
	for _, w := range sorted {
		if w.WorkoutDate.Before(at) {
			earlier++
		}
	}
	return earlier + 1, len(sorted) + 1
}

// Format renders a title. A month with a single session shows only the position;
// a zero position omits the counter.
func Format(prefix, name string, position, total int) string {
	switch {
	case name == "":
		return prefix
	case position <= 0:
		return fmt.Sprintf("%s - %s", prefix, name)
	case total <= 1:
		return fmt.Sprintf("%s - %s %d", prefix, name, position)
	default:
		return fmt.Sprintf("%s - %s %d/%d", prefix, name, position, total)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
