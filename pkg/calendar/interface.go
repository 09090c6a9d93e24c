package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/venkytv/calendar-sync/internal/models"
)

// ErrEventExists is returned by InsertEvent when the requested event id is already taken
var ErrEventExists = errors.New("calendar event already exists")

// Client is one owner's authenticated view of the external calendar service
type Client interface {
	// ListEvents returns every event overlapping [from, to), including cancelled ones.
	// Recurring events are expanded into single instances.
	ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]*models.Event, error)

	// InsertEvent creates an event and returns the provider's event id
	InsertEvent(ctx context.Context, calendarID string, input *models.EventInput) (string, error)

	// UpdateEvent overwrites the title, description and times of an existing event
	UpdateEvent(ctx context.Context, calendarID, eventID string, input *models.EventInput) error

	// PatchSummary rewrites only the title of an existing event
	PatchSummary(ctx context.Context, calendarID, eventID, summary string) error

	// ListCalendars returns the calendars visible to the owner
	ListCalendars(ctx context.Context) ([]*Calendar, error)
}

// ClientFactory builds a Client bound to one owner's access token
type ClientFactory interface {
	ForOwner(ctx context.Context, ownerID, accessToken string) (Client, error)
}
