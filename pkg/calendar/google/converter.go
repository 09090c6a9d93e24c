package google

import (
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/venkytv/calendar-sync/internal/models"
)

const dateLayout = "2006-01-02"

// convertEvent converts a validated Google Calendar event to our internal Event model.
// Cancelled events may omit their times; live events may not.
func convertEvent(item *calendar.Event, calendarID string) (*models.Event, error) {
	event := &models.Event{
		ID:          item.Id,
		CalendarID:  calendarID,
		Status:      item.Status,
		Summary:     item.Summary,
		Description: item.Description,
	}

	if item.Start != nil || !event.IsCancelled() {
		startTime, err := parseEventTime(item.Start)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start time: %w", err)
		}
		event.StartTime = startTime
		event.AllDay = item.Start.DateTime == ""
	}

	if item.End != nil || !event.IsCancelled() {
		endTime, err := parseEventTime(item.End)
		if err != nil {
			return nil, fmt.Errorf("failed to parse end time: %w", err)
		}
		event.EndTime = endTime
	}

	if !event.EndTime.IsZero() && event.EndTime.Before(event.StartTime) {
		return nil, fmt.Errorf("event ends before it starts")
	}

	if item.Updated != "" {
		updated, err := time.Parse(time.RFC3339, item.Updated)
		if err != nil {
			return nil, fmt.Errorf("failed to parse updated time: %w", err)
		}
		event.UpdatedAt = updated
	}

	for _, attendee := range item.Attendees {
		if attendee == nil {
			continue
		}
		event.Attendees = append(event.Attendees, models.Attendee{
			Email:       attendee.Email,
			DisplayName: attendee.DisplayName,
			Organizer:   attendee.Organizer,
			Self:        attendee.Self,
			Resource:    attendee.Resource,
		})
	}

	return event, nil
}

// parseEventTime parses Google Calendar event time (handles both dateTime and date fields)
func parseEventTime(eventTime *calendar.EventDateTime) (time.Time, error) {
	if eventTime == nil {
		return time.Time{}, fmt.Errorf("event time is nil")
	}

	// Try DateTime first (for events with specific times)
	if eventTime.DateTime != "" {
		t, err := time.Parse(time.RFC3339, eventTime.DateTime)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse datetime: %w", err)
		}
		return t, nil
	}

	// Fall back to Date (for all-day events)
	if eventTime.Date != "" {
		t, err := time.Parse(dateLayout, eventTime.Date)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse date: %w", err)
		}

		if eventTime.TimeZone != "" {
			loc, err := time.LoadLocation(eventTime.TimeZone)
			if err == nil {
				t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
			}
		}

		return t, nil
	}

	return time.Time{}, fmt.Errorf("no datetime or date field found")
}

// toEventDateTime renders an instant for the provider, pinned to tz when given
func toEventDateTime(t time.Time, tz string) *calendar.EventDateTime {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			t = t.In(loc)
		}
	}
	return &calendar.EventDateTime{
		DateTime: t.Format(time.RFC3339),
		TimeZone: tz,
	}
}

// toGoogleEvent converts an outbound event input into a provider payload
func toGoogleEvent(input *models.EventInput) *calendar.Event {
	return &calendar.Event{
		Id:          input.ID,
		Summary:     input.Summary,
		Description: input.Description,
		Start:       toEventDateTime(input.StartTime, input.TimeZone),
		End:         toEventDateTime(input.EndTime, input.TimeZone),
	}
}
