package models

import (
	"time"
)

// Event status values reported by the calendar provider
const (
	EventStatusConfirmed = "confirmed"
	EventStatusTentative = "tentative"
	EventStatusCancelled = "cancelled"
)

// Event represents a calendar event as fetched from the external provider
type Event struct {
	ID          string     `json:"id"`
	CalendarID  string     `json:"calendar_id"`
	Status      string     `json:"status"`
	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     time.Time  `json:"end_time"`
	AllDay      bool       `json:"all_day,omitempty"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Unparsed marks an event the provider returned whose payload failed
	// validation. Only ID and CalendarID are set; the event must not change state.
	Unparsed bool `json:"unparsed,omitempty"`
}

// Attendee is a single invitee of an event
type Attendee struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Organizer   bool   `json:"organizer,omitempty"`
	Self        bool   `json:"self,omitempty"`
	Resource    bool   `json:"resource,omitempty"`
}

// EventInput carries the fields written to the provider when pushing a workout outward.
// ID is optional and only honoured on insert.
type EventInput struct {
	ID          string    `json:"id,omitempty"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	TimeZone    string    `json:"time_zone,omitempty"`
}

// IsCancelled returns true if the provider reports the event as cancelled or deleted
func (e *Event) IsCancelled() bool {
	return e.Status == EventStatusCancelled
}

// Guest returns the first attendee that is neither the organizer nor a room resource
func (e *Event) Guest() (Attendee, bool) {
	for _, a := range e.Attendees {
		if a.Organizer || a.Resource {
			continue
		}
		return a, true
	}
	return Attendee{}, false
}

// GuestEmail returns the email of the first non-organizer attendee, if any
func (e *Event) GuestEmail() string {
	guest, ok := e.Guest()
	if !ok {
		return ""
	}
	return guest.Email
}
