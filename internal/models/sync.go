package models

import (
	"fmt"
	"time"
)

// SyncDirection is the owner's directional sync policy
type SyncDirection string

const (
	DirectionToExternal    SyncDirection = "to_external"
	DirectionFromExternal  SyncDirection = "from_external"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// ParseSyncDirection validates a stored or user-supplied direction value
func ParseSyncDirection(value string) (SyncDirection, error) {
	switch d := SyncDirection(value); d {
	case DirectionToExternal, DirectionFromExternal, DirectionBidirectional:
		return d, nil
	default:
		return "", fmt.Errorf("unknown sync direction %q", value)
	}
}

// AllowsInbound reports whether external events may create or update workouts
func (d SyncDirection) AllowsInbound() bool {
	return d == DirectionFromExternal || d == DirectionBidirectional
}

// AllowsOutbound reports whether internal workouts are pushed to the calendar
func (d SyncDirection) AllowsOutbound() bool {
	return d == DirectionToExternal || d == DirectionBidirectional
}

// RecordDirection is the direction snapshot stored on a new Sync Record.
// Outward-only pairings are tracked on the workout, so this is never to_external.
func (d SyncDirection) RecordDirection() SyncDirection {
	if d == DirectionBidirectional {
		return DirectionBidirectional
	}
	return DirectionFromExternal
}

// SyncStatus is the outcome of the last sync attempt for a Sync Record
type SyncStatus string

const (
	SyncStatusSynced SyncStatus = "synced"
	SyncStatusFailed SyncStatus = "failed"
)

// Credential holds one owner's delegated calendar access and sync policy
type Credential struct {
	OwnerID           string        `json:"owner_id"`
	AccessToken       string        `json:"-"`
	RefreshToken      string        `json:"-"`
	TokenExpiresAt    time.Time     `json:"token_expires_at"`
	DefaultCalendarID string        `json:"default_calendar_id"`
	SyncDirection     SyncDirection `json:"sync_direction"`
	AutoSyncEnabled   bool          `json:"auto_sync_enabled"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// CalendarID returns the calendar to synchronise, defaulting to the primary calendar
func (c *Credential) CalendarID() string {
	if c.DefaultCalendarID == "" {
		return "primary"
	}
	return c.DefaultCalendarID
}

// SyncRecord pairs one external event with at most one internal workout.
// (ExternalEventID, ExternalCalendarID) is unique.
type SyncRecord struct {
	ID                 string        `json:"id"`
	OwnerID            string        `json:"owner_id"`
	SubjectID          string        `json:"subject_id"`
	WorkoutID          string        `json:"workout_id,omitempty"`
	ExternalEventID    string        `json:"external_event_id"`
	ExternalCalendarID string        `json:"external_calendar_id"`
	SyncDirection      SyncDirection `json:"sync_direction"`
	SyncStatus         SyncStatus    `json:"sync_status"`
	EventStartTime     time.Time     `json:"event_start_time"`
	EventEndTime       time.Time     `json:"event_end_time"`
	EventSummary       string        `json:"event_summary"`
	EventDescription   string        `json:"event_description"`
	LastSyncedAt       time.Time     `json:"last_synced_at"`
}

// IsUpcoming returns true if the paired event starts at or after the given time
func (r *SyncRecord) IsUpcoming(now time.Time) bool {
	return !r.EventStartTime.Before(now)
}

// ApplyEvent copies the cached event fields from a fetched event
func (r *SyncRecord) ApplyEvent(event *Event, now time.Time) {
	r.EventStartTime = event.StartTime
	r.EventEndTime = event.EndTime
	r.EventSummary = event.Summary
	r.EventDescription = event.Description
	r.SyncStatus = SyncStatusSynced
	r.LastSyncedAt = now
}

// Workout is the internal training session owned by the surrounding application
type Workout struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	WorkoutDate     time.Time `json:"workout_date"`
	WorkoutType     string    `json:"workout_type"`
	Notes           string    `json:"notes,omitempty"`
	IsCompleted     bool      `json:"is_completed"`
	IsPrepared      bool      `json:"is_prepared"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	SubjectIDs      []string  `json:"subject_ids"`
}

// PrimarySubjectID returns the first linked subject, or "" for unlinked workouts
func (w *Workout) PrimarySubjectID() string {
	if len(w.SubjectIDs) == 0 {
		return ""
	}
	return w.SubjectIDs[0]
}

// Subject is a trainee that can be paired with workouts
type Subject struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
}

// ClientStats is the derived per-subject read model used by reporting
type ClientStats struct {
	OwnerID         string    `json:"owner_id"`
	SubjectID       string    `json:"subject_id"`
	TotalEvents     int       `json:"total_events"`
	UpcomingEvents  int       `json:"upcoming_events"`
	CompletedEvents int       `json:"completed_events"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SyncReport summarises one reconciliation run for one owner
type SyncReport struct {
	OwnerID    string    `json:"owner_id"`
	CalendarID string    `json:"calendar_id"`
	Trigger    string    `json:"trigger"`
	WindowFrom time.Time `json:"window_from"`
	WindowTo   time.Time `json:"window_to"`
	Fetched    int       `json:"fetched"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Deleted    int       `json:"deleted"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}
