package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/venkytv/calendar-sync/internal/models"
	calendarPkg "github.com/venkytv/calendar-sync/pkg/calendar"
	"github.com/venkytv/calendar-sync/pkg/retry"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

func newTestClient(t *testing.T, handler http.Handler) calendarPkg.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	retryer := retry.NewRetryer(&retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}, logger)

	factory, err := NewClientFactory(calendarPkg.NewLimiters(0, 1), retryer, logger,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClientFactory() error = %v", err)
	}

	client, err := factory.ForOwner(context.Background(), "owner-1", "access-token")
	if err != nil {
		t.Fatalf("ForOwner() error = %v", err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func apiError(code int, reason string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	}
}

func TestClient_ListEvents_Paginates(t *testing.T) {
	var pages int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("singleEvents") != "true" || q.Get("showDeleted") != "true" {
			t.Errorf("Expected singleEvents and showDeleted, got %s", r.URL.RawQuery)
		}
		if q.Get("timeMin") == "" || q.Get("timeMax") == "" {
			t.Errorf("Expected a bounded window, got %s", r.URL.RawQuery)
		}

		atomic.AddInt32(&pages, 1)
		if q.Get("pageToken") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"items": []map[string]interface{}{
					{
						"id": "evt-1", "status": "confirmed", "summary": "Workout - Dana",
						"start": map[string]string{"dateTime": "2024-06-15T09:00:00Z"},
						"end":   map[string]string{"dateTime": "2024-06-15T10:00:00Z"},
					},
					{
						// fails validation: live event without times
						"id": "evt-bad", "status": "confirmed",
					},
				},
				"nextPageToken": "page-2",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "evt-2", "status": "cancelled"},
			},
		})
	}))

	from := time.Date(2024, 5, 16, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)
	events, err := client.ListEvents(context.Background(), "primary", from, to)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}

	if atomic.LoadInt32(&pages) != 2 {
		t.Errorf("Expected 2 page requests, got %d", pages)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[0].ID != "evt-1" || events[1].ID != "evt-bad" || events[2].ID != "evt-2" {
		t.Errorf("Unexpected events: %s, %s, %s", events[0].ID, events[1].ID, events[2].ID)
	}
	if events[0].Unparsed || !events[1].Unparsed {
		t.Error("Expected only the invalid payload to be marked unparsed")
	}
	if !events[2].IsCancelled() {
		t.Error("Expected last event to be cancelled")
	}
}

func TestClient_ListEvents_MalformedPayloadStaysPresent(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": []map[string]interface{}{
				{
					"id": "evt-1", "status": "confirmed", "summary": "Workout - Dana",
					"start": map[string]string{"dateTime": "2024-06-15 09:00"},
					"end":   map[string]string{"dateTime": "2024-06-15 10:00"},
				},
				{
					// no id: nothing to keep a pairing for
					"status": "confirmed",
				},
			},
		})
	}))

	events, err := client.ListEvents(context.Background(), "primary", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected one placeholder event, got %d", len(events))
	}
	got := events[0]
	if got.ID != "evt-1" || got.CalendarID != "primary" || !got.Unparsed {
		t.Errorf("Expected unparsed placeholder for evt-1, got %+v", got)
	}
	if got.IsCancelled() || !got.StartTime.IsZero() {
		t.Errorf("Expected placeholder to carry no event data, got %+v", got)
	}
}

func TestClient_ListEvents_RetriesTransient(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, apiError(503, "backendError"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []interface{}{}})
	}))

	_, err := client.ListEvents(context.Background(), "primary", time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected one retry, got %d calls", calls)
	}
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reason string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, "authError", syncerr.ErrReauthRequired},
		{"server error", http.StatusInternalServerError, "backendError", syncerr.ErrTransient},
		{"rate limited", http.StatusForbidden, "rateLimitExceeded", syncerr.ErrTransient},
		{"gone", http.StatusNotFound, "notFound", syncerr.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, apiError(tt.status, tt.reason))
			}))

			err := client.PatchSummary(context.Background(), "primary", "evt-1", "Workout - Dana 1")
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestClient_InsertEvent(t *testing.T) {
	var received map[string]interface{}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": received["id"], "status": "confirmed"})
	}))

	id, err := client.InsertEvent(context.Background(), "primary", &models.EventInput{
		ID:        "0123456789abcdef0123456789abcdef",
		Summary:   "Workout - Dana 1",
		StartTime: time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("InsertEvent() error = %v", err)
	}
	if id != "0123456789abcdef0123456789abcdef" {
		t.Errorf("Expected requested id to be returned, got %q", id)
	}
	if received["summary"] != "Workout - Dana 1" {
		t.Errorf("Expected summary in request body, got %v", received["summary"])
	}
}

func TestClient_InsertEvent_Conflict(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, apiError(409, "duplicate"))
	}))

	_, err := client.InsertEvent(context.Background(), "primary", &models.EventInput{
		ID:        "dup",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
	})
	if !errors.Is(err, calendarPkg.ErrEventExists) {
		t.Errorf("Expected ErrEventExists, got %v", err)
	}
}

func TestClient_UpdateEvent_UsesPatch(t *testing.T) {
	var method, path string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "evt-1", "status": "confirmed"})
	}))

	err := client.UpdateEvent(context.Background(), "primary", "evt-1", &models.EventInput{
		Summary:   "Workout - Dana 2",
		StartTime: time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("UpdateEvent() error = %v", err)
	}
	if method != http.MethodPatch {
		t.Errorf("Expected PATCH, got %s", method)
	}
	if !strings.HasSuffix(path, "/calendars/primary/events/evt-1") {
		t.Errorf("Unexpected path %s", path)
	}
}

func TestClient_ListCalendars(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/me/calendarList") {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "holidays@group.v.calendar.google.com", "summary": "Holidays"},
				{"id": "coach@example.com", "summary": "Coach", "primary": true, "timeZone": "Asia/Jerusalem"},
			},
		})
	}))

	calendars, err := client.ListCalendars(context.Background())
	if err != nil {
		t.Fatalf("ListCalendars() error = %v", err)
	}
	if len(calendars) != 2 {
		t.Fatalf("Expected 2 calendars, got %d", len(calendars))
	}
	if got := calendarPkg.PrimaryCalendarID(calendars); got != "coach@example.com" {
		t.Errorf("Expected primary calendar coach@example.com, got %q", got)
	}
}
