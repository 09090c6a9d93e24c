package matcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/venkytv/calendar-sync/internal/models"
)

type mockSubjectStore struct {
	subjects  []*models.Subject
	emailErr  error
	listCalls int
}

func (m *mockSubjectStore) FindSubjectByEmail(ctx context.Context, ownerID, email string) (*models.Subject, error) {
	if m.emailErr != nil {
		return nil, m.emailErr
	}
	for _, s := range m.subjects {
		if s.OwnerID == ownerID && s.Email == email {
			return s, nil
		}
	}
	return nil, nil
}

func (m *mockSubjectStore) ListSubjects(ctx context.Context, ownerID string) ([]*models.Subject, error) {
	m.listCalls++
	var out []*models.Subject
	for _, s := range m.subjects {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func newTestMatcher(t *testing.T, subjects ...*models.Subject) (*Matcher, *mockSubjectStore) {
	t.Helper()
	store := &mockSubjectStore{subjects: subjects}
	m, err := New(store, Config{
		Prefixes:   []string{"Workout", "אימון"},
		Separators: []string{",", "&", "+", " and "},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, store
}

func subject(id, name, email string) *models.Subject {
	return &models.Subject{ID: id, OwnerID: "owner-1", FullName: name, Email: email}
}

func TestCandidateName(t *testing.T) {
	m, _ := newTestMatcher(t)

	tests := []struct {
		name     string
		event    *models.Event
		expected string
	}{
		{"template prefix", &models.Event{Summary: "Workout - Dana"}, "Dana"},
		{"en dash and case", &models.Event{Summary: "workout – Dana Levi"}, "Dana Levi"},
		{"hebrew prefix", &models.Event{Summary: "אימון - דנה כהן"}, "דנה כהן"},
		{"session counter", &models.Event{Summary: "Workout - Dana 2/4"}, "Dana"},
		{"single session counter", &models.Event{Summary: "אימון - דנה 3"}, "דנה"},
		{"no prefix", &models.Event{Summary: "  Dana Levi  "}, "Dana Levi"},
		{"prefix without name", &models.Event{Summary: "Workout"}, "Workout"},
		{
			name: "display name fallback",
			event: &models.Event{Attendees: []models.Attendee{
				{Email: "coach@example.com", DisplayName: "Coach", Organizer: true},
				{Email: "x@example.com", DisplayName: "Dana Levi"},
			}},
			expected: "Dana Levi",
		},
		{
			name: "email local part fallback",
			event: &models.Event{Attendees: []models.Attendee{
				{Email: "coach@example.com", Organizer: true},
				{Email: "dana.levi@example.com"},
			}},
			expected: "dana.levi",
		},
		{"nothing", &models.Event{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.CandidateName(tt.event); got != tt.expected {
				t.Errorf("CandidateName() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSplitNames(t *testing.T) {
	m, _ := newTestMatcher(t)

	tests := []struct {
		input    string
		expected []string
	}{
		{"Dana", []string{"Dana"}},
		{"Dana & Lee", []string{"Dana", "Lee"}},
		{"Dana, Lee + Noa", []string{"Dana", "Lee", "Noa"}},
		{"Dana AND Lee", []string{"Dana", "Lee"}},
		{"Dana,, Lee", []string{"Dana", "Lee"}},
		{"Alexandra", []string{"Alexandra"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := m.SplitNames(tt.input); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("SplitNames(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMatch_EmailTakesPrecedence(t *testing.T) {
	m, store := newTestMatcher(t,
		subject("s-dana", "Dana", "dana@example.com"),
		subject("s-lee", "Lee", "lee@example.com"),
	)

	event := &models.Event{
		ID:      "evt-1",
		Summary: "Workout - Dana",
		Attendees: []models.Attendee{
			{Email: "coach@example.com", Organizer: true},
			{Email: "lee@example.com"},
		},
	}

	result, err := m.Match(context.Background(), "owner-1", event)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if !reflect.DeepEqual(result.SubjectIDs, []string{"s-lee"}) {
		t.Errorf("Expected email match s-lee, got %v", result.SubjectIDs)
	}
	if result.Method != MethodEmail {
		t.Errorf("Expected email method, got %s", result.Method)
	}
	if store.listCalls != 0 {
		t.Error("Expected no name lookup after an email match")
	}
}

func TestMatch_EmailIsCaseSensitive(t *testing.T) {
	m, _ := newTestMatcher(t, subject("s-dana", "Dana", "Dana@Example.com"))

	event := &models.Event{
		Summary:   "Something else",
		Attendees: []models.Attendee{{Email: "dana@example.com"}},
	}

	ids, err := m.MatchSubjects(context.Background(), "owner-1", event)
	if err != nil {
		t.Fatalf("MatchSubjects() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no match for differently cased email, got %v", ids)
	}
}

func TestMatch_UnknownEmailFallsBackToName(t *testing.T) {
	m, _ := newTestMatcher(t, subject("s-dana", "Dana Levi", ""))

	event := &models.Event{
		Summary:   "Workout - dana levi",
		Attendees: []models.Attendee{{Email: "stranger@example.com"}},
	}

	result, err := m.Match(context.Background(), "owner-1", event)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if result.Primary() != "s-dana" || result.Method != MethodName {
		t.Errorf("Expected name match s-dana, got %v (%s)", result.SubjectIDs, result.Method)
	}
}

func TestMatch_Names(t *testing.T) {
	m, _ := newTestMatcher(t,
		subject("s-dana", "Dana Levi", ""),
		subject("s-dan", "Dan", ""),
		subject("s-lee", "Lee Cohen", ""),
		subject("s-noa1", "Noa Bar", ""),
		subject("s-noa2", "Noa Katz", ""),
		subject("s-yael", "יעל כהן", ""),
	)

	tests := []struct {
		name      string
		summary   string
		expected  []string
		ambiguous []string
	}{
		{"exact beats contains", "Workout - Dan", []string{"s-dan"}, nil},
		{"contains unique", "Workout - Levi", []string{"s-dana"}, nil},
		{"multi subject", "Workout - Dana Levi & Lee", []string{"s-dana", "s-lee"}, nil},
		{"ambiguous skipped", "Workout - Noa", nil, []string{"Noa"}},
		{"ambiguous part skipped others kept", "Workout - Noa, Lee", []string{"s-lee"}, []string{"Noa"}},
		{"duplicates removed", "Workout - Lee & lee cohen", []string{"s-lee"}, nil},
		{"hebrew", "אימון - יעל 2/8", []string{"s-yael"}, nil},
		{"no match", "Dentist", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := m.Match(context.Background(), "owner-1", &models.Event{ID: "evt", Summary: tt.summary})
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if !reflect.DeepEqual(result.SubjectIDs, tt.expected) {
				t.Errorf("SubjectIDs = %v, want %v", result.SubjectIDs, tt.expected)
			}
			if !reflect.DeepEqual(result.Ambiguous, tt.ambiguous) {
				t.Errorf("Ambiguous = %v, want %v", result.Ambiguous, tt.ambiguous)
			}
		})
	}
}

func TestMatch_ScopedToOwner(t *testing.T) {
	other := &models.Subject{ID: "s-other", OwnerID: "owner-2", FullName: "Dana", Email: "dana@example.com"}
	m, _ := newTestMatcher(t, other)

	event := &models.Event{Summary: "Workout - Dana", Attendees: []models.Attendee{{Email: "dana@example.com"}}}
	ids, err := m.MatchSubjects(context.Background(), "owner-1", event)
	if err != nil {
		t.Fatalf("MatchSubjects() error = %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected another owner's subject to be invisible, got %v", ids)
	}
}

func TestMatch_StoreError(t *testing.T) {
	m, store := newTestMatcher(t)
	store.emailErr = errors.New("connection refused")

	_, err := m.Match(context.Background(), "owner-1", &models.Event{Attendees: []models.Attendee{{Email: "a@b.c"}}})
	if err == nil {
		t.Error("Expected store error to be returned")
	}
}

func TestNormalizeName(t *testing.T) {
	// "é" precomposed vs e + combining acute
	if normalizeName("Ren\u00e9") != normalizeName("Rene\u0301") {
		t.Error("Expected composed and decomposed forms to normalise equally")
	}
	if normalizeName("  DANA   Levi ") != "dana levi" {
		t.Errorf("Unexpected normalisation %q", normalizeName("  DANA   Levi "))
	}
}
