// Package matcher resolves external calendar events to the subjects (trainees)
// they are about.
//
// Resolution is strictly ordered: an attendee email that matches a subject is
// authoritative; otherwise names are read from the event title, split on
// conjunctions, and looked up exact-first then by substring. A name fragment
// matching more than one subject is skipped, never guessed.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

// SubjectStore is the read-only view of subjects the matcher needs
type SubjectStore interface {
	// FindSubjectByEmail returns nil, nil when no subject has exactly this email
	FindSubjectByEmail(ctx context.Context, ownerID, email string) (*models.Subject, error)
	ListSubjects(ctx context.Context, ownerID string) ([]*models.Subject, error)
}

// Method records how a match was made
type Method string

const (
	MethodNone  Method = "none"
	MethodEmail Method = "email"
	MethodName  Method = "name"
)

// Result is the outcome of matching one event
type Result struct {
	SubjectIDs []string
	Method     Method
	// Ambiguous lists the name fragments skipped because several subjects matched
	Ambiguous []string
}

// Primary returns the first resolved subject, or ""
func (r *Result) Primary() string {
	if len(r.SubjectIDs) == 0 {
		return ""
	}
	return r.SubjectIDs[0]
}

// Config controls title parsing
type Config struct {
	Prefixes   []string
	Separators []string
}

// Matcher implements the email-first, name-second subject resolution
type Matcher struct {
	store    SubjectStore
	prefixRe *regexp.Regexp
	splitRe  *regexp.Regexp
	logger   *slog.Logger
}

// Trailing session counter written by the title generator, e.g. "3" or "2/4"
var sessionSuffixRe = regexp.MustCompile(`\s+\d+(?:\s*/\s*\d+)?\s*$`)

var spaceRe = regexp.MustCompile(`\s+`)

// New creates a Matcher
func New(store SubjectStore, cfg Config, logger *slog.Logger) (*Matcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Matcher{store: store, logger: logger}

	if len(cfg.Prefixes) > 0 {
		quoted := make([]string, 0, len(cfg.Prefixes))
		for _, p := range cfg.Prefixes {
			quoted = append(quoted, regexp.QuoteMeta(strings.TrimSpace(p)))
		}
		re, err := regexp.Compile(`(?is)^\s*(?:` + strings.Join(quoted, "|") + `)\s*[-–—]\s*(.+)$`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile name prefixes: %w", err)
		}
		m.prefixRe = re
	}

	if len(cfg.Separators) > 0 {
		quoted := make([]string, 0, len(cfg.Separators))
		for _, s := range cfg.Separators {
			quoted = append(quoted, regexp.QuoteMeta(s))
		}
		re, err := regexp.Compile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile name separators: %w", err)
		}
		m.splitRe = re
	}

	return m, nil
}

// MatchSubjects returns the resolved subject ids in encounter order
func (m *Matcher) MatchSubjects(ctx context.Context, ownerID string, event *models.Event) ([]string, error) {
	result, err := m.Match(ctx, ownerID, event)
	if err != nil {
		return nil, err
	}
	return result.SubjectIDs, nil
}

// Match resolves an event to subjects and reports how
func (m *Matcher) Match(ctx context.Context, ownerID string, event *models.Event) (*Result, error) {
	result := &Result{Method: MethodNone}

	if email := event.GuestEmail(); email != "" {
		subject, err := m.store.FindSubjectByEmail(ctx, ownerID, email)
		if err != nil {
			return nil, fmt.Errorf("failed to look up subject by email: %w", err)
		}
		if subject != nil {
			m.logger.Debug("Matched subject by email",
				"owner_id", ownerID,
				"event_id", event.ID,
				"subject_id", subject.ID)
			result.SubjectIDs = []string{subject.ID}
			result.Method = MethodEmail
			return result, nil
		}
	}

	candidate := m.CandidateName(event)
	if candidate == "" {
		return result, nil
	}

	subjects, err := m.store.ListSubjects(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	if len(subjects) == 0 {
		return result, nil
	}

	folded := make([]string, len(subjects))
	for i, s := range subjects {
		folded[i] = normalizeName(s.FullName)
	}

	seen := make(map[string]bool)
	for _, part := range m.SplitNames(candidate) {
		id, err := resolvePart(normalizeName(part), subjects, folded)
		if err != nil {
			m.logger.Warn("Skipping ambiguous name",
				"owner_id", ownerID,
				"event_id", event.ID,
				"name", part,
				"error", err)
			result.Ambiguous = append(result.Ambiguous, part)
			continue
		}
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		result.SubjectIDs = append(result.SubjectIDs, id)
	}

	if len(result.SubjectIDs) > 0 {
		result.Method = MethodName
		m.logger.Debug("Matched subjects by name",
			"owner_id", ownerID,
			"event_id", event.ID,
			"subject_ids", result.SubjectIDs)
	}

	return result, nil
}

// CandidateName extracts the name text from an event title. A known template
// prefix and a trailing session counter are removed. Events without a title
// fall back to the guest's display name, then to the local part of their email.
func (m *Matcher) CandidateName(event *models.Event) string {
	summary := strings.TrimSpace(event.Summary)
	if summary == "" {
		guest, ok := event.Guest()
		if !ok {
			return ""
		}
		if name := strings.TrimSpace(guest.DisplayName); name != "" {
			return name
		}
		local, _, _ := strings.Cut(guest.Email, "@")
		return strings.TrimSpace(local)
	}

	candidate := summary
	if m.prefixRe != nil {
		if match := m.prefixRe.FindStringSubmatch(summary); match != nil {
			candidate = match[1]
		}
	}

	candidate = sessionSuffixRe.ReplaceAllString(candidate, "")
	return strings.TrimSpace(candidate)
}

// SplitNames splits a candidate on the configured conjunctions, dropping blanks
func (m *Matcher) SplitNames(candidate string) []string {
	var raw []string
	if m.splitRe != nil {
		raw = m.splitRe.Split(candidate, -1)
	} else {
		raw = []string{candidate}
	}

	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// resolvePart returns the single subject matching a normalised name fragment.
// An exact match wins over substring matches.
func resolvePart(part string, subjects []*models.Subject, folded []string) (string, error) {
	if part == "" {
		return "", nil
	}

	var exact, partial []int
	for i, name := range folded {
		if name == "" {
			continue
		}
		if name == part {
			exact = append(exact, i)
		} else if strings.Contains(name, part) {
			partial = append(partial, i)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = partial
	}

	switch len(candidates) {
	case 0:
		return "", nil
	case 1:
		return subjects[candidates[0]].ID, nil
	default:
		names := make([]string, len(candidates))
		for i, idx := range candidates {
			names[i] = subjects[idx].FullName
		}
		return "", fmt.Errorf("%w: %d subjects match (%s)", syncerr.ErrAmbiguousMatch, len(candidates), strings.Join(names, ", "))
	}
}

// normalizeName composes, case-folds and collapses whitespace
func normalizeName(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = cases.Fold().String(s)
	return spaceRe.ReplaceAllString(s, " ")
}
