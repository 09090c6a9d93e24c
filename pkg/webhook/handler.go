// Package webhook receives calendar change notifications and turns each one
// into a bounded reconciliation run for the owning account.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/venkytv/calendar-sync/internal/models"
	"github.com/venkytv/calendar-sync/pkg/observability"
	"github.com/venkytv/calendar-sync/pkg/scheduler"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

// Notification headers set by the provider
const (
	HeaderChannelID     = "X-Goog-Channel-ID"
	HeaderResourceID    = "X-Goog-Resource-ID"
	HeaderResourceState = "X-Goog-Resource-State"
	HeaderResourceURI   = "X-Goog-Resource-URI"
)

// Resource states
const (
	StateSync      = "sync"
	StateExists    = "exists"
	StateNotExists = "not_exists"
)

// DefaultTimeout bounds one notification's fetch and reconcile
const DefaultTimeout = 25 * time.Second

const maxBodyBytes = 1 << 20

// CredentialFinder resolves the owner of a calendar
type CredentialFinder interface {
	FindCredentialByCalendar(ctx context.Context, calendarID string) (*models.Credential, error)
}

// OwnerSyncer runs one owner's reconciliation
type OwnerSyncer interface {
	SyncOwner(ctx context.Context, ownerID, trigger string) (*models.SyncReport, error)
}

// Handler serves the provider's push endpoint
type Handler struct {
	store   CredentialFinder
	syncer  OwnerSyncer
	timeout time.Duration
	logger  *slog.Logger
}

// NewHandler creates a Handler. A zero timeout uses DefaultTimeout.
func NewHandler(store CredentialFinder, syncer OwnerSyncer, timeout time.Duration, logger *slog.Logger) *Handler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:   store,
		syncer:  syncer,
		timeout: timeout,
		logger:  logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.challenge(w, r)
	case http.MethodPost:
		h.notify(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// challenge echoes the verification token without doing any work
func (h *Handler) challenge(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("challenge")
	if token == "" {
		http.Error(w, "missing challenge", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, token)
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	state := r.Header.Get(HeaderResourceState)
	logger := h.logger.With(
		"channel_id", r.Header.Get(HeaderChannelID),
		"resource_id", r.Header.Get(HeaderResourceID),
		"state", state)

	switch state {
	case StateSync:
		logger.Debug("Acknowledged channel sync message")
		h.respond(w, state, http.StatusOK, "ok")
		return
	case StateExists, StateNotExists:
	default:
		logger.Warn("Rejecting notification with unknown resource state")
		h.respond(w, state, http.StatusBadRequest, "unknown resource state")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("Failed to read notification body", "error", err)
		h.respond(w, state, http.StatusOK, "ignored")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 && !json.Valid(body) {
		logger.Warn("Ignoring notification with unparseable body", "bytes", len(body))
		h.respond(w, state, http.StatusOK, "ignored")
		return
	}

	calendarID, ok := CalendarFromResourceURI(r.Header.Get(HeaderResourceURI))
	if !ok {
		logger.Warn("Notification carries no calendar resource", "resource_uri", r.Header.Get(HeaderResourceURI))
		h.respond(w, state, http.StatusBadRequest, "missing calendar resource")
		return
	}
	logger = logger.With("calendar_id", calendarID)

	cred, err := h.store.FindCredentialByCalendar(r.Context(), calendarID)
	if err != nil {
		logger.Error("Failed to resolve calendar owner", "error", err)
		h.respond(w, state, http.StatusInternalServerError, "internal error")
		return
	}
	if cred == nil {
		// Calendars of accounts that were never linked are expected here
		logger.Info("No credential for notified calendar")
		h.respond(w, state, http.StatusNotFound, "unknown calendar")
		return
	}
	logger = logger.With("owner_id", cred.OwnerID)

	if !cred.AutoSyncEnabled {
		logger.Debug("Auto sync disabled, ignoring notification")
		h.respond(w, state, http.StatusOK, "auto sync disabled")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	_, err = h.syncer.SyncOwner(ctx, cred.OwnerID, scheduler.TriggerWebhook)
	status := statusFor(err, ctx.Err())
	switch {
	case err == nil:
		h.respond(w, state, status, "ok")
	case status == http.StatusOK:
		logger.Warn("Owner must reconnect before notifications can be processed", "error", err)
		h.respond(w, state, status, "reauthorization required")
	case status == http.StatusServiceUnavailable:
		logger.Warn("Transient failure processing notification", "error", err)
		h.respond(w, state, status, "try again later")
	default:
		logger.Error("Failed to process notification", "error", err)
		h.respond(w, state, status, "internal error")
	}
}

// statusFor maps a sync failure onto the response the provider sees.
// Terminal credential failures are acknowledged since redelivery cannot help.
func statusFor(err, ctxErr error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case syncerr.IsTerminal(err):
		return http.StatusOK
	case syncerr.IsRetryable(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctxErr, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respond(w http.ResponseWriter, state string, status int, message string) {
	observability.RecordWebhook(state, status)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
}

// CalendarFromResourceURI extracts the calendar id from a watched resource
// URI such as https://www.googleapis.com/calendar/v3/calendars/<id>/events
func CalendarFromResourceURI(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	segments := strings.Split(u.EscapedPath(), "/")
	for i, segment := range segments {
		if segment != "calendars" || i+1 >= len(segments) {
			continue
		}
		id, err := url.PathUnescape(segments[i+1])
		if err != nil || id == "" {
			return "", false
		}
		return id, true
	}
	return "", false
}
