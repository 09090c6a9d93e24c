package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/venkytv/calendar-sync/internal/models"
	calendarPkg "github.com/venkytv/calendar-sync/pkg/calendar"
	"github.com/venkytv/calendar-sync/pkg/retry"
	"github.com/venkytv/calendar-sync/pkg/syncerr"
)

const eventsPageSize = 250

// ClientFactory builds per-owner Google Calendar clients sharing one limiter
// registry and retry policy
type ClientFactory struct {
	limiters  *calendarPkg.Limiters
	retryer   *retry.Retryer
	validator *eventValidator
	options   []option.ClientOption
	logger    *slog.Logger
}

// NewClientFactory creates a factory. Extra options are appended to every
// service, e.g. option.WithEndpoint for a proxy or test server.
func NewClientFactory(limiters *calendarPkg.Limiters, retryer *retry.Retryer, logger *slog.Logger, opts ...option.ClientOption) (*ClientFactory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limiters == nil {
		limiters = calendarPkg.NewLimiters(0, 1)
	}
	if retryer == nil {
		retryer = retry.NewRetryer(nil, logger)
	}

	validator, err := newEventValidator()
	if err != nil {
		return nil, err
	}

	return &ClientFactory{
		limiters:  limiters,
		retryer:   retryer,
		validator: validator,
		options:   opts,
		logger:    logger,
	}, nil
}

// ForOwner returns a Client authenticated with the owner's current access token
func (f *ClientFactory) ForOwner(ctx context.Context, ownerID, accessToken string) (calendarPkg.Client, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	opts = append(opts, f.options...)

	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{
		ownerID:   ownerID,
		service:   service,
		limiters:  f.limiters,
		retryer:   f.retryer,
		validator: f.validator,
		logger:    f.logger.With("owner_id", ownerID),
	}, nil
}

// Client implements calendar.Client for Google Calendar
type Client struct {
	ownerID   string
	service   *calendar.Service
	limiters  *calendarPkg.Limiters
	retryer   *retry.Retryer
	validator *eventValidator
	logger    *slog.Logger
}

// ListEvents retrieves all events in the window, following pagination.
// Payloads that fail validation or conversion are logged and returned as
// Unparsed placeholders, so the event still counts as present.
func (c *Client) ListEvents(ctx context.Context, calendarID string, from, to time.Time) ([]*models.Event, error) {
	var events []*models.Event
	pageToken := ""

	for {
		call := c.service.Events.List(calendarID).
			Context(ctx).
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(eventsPageSize)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := doValue(ctx, c, "list events", call.Do)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve events for calendar %s: %w", calendarID, err)
		}

		for _, item := range page.Items {
			event, err := c.parse(item, calendarID)
			if err != nil {
				c.logger.Warn("Skipping invalid event payload",
					"calendar_id", calendarID,
					"event_id", item.Id,
					"error", err)
				if item.Id != "" {
					events = append(events, &models.Event{ID: item.Id, CalendarID: calendarID, Unparsed: true})
				}
				continue
			}
			events = append(events, event)
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.logger.Debug("Fetched events",
		"calendar_id", calendarID,
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
		"count", len(events))

	return events, nil
}

// InsertEvent creates an event. A duplicate id yields calendar.ErrEventExists.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, input *models.EventInput) (string, error) {
	call := c.service.Events.Insert(calendarID, toGoogleEvent(input)).Context(ctx)
	created, err := doValue(ctx, c, "insert event", call.Do)
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// UpdateEvent patches the title, description and times, leaving attendees untouched
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, input *models.EventInput) error {
	patch := toGoogleEvent(input)
	patch.Id = ""
	return c.do(ctx, "update event", func() error {
		_, err := c.service.Events.Patch(calendarID, eventID, patch).Context(ctx).Do()
		return err
	})
}

// PatchSummary rewrites the title of an event
func (c *Client) PatchSummary(ctx context.Context, calendarID, eventID, summary string) error {
	return c.do(ctx, "patch event summary", func() error {
		_, err := c.service.Events.Patch(calendarID, eventID, &calendar.Event{Summary: summary}).Context(ctx).Do()
		return err
	})
}

// ListCalendars returns the owner's calendar list
func (c *Client) ListCalendars(ctx context.Context) ([]*calendarPkg.Calendar, error) {
	var calendars []*calendarPkg.Calendar
	pageToken := ""

	for {
		call := c.service.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := doValue(ctx, c, "list calendars", call.Do)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve calendar list: %w", err)
		}

		for _, item := range page.Items {
			calendars = append(calendars, &calendarPkg.Calendar{
				ID:          item.Id,
				Name:        item.Summary,
				Description: item.Description,
				TimeZone:    item.TimeZone,
				Primary:     item.Primary,
				AccessRole:  item.AccessRole,
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return calendars, nil
}

// parse validates a raw event against the schema before converting it
func (c *Client) parse(item *calendar.Event, calendarID string) (*models.Event, error) {
	if err := c.validator.validate(item); err != nil {
		return nil, err
	}
	return convertEvent(item, calendarID)
}

// do runs one provider call behind the owner's rate limiter, retrying transient failures
func (c *Client) do(ctx context.Context, op string, call func() error) error {
	_, err := doValue(ctx, c, op, func(...googleapi.CallOption) (struct{}, error) {
		return struct{}{}, call()
	})
	return err
}

// doValue is do for provider calls that return a value
func doValue[T any](ctx context.Context, c *Client, op string, call func(...googleapi.CallOption) (T, error)) (T, error) {
	return retry.DoWithResult(ctx, c.retryer, func() (T, error) {
		var zero T
		if err := c.limiters.Wait(ctx, c.ownerID); err != nil {
			return zero, err
		}
		v, err := call()
		if err != nil {
			return zero, classifyAPIError(op, err)
		}
		return v, nil
	})
}

// classifyAPIError maps provider responses onto the sync error taxonomy
func classifyAPIError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusConflict:
			return fmt.Errorf("%s: %w", op, calendarPkg.ErrEventExists)
		case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
			return fmt.Errorf("%s: %w: %w", op, syncerr.ErrNotFound, err)
		case apiErr.Code == http.StatusUnauthorized:
			return syncerr.ReauthRequired(op, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return syncerr.Transient(op, err)
		case apiErr.Code == http.StatusForbidden && isRateLimitReason(apiErr):
			return syncerr.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return syncerr.Transient(op, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return syncerr.Transient(op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
