package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// sourceIDProperty is the private extended property that marks mirrored events.
const sourceIDProperty = "calmirrorSourceId"

// Client is a wrapper around the Google Calendar API service.
type Client struct {
	service *gcal.Service
}

// NewClient creates a new Google Calendar API client using the provided HTTP client.
// Extra options (e.g. option.WithEndpoint) are passed through to the service.
func NewClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{service: service}, nil
}

// ListEvents retrieves events from a calendar within the specified time window,
// following every result page.
// Important: Sets SingleEvents = true to expand recurring events.
func (c *Client) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]Event, error) {
	call := c.service.Events.List(calendarID).
		TimeMin(timeMin.UTC().Format(time.RFC3339)).
		TimeMax(timeMax.UTC().Format(time.RFC3339)).
		SingleEvents(true) // Expand recurring events

	var events []Event
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			events = append(events, fromGoogleEvent(item))
		}
		return nil
	})
	if err != nil {
		return nil, googleError("list", calendarID, "", err)
	}

	return events, nil
}

// InsertEvent inserts a new event into a calendar.
// Important: Sets sendUpdates="none" to prevent notifications.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, draft EventDraft) (Event, error) {
	created, err := c.service.Events.Insert(calendarID, toGoogleEvent(draft)).
		SendUpdates("none"). // Disable notifications
		Context(ctx).
		Do()
	if err != nil {
		return Event{}, googleError("insert", calendarID, "", err)
	}

	return fromGoogleEvent(created), nil
}

// UpdateEvent replaces an existing event in a calendar.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, draft EventDraft) error {
	_, err := c.service.Events.Update(calendarID, eventID, toGoogleEvent(draft)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return googleError("update", calendarID, eventID, err)
	}

	return nil
}

// DeleteEvent deletes an event from a calendar.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return googleError("delete", calendarID, eventID, err)
	}

	return nil
}

func googleError(op, calendarID, eventID string, err error) error {
	perr := &ProviderError{Op: op, CalendarID: calendarID, EventID: eventID, Err: err}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		perr.StatusCode = apiErr.Code
	}
	return perr
}

func fromGoogleEvent(item *gcal.Event) Event {
	event := Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	if item.Start != nil {
		event.Start = EventTime{Date: item.Start.Date, DateTime: item.Start.DateTime}
	}
	if item.End != nil {
		event.End = EventTime{Date: item.End.Date, DateTime: item.End.DateTime}
	}
	if item.ExtendedProperties != nil && item.ExtendedProperties.Private != nil {
		event.SourceID = item.ExtendedProperties.Private[sourceIDProperty]
	}
	return event
}

func toGoogleEvent(draft EventDraft) *gcal.Event {
	event := &gcal.Event{
		Summary:     draft.Title,
		Description: draft.Description,
		Location:    draft.Location,
		Start:       &gcal.EventDateTime{Date: draft.Start.Date, DateTime: draft.Start.DateTime},
		End:         &gcal.EventDateTime{Date: draft.End.Date, DateTime: draft.End.DateTime},
		Reminders: &gcal.EventReminders{
			UseDefault: true,
		},
	}
	if draft.SourceID != "" {
		event.ExtendedProperties = &gcal.EventExtendedProperties{
			Private: map[string]string{
				sourceIDProperty: draft.SourceID,
			},
		}
	}
	return event
}
