package calendar

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sourceIDICalProp carries the mirror marker on CalDAV events.
const sourceIDICalProp = "X-CALMIRROR-SOURCE-ID"

// CalDAVClient is a Provider for CalDAV servers (iCloud, Nextcloud, Radicale...).
// Calendar IDs are collection paths such as "/alice/calendars/school/".
// Event IDs are resource names inside the collection such as "<uuid>.ics".
type CalDAVClient struct {
	httpClient *http.Client
	username   string
	password   string
	serverURL  string
}

// NewCalDAVClient creates a new CalDAV client using basic auth.
// If httpClient is nil a client with a 30 second timeout is used.
func NewCalDAVClient(serverURL, username, password string, httpClient *http.Client) *CalDAVClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &CalDAVClient{
		httpClient: httpClient,
		username:   username,
		password:   password,
		serverURL:  strings.TrimSuffix(serverURL, "/"),
	}
}

// makeRequest makes an authenticated HTTP request to the CalDAV server.
func (c *CalDAVClient) makeRequest(ctx context.Context, method, resourcePath string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+resourcePath, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.username, c.password)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

func collectionPath(calendarID string) string {
	if !strings.HasSuffix(calendarID, "/") {
		return calendarID + "/"
	}
	return calendarID
}

// ListEvents runs a calendar-query REPORT restricted to the time window.
// Resources that cannot be decoded, or hold no VEVENT, come back as an Event
// carrying only its ID.
func (c *CalDAVClient) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]Event, error) {
	queryBody := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`, timeMin.UTC().Format("20060102T150405Z"), timeMax.UTC().Format("20060102T150405Z"))

	req, err := http.NewRequestWithContext(ctx, "REPORT", c.serverURL+collectionPath(calendarID), strings.NewReader(queryBody))
	if err != nil {
		return nil, &ProviderError{Op: "list", CalendarID: calendarID, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", "1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: "list", CalendarID: calendarID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, &ProviderError{Op: "list", CalendarID: calendarID, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Op: "list", CalendarID: calendarID, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	resources, err := parseCalDAVResponse(body)
	if err != nil {
		return nil, &ProviderError{Op: "list", CalendarID: calendarID, Err: err}
	}

	logger := zerolog.Ctx(ctx)
	var events []Event
	for _, res := range resources {
		event, err := decodeResource(res.data)
		if err != nil {
			// Still returned so a clear of the window can delete it.
			logger.Warn().Err(err).Str("href", res.href).Msg("unreadable calendar resource, returning it without details")
			event = Event{}
		}
		event.ID = path.Base(res.href)
		events = append(events, event)
	}

	return events, nil
}

// InsertEvent stores the draft as a new resource named after a fresh UID.
func (c *CalDAVClient) InsertEvent(ctx context.Context, calendarID string, draft EventDraft) (Event, error) {
	uid := uuid.NewString()
	eventID := uid + ".ics"

	if err := c.put(ctx, "insert", calendarID, eventID, uid, draft); err != nil {
		return Event{}, err
	}

	return Event{
		ID:          eventID,
		Title:       draft.Title,
		Description: draft.Description,
		Location:    draft.Location,
		Start:       draft.Start,
		End:         draft.End,
		SourceID:    draft.SourceID,
	}, nil
}

// UpdateEvent overwrites an existing resource.
func (c *CalDAVClient) UpdateEvent(ctx context.Context, calendarID, eventID string, draft EventDraft) error {
	return c.put(ctx, "update", calendarID, eventID, strings.TrimSuffix(eventID, ".ics"), draft)
}

func (c *CalDAVClient) put(ctx context.Context, op, calendarID, eventID, uid string, draft EventDraft) error {
	icalCal, err := draftToICal(draft, uid, time.Now())
	if err != nil {
		return &ProviderError{Op: op, CalendarID: calendarID, EventID: eventID, Err: err}
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(icalCal); err != nil {
		return &ProviderError{Op: op, CalendarID: calendarID, EventID: eventID, Err: fmt.Errorf("failed to encode iCalendar: %w", err)}
	}

	resp, err := c.makeRequest(ctx, http.MethodPut, collectionPath(calendarID)+eventID, &buf, "text/calendar; charset=utf-8")
	if err != nil {
		return &ProviderError{Op: op, CalendarID: calendarID, EventID: eventID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &ProviderError{Op: op, CalendarID: calendarID, EventID: eventID, StatusCode: resp.StatusCode}
	}

	return nil
}

// DeleteEvent deletes an event resource.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	resp, err := c.makeRequest(ctx, http.MethodDelete, collectionPath(calendarID)+eventID, nil, "")
	if err != nil {
		return &ProviderError{Op: "delete", CalendarID: calendarID, EventID: eventID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &ProviderError{Op: "delete", CalendarID: calendarID, EventID: eventID, StatusCode: resp.StatusCode}
	}

	return nil
}

type calDAVResource struct {
	href string
	data string
}

// parseCalDAVResponse parses a CalDAV REPORT response to extract iCalendar data.
func parseCalDAVResponse(body []byte) ([]calDAVResource, error) {
	type Prop struct {
		CalendarData string `xml:"calendar-data"`
	}

	type Response struct {
		Href string `xml:"href"`
		Prop Prop   `xml:"propstat>prop"`
	}

	type Multistatus struct {
		XMLName   xml.Name   `xml:"multistatus"`
		Responses []Response `xml:"response"`
	}

	var multistatus Multistatus
	if err := xml.Unmarshal(body, &multistatus); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	var resources []calDAVResource
	for _, resp := range multistatus.Responses {
		if strings.TrimSpace(resp.Prop.CalendarData) != "" {
			resources = append(resources, calDAVResource{href: resp.Href, data: resp.Prop.CalendarData})
		}
	}

	return resources, nil
}

func decodeResource(data string) (Event, error) {
	icalCal, err := ical.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		return Event{}, fmt.Errorf("failed to parse iCalendar: %w", err)
	}
	return icalToEvent(icalCal)
}

// icalToEvent converts the first VEVENT of a calendar object.
func icalToEvent(icalCal *ical.Calendar) (Event, error) {
	var vevent *ical.Component
	for _, comp := range icalCal.Children {
		if comp.Name == ical.CompEvent {
			vevent = comp
			break
		}
	}

	if vevent == nil {
		return Event{}, fmt.Errorf("no VEVENT found in calendar")
	}

	var event Event
	if summary := vevent.Props.Get(ical.PropSummary); summary != nil {
		event.Title = summary.Value
	}
	if desc := vevent.Props.Get(ical.PropDescription); desc != nil {
		event.Description = desc.Value
	}
	if loc := vevent.Props.Get(ical.PropLocation); loc != nil {
		event.Location = loc.Value
	}
	if marker := vevent.Props.Get(sourceIDICalProp); marker != nil {
		event.SourceID = marker.Value
	}

	if dtstart := vevent.Props.Get(ical.PropDateTimeStart); dtstart != nil {
		startTime, err := dtstart.DateTime(time.UTC)
		if err != nil {
			return Event{}, fmt.Errorf("invalid DTSTART: %w", err)
		}
		allDay := dtstart.Params.Get("VALUE") == "DATE"
		event.Start = eventTime(startTime, allDay)

		// DTEND is optional; a date-only event without it lasts one day
		if dtend := vevent.Props.Get(ical.PropDateTimeEnd); dtend != nil {
			endTime, err := dtend.DateTime(time.UTC)
			if err != nil {
				return Event{}, fmt.Errorf("invalid DTEND: %w", err)
			}
			event.End = eventTime(endTime, allDay)
		} else if allDay {
			event.End = eventTime(startTime.AddDate(0, 0, 1), true)
		} else {
			event.End = event.Start
		}
	}

	return event, nil
}

func eventTime(t time.Time, allDay bool) EventTime {
	if allDay {
		return EventTime{Date: t.Format(dateLayout)}
	}
	return EventTime{DateTime: t.Format(time.RFC3339)}
}

// draftToICal converts a draft to a single-VEVENT iCalendar object.
func draftToICal(draft EventDraft, uid string, now time.Time) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calmirror//EN")

	vevent := ical.NewComponent(ical.CompEvent)
	cal.Children = append(cal.Children, vevent)

	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

	if draft.Title != "" {
		vevent.Props.SetText(ical.PropSummary, draft.Title)
	}
	if draft.Description != "" {
		vevent.Props.SetText(ical.PropDescription, draft.Description)
	}
	if draft.Location != "" {
		vevent.Props.SetText(ical.PropLocation, draft.Location)
	}
	if draft.SourceID != "" {
		vevent.Props.SetText(sourceIDICalProp, draft.SourceID)
	}

	if err := setICalTime(vevent, ical.PropDateTimeStart, draft.Start); err != nil {
		return nil, err
	}
	if err := setICalTime(vevent, ical.PropDateTimeEnd, draft.End); err != nil {
		return nil, err
	}

	return cal, nil
}

func setICalTime(vevent *ical.Component, name string, t EventTime) error {
	switch {
	case t.DateTime != "":
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, t.DateTime, err)
		}
		vevent.Props.SetDateTime(name, parsed.UTC())
	case t.Date != "":
		parsed, err := time.Parse(dateLayout, t.Date)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, t.Date, err)
		}
		prop := ical.NewProp(name)
		prop.SetDate(parsed)
		vevent.Props.Set(prop)
	default:
		return fmt.Errorf("missing %s", name)
	}
	return nil
}
