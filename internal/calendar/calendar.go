package calendar

import (
	"context"
	"fmt"
	"time"
)

// dateLayout is the all-day date format. A start string of exactly this
// length is treated as date-only.
const dateLayout = "2006-01-02"

// EventTime is either an all-day date or a timestamped instant. Exactly one
// of the fields is populated.
type EventTime struct {
	Date     string // YYYY-MM-DD
	DateTime string // RFC 3339 with offset
}

// Value returns the populated representation, preferring DateTime.
func (t EventTime) Value() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

// IsDateOnly reports whether the value has the 10 character all-day form.
func (t EventTime) IsDateOnly() bool {
	return len(t.Value()) == len(dateLayout)
}

// Event is a calendar entry as read back from a provider.
type Event struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       EventTime
	End         EventTime

	// SourceID is the mirror marker stored on destination events. It is
	// empty for events the mirror did not create.
	SourceID string
}

// EventDraft is an event ready to be inserted into a destination calendar.
type EventDraft struct {
	Title       string
	Description string
	Location    string
	Start       EventTime
	End         EventTime
	SourceID    string
}

// Provider is the calendar service the mirror reads from and writes to.
// Both the Google Calendar and the CalDAV clients implement this interface.
type Provider interface {
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]Event, error)
	InsertEvent(ctx context.Context, calendarID string, draft EventDraft) (Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, draft EventDraft) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// ProviderError wraps any list/insert/update/delete failure.
type ProviderError struct {
	Op         string // "list", "insert", "update", "delete"
	CalendarID string
	EventID    string
	StatusCode int // HTTP status when known, else 0
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("failed to %s events in calendar %s", e.Op, e.CalendarID)
	if e.EventID != "" {
		msg = fmt.Sprintf("failed to %s event %s in calendar %s", e.Op, e.EventID, e.CalendarID)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
