package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/beekhof/calmirror/internal/calendar"
)

// call records one provider operation in the order it was made.
type call struct {
	op         string
	calendarID string
	eventID    string
	title      string
}

// bounds is the window passed to a ListEvents call.
type bounds struct {
	min, max time.Time
}

// fakeProvider is an in-memory calendar.Provider that records every call.
type fakeProvider struct {
	events map[string][]calendar.Event // calendarID -> events
	calls  []call
	lists  []bounds

	failOp    string // operation that fails
	failAfter int    // successful calls of failOp before it fails
	nextID    int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{events: make(map[string][]calendar.Event)}
}

func (f *fakeProvider) shouldFail(op string) error {
	if f.failOp != op {
		return nil
	}
	if f.failAfter > 0 {
		f.failAfter--
		return nil
	}
	return &calendar.ProviderError{Op: op, StatusCode: 500, Err: fmt.Errorf("injected %s failure", op)}
}

func (f *fakeProvider) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	f.calls = append(f.calls, call{op: "list", calendarID: calendarID})
	f.lists = append(f.lists, bounds{min: timeMin, max: timeMax})
	if err := f.shouldFail("list"); err != nil {
		return nil, err
	}
	return append([]calendar.Event(nil), f.events[calendarID]...), nil
}

func (f *fakeProvider) InsertEvent(ctx context.Context, calendarID string, draft calendar.EventDraft) (calendar.Event, error) {
	f.calls = append(f.calls, call{op: "insert", calendarID: calendarID, title: draft.Title})
	if err := f.shouldFail("insert"); err != nil {
		return calendar.Event{}, err
	}

	f.nextID++
	event := calendar.Event{
		ID:          fmt.Sprintf("new-%d", f.nextID),
		Title:       draft.Title,
		Description: draft.Description,
		Location:    draft.Location,
		Start:       draft.Start,
		End:         draft.End,
		SourceID:    draft.SourceID,
	}
	f.events[calendarID] = append(f.events[calendarID], event)
	return event, nil
}

func (f *fakeProvider) UpdateEvent(ctx context.Context, calendarID, eventID string, draft calendar.EventDraft) error {
	f.calls = append(f.calls, call{op: "update", calendarID: calendarID, eventID: eventID, title: draft.Title})
	if err := f.shouldFail("update"); err != nil {
		return err
	}

	for i, e := range f.events[calendarID] {
		if e.ID == eventID {
			f.events[calendarID][i] = calendar.Event{
				ID:          eventID,
				Title:       draft.Title,
				Description: draft.Description,
				Location:    draft.Location,
				Start:       draft.Start,
				End:         draft.End,
				SourceID:    draft.SourceID,
			}
		}
	}
	return nil
}

func (f *fakeProvider) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	f.calls = append(f.calls, call{op: "delete", calendarID: calendarID, eventID: eventID})
	if err := f.shouldFail("delete"); err != nil {
		return err
	}

	events := f.events[calendarID]
	for i, e := range events {
		if e.ID == eventID {
			f.events[calendarID] = append(events[:i:i], events[i+1:]...)
			break
		}
	}
	return nil
}

// ops returns the operation names of the recorded calls.
func (f *fakeProvider) ops() []string {
	ops := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		ops = append(ops, c.op)
	}
	return ops
}

func timed(id, title, start, end string) calendar.Event {
	return calendar.Event{
		ID:    id,
		Title: title,
		Start: calendar.EventTime{DateTime: start},
		End:   calendar.EventTime{DateTime: end},
	}
}

func allDay(id, title, start, end string) calendar.Event {
	return calendar.Event{
		ID:    id,
		Title: title,
		Start: calendar.EventTime{Date: start},
		End:   calendar.EventTime{Date: end},
	}
}
