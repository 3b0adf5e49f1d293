package mirror

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/calmirror/internal/calendar"
	"github.com/beekhof/calmirror/internal/metrics"
)

func marked(event calendar.Event, sourceID string) calendar.Event {
	event.SourceID = sourceID
	return event
}

func draftsFor(events ...calendar.Event) []calendar.EventDraft {
	drafts := make([]calendar.EventDraft, 0, len(events))
	for _, e := range events {
		drafts = append(drafts, ToDestinationFormat(e, schedule, true))
	}
	return drafts
}

func TestReplaceWindow_DeletesBeforeInserts(t *testing.T) {
	provider := newFakeProvider()
	provider.events["mirror"] = []calendar.Event{
		timed("old-1", "Photography 1", "2024-01-15T08:00:00-05:00", "2024-01-15T09:00:00-05:00"),
		timed("old-2", "English 11", "2024-01-15T09:00:00-05:00", "2024-01-15T10:00:00-05:00"),
		allDay("old-3", "No School", "2024-01-16", "2024-01-17"),
	}
	drafts := draftsFor(
		timed("1", "A Block", "2024-01-15T08:00:00-05:00", "2024-01-15T09:00:00-05:00"),
		timed("2", "Lunch", "2024-01-15T12:00:00-05:00", "2024-01-15T12:30:00-05:00"),
	)

	window := NewWindow(fixedNow, 40)
	result, err := NewSynchronizer(provider, nil).ReplaceWindow(context.Background(), "mirror", window, drafts)
	require.NoError(t, err)

	assert.Equal(t, []string{"list", "delete", "delete", "delete", "insert", "insert"}, provider.ops())
	assert.Equal(t, Result{Deleted: 3, Inserted: 2}, result)

	assert.Equal(t, window.Start, provider.lists[0].min)
	assert.Equal(t, window.End, provider.lists[0].max)

	assert.Equal(t, "Photography 1", provider.calls[4].title)
	assert.Equal(t, "Lunch", provider.calls[5].title)

	remaining := provider.events["mirror"]
	require.Len(t, remaining, 2)
	assert.Equal(t, "1", remaining[0].SourceID)
}

func TestReplaceWindow_EmptyDestination(t *testing.T) {
	provider := newFakeProvider()
	drafts := draftsFor(allDay("1", "No School", "2024-01-16", "2024-01-17"))

	result, err := NewSynchronizer(provider, nil).ReplaceWindow(context.Background(), "mirror", NewWindow(fixedNow, 7), drafts)
	require.NoError(t, err)

	assert.Equal(t, []string{"list", "insert"}, provider.ops())
	assert.Equal(t, Result{Inserted: 1}, result)
}

func TestReplaceWindow_DeleteFailureAborts(t *testing.T) {
	provider := newFakeProvider()
	provider.events["mirror"] = []calendar.Event{
		allDay("old-1", "a", "2024-01-16", "2024-01-17"),
		allDay("old-2", "b", "2024-01-17", "2024-01-18"),
		allDay("old-3", "c", "2024-01-18", "2024-01-19"),
	}
	provider.failOp = "delete"
	provider.failAfter = 1

	drafts := draftsFor(allDay("1", "No School", "2024-01-16", "2024-01-17"))
	result, err := NewSynchronizer(provider, nil).ReplaceWindow(context.Background(), "mirror", NewWindow(fixedNow, 7), drafts)

	var perr *calendar.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "delete", perr.Op)

	assert.Equal(t, []string{"list", "delete", "delete"}, provider.ops())
	assert.Equal(t, Result{Deleted: 1}, result)
}

func TestReplaceWindow_InsertFailureAborts(t *testing.T) {
	provider := newFakeProvider()
	provider.failOp = "insert"
	provider.failAfter = 1

	drafts := draftsFor(
		allDay("1", "a", "2024-01-16", "2024-01-17"),
		allDay("2", "b", "2024-01-17", "2024-01-18"),
		allDay("3", "c", "2024-01-18", "2024-01-19"),
	)
	result, err := NewSynchronizer(provider, nil).ReplaceWindow(context.Background(), "mirror", NewWindow(fixedNow, 7), drafts)

	require.Error(t, err)
	assert.Equal(t, []string{"list", "insert", "insert"}, provider.ops())
	assert.Equal(t, Result{Inserted: 1}, result)
}

const mixedCalDAVWindow = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:response>
    <D:href>/cal/good.ics</D:href>
    <D:propstat><D:prop><C:calendar-data>BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:good
DTSTAMP:20240101T000000Z
SUMMARY:Photography 1
DTSTART:20240115T133000Z
DTEND:20240115T143000Z
END:VEVENT
END:VCALENDAR
</C:calendar-data></D:prop></D:propstat>
  </D:response>
  <D:response>
    <D:href>/cal/malformed.ics</D:href>
    <D:propstat><D:prop><C:calendar-data>BEGIN:VCALENDAR
garbage without a colon
</C:calendar-data></D:prop></D:propstat>
  </D:response>
  <D:response>
    <D:href>/cal/todo.ics</D:href>
    <D:propstat><D:prop><C:calendar-data>BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VTODO
UID:todo
DTSTAMP:20240101T000000Z
SUMMARY:Laundry
END:VTODO
END:VCALENDAR
</C:calendar-data></D:prop></D:propstat>
  </D:response>
</D:multistatus>`

func TestClearWindow_CalDAVDeletesUnreadableResources(t *testing.T) {
	var mu sync.Mutex
	var deleted []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "REPORT":
			w.WriteHeader(http.StatusMultiStatus)
			_, _ = w.Write([]byte(mixedCalDAVWindow))
		case http.MethodDelete:
			mu.Lock()
			deleted = append(deleted, r.URL.Path)
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	provider := calendar.NewCalDAVClient(srv.URL, "alice", "secret", srv.Client())
	count, err := NewSynchronizer(provider, nil).ClearWindow(context.Background(), "/cal", NewWindow(fixedNow, 7))
	require.NoError(t, err)

	assert.Equal(t, 3, count)
	assert.Equal(t, []string{"/cal/good.ics", "/cal/malformed.ics", "/cal/todo.ics"}, deleted)
}

func TestReconcile(t *testing.T) {
	provider := newFakeProvider()
	manual := timed("m1", "Dentist", "2024-01-15T15:00:00-05:00", "2024-01-15T16:00:00-05:00")
	provider.events["mirror"] = []calendar.Event{
		manual,
		marked(timed("d1", "Photography 1", "2024-01-15T13:00:00Z", "2024-01-15T14:00:00Z"), "src-1"),
		marked(timed("d2", "B Block", "2024-01-15T09:00:00-05:00", "2024-01-15T10:00:00-05:00"), "src-2"),
		marked(allDay("d3", "Cancelled", "2024-01-16", "2024-01-17"), "src-gone"),
		marked(timed("d4", "Photography 1", "2024-01-15T08:00:00-05:00", "2024-01-15T09:00:00-05:00"), "src-1"),
	}

	drafts := draftsFor(
		timed("src-1", "A Block", "2024-01-15T08:00:00-05:00", "2024-01-15T09:00:00-05:00"),
		timed("src-2", "B Block", "2024-01-15T09:00:00-05:00", "2024-01-15T10:00:00-05:00"),
		allDay("src-3", "No School", "2024-01-18", "2024-01-19"),
	)

	rec := metrics.NewRecorder()
	result, err := NewSynchronizer(provider, rec).Reconcile(context.Background(), "mirror", NewWindow(fixedNow, 40), drafts)
	require.NoError(t, err)

	assert.Equal(t, Result{Deleted: 2, Inserted: 1, Updated: 1, Unchanged: 1}, result)
	assert.Equal(t, []string{"list", "delete", "delete", "update", "insert"}, provider.ops())
	assert.Equal(t, "d3", provider.calls[1].eventID)
	assert.Equal(t, "d4", provider.calls[2].eventID)
	assert.Equal(t, "d2", provider.calls[3].eventID)
	assert.Equal(t, "English 11", provider.calls[3].title)

	for _, c := range provider.calls {
		assert.NotEqual(t, "m1", c.eventID, "manual event must not be touched")
	}
	assert.Contains(t, provider.events["mirror"], manual)
}

func TestReconcile_SecondRunIsNoop(t *testing.T) {
	provider := newFakeProvider()
	drafts := draftsFor(
		timed("src-1", "A Block", "2024-01-15T08:00:00-05:00", "2024-01-15T09:00:00-05:00"),
		allDay("src-2", "No School", "2024-01-16", "2024-01-17"),
	)
	sync := NewSynchronizer(provider, nil)
	window := NewWindow(fixedNow, 40)

	first, err := sync.Reconcile(context.Background(), "mirror", window, drafts)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 2}, first)

	provider.calls = nil
	second, err := sync.Reconcile(context.Background(), "mirror", window, drafts)
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 2}, second)
	assert.Equal(t, []string{"list"}, provider.ops())
}

func TestReconcile_FingerprintWithoutSourceID(t *testing.T) {
	provider := newFakeProvider()
	drafts := []calendar.EventDraft{{
		Title: "Lunch",
		Start: calendar.EventTime{DateTime: "2024-01-15T12:00:00-05:00"},
		End:   calendar.EventTime{DateTime: "2024-01-15T12:30:00-05:00"},
	}}
	sync := NewSynchronizer(provider, nil)

	_, err := sync.Reconcile(context.Background(), "mirror", NewWindow(fixedNow, 1), drafts)
	require.NoError(t, err)
	require.Len(t, provider.events["mirror"], 1)
	assert.Equal(t, "Lunch|2024-01-15T12:00:00-05:00", provider.events["mirror"][0].SourceID)

	result, err := sync.Reconcile(context.Background(), "mirror", NewWindow(fixedNow, 1), drafts)
	require.NoError(t, err)
	assert.Equal(t, Result{Unchanged: 1}, result)
}
