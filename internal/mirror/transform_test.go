package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/beekhof/calmirror/internal/calendar"
)

var schedule = RenameTable{
	"A Block": "Photography 1",
	"B Block": "English 11",
	"C Block": "Chemistry",
}

func TestToDestinationFormat_DateRule(t *testing.T) {
	tests := []struct {
		name      string
		event     calendar.Event
		wantStart calendar.EventTime
		wantEnd   calendar.EventTime
	}{
		{
			name:      "all-day",
			event:     allDay("1", "No School", "2024-01-16", "2024-01-17"),
			wantStart: calendar.EventTime{Date: "2024-01-16"},
			wantEnd:   calendar.EventTime{Date: "2024-01-17"},
		},
		{
			name:      "timestamped",
			event:     timed("2", "Lunch", "2024-01-15T12:00:00-05:00", "2024-01-15T12:30:00-05:00"),
			wantStart: calendar.EventTime{DateTime: "2024-01-15T12:00:00-05:00"},
			wantEnd:   calendar.EventTime{DateTime: "2024-01-15T12:30:00-05:00"},
		},
		{
			name: "date-time field holding a bare date",
			event: calendar.Event{
				ID:    "3",
				Start: calendar.EventTime{DateTime: "2024-01-18"},
				End:   calendar.EventTime{DateTime: "2024-01-19"},
			},
			wantStart: calendar.EventTime{Date: "2024-01-18"},
			wantEnd:   calendar.EventTime{Date: "2024-01-19"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := ToDestinationFormat(tt.event, nil, false)
			assert.Equal(t, tt.wantStart, draft.Start)
			assert.Equal(t, tt.wantEnd, draft.End)
			assert.Equal(t, tt.event.ID, draft.SourceID)
		})
	}
}

func TestToDestinationFormat_Rename(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		applyRename bool
		want        string
	}{
		{name: "mapped", title: "A Block", applyRename: true, want: "Photography 1"},
		{name: "unmapped", title: "Lunch", applyRename: true, want: "Lunch"},
		{name: "rename disabled", title: "A Block", applyRename: false, want: "A Block"},
		{name: "case sensitive", title: "a block", applyRename: true, want: "a block"},
		{name: "no partial match", title: "A Block Lab", applyRename: true, want: "A Block Lab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := timed("1", tt.title, "2024-01-15T08:00:00-05:00", "2024-01-15T09:00:00-05:00")
			draft := ToDestinationFormat(event, schedule, tt.applyRename)
			assert.Equal(t, tt.want, draft.Title)
		})
	}
}

func TestToDestinationFormat_PassesThroughDetails(t *testing.T) {
	event := timed("1", "A Block", "2024-01-15T08:00:00-05:00", "2024-01-15T09:00:00-05:00")
	event.Description = "Bring camera"
	event.Location = "Room 204"

	draft := ToDestinationFormat(event, schedule, true)
	assert.Equal(t, "Bring camera", draft.Description)
	assert.Equal(t, "Room 204", draft.Location)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "src-1", fingerprint(calendar.EventDraft{SourceID: "src-1", Title: "x"}))
	assert.Equal(t, "Lunch|2024-01-15",
		fingerprint(calendar.EventDraft{Title: "Lunch", Start: calendar.EventTime{Date: "2024-01-15"}}))
}

func TestSameTime(t *testing.T) {
	assert.True(t, sameTime(
		calendar.EventTime{DateTime: "2024-01-15T08:00:00-05:00"},
		calendar.EventTime{DateTime: "2024-01-15T13:00:00Z"},
	))
	assert.False(t, sameTime(
		calendar.EventTime{DateTime: "2024-01-15T08:00:00-05:00"},
		calendar.EventTime{DateTime: "2024-01-15T08:00:00Z"},
	))
	assert.True(t, sameTime(calendar.EventTime{Date: "2024-01-15"}, calendar.EventTime{Date: "2024-01-15"}))
}
