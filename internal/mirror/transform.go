package mirror

import (
	"time"

	"github.com/beekhof/calmirror/internal/calendar"
)

// RenameTable maps source titles to destination titles. Lookup is exact and
// case-sensitive; titles without an entry pass through.
type RenameTable map[string]string

// Apply returns the replacement for title, or title itself.
func (t RenameTable) Apply(title string) string {
	if renamed, ok := t[title]; ok {
		return renamed
	}
	return title
}

// ToDestinationFormat builds the draft written to the destination calendar.
// A start value of exactly 10 characters (YYYY-MM-DD) makes an all-day draft;
// anything else is timestamped.
func ToDestinationFormat(event calendar.Event, table RenameTable, applyRename bool) calendar.EventDraft {
	title := event.Title
	if applyRename {
		title = table.Apply(title)
	}

	draft := calendar.EventDraft{
		Title:       title,
		Description: event.Description,
		Location:    event.Location,
		SourceID:    event.ID,
	}

	start, end := event.Start.Value(), event.End.Value()
	if event.Start.IsDateOnly() {
		draft.Start = calendar.EventTime{Date: start}
		draft.End = calendar.EventTime{Date: end}
	} else {
		draft.Start = calendar.EventTime{DateTime: start}
		draft.End = calendar.EventTime{DateTime: end}
	}

	return draft
}

// fingerprint identifies a draft across runs: the source event id when known,
// else title and start.
func fingerprint(draft calendar.EventDraft) string {
	if draft.SourceID != "" {
		return draft.SourceID
	}
	return draft.Title + "|" + draft.Start.Value()
}

// draftMatches checks if a destination event already carries the draft's content.
func draftMatches(event calendar.Event, draft calendar.EventDraft) bool {
	return event.Title == draft.Title &&
		event.Description == draft.Description &&
		event.Location == draft.Location &&
		sameTime(event.Start, draft.Start) &&
		sameTime(event.End, draft.End)
}

// sameTime compares instants rather than strings, since providers echo
// timestamps back in the calendar's own offset.
func sameTime(a, b calendar.EventTime) bool {
	if a.DateTime != "" && b.DateTime != "" {
		ta, errA := time.Parse(time.RFC3339, a.DateTime)
		tb, errB := time.Parse(time.RFC3339, b.DateTime)
		if errA == nil && errB == nil {
			return ta.Equal(tb)
		}
	}
	return a.Value() == b.Value()
}
