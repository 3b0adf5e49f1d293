package mirror

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/beekhof/calmirror/internal/calendar"
	"github.com/beekhof/calmirror/internal/metrics"
)

// Result counts the writes made to the destination calendar.
type Result struct {
	Deleted   int
	Inserted  int
	Updated   int
	Unchanged int
}

// Synchronizer writes drafts into a destination calendar window.
type Synchronizer struct {
	provider calendar.Provider
	metrics  *metrics.Recorder
}

// NewSynchronizer creates a Synchronizer. rec may be nil.
func NewSynchronizer(provider calendar.Provider, rec *metrics.Recorder) *Synchronizer {
	return &Synchronizer{provider: provider, metrics: rec}
}

// ClearWindow deletes every destination event in the window, stopping at the
// first failure. Events deleted before the failure stay deleted.
func (s *Synchronizer) ClearWindow(ctx context.Context, calendarID string, window Window) (int, error) {
	logger := zerolog.Ctx(ctx)

	existing, err := s.provider.ListEvents(ctx, calendarID, window.Start, window.End)
	if err != nil {
		return 0, err
	}

	deleted := 0
	defer func() { s.metrics.AddEvents("deleted", deleted) }()

	for _, event := range existing {
		if err := s.provider.DeleteEvent(ctx, calendarID, event.ID); err != nil {
			return deleted, err
		}
		deleted++
		logger.Debug().Str("event_id", event.ID).Str("title", event.Title).Msg("deleted event")
	}

	logger.Info().Int("deleted", deleted).Str("calendar", calendarID).Msg("cleared destination window")
	return deleted, nil
}

// ReplaceWindow clears the window and then inserts every draft in order.
// No insertion starts until all deletions have completed.
func (s *Synchronizer) ReplaceWindow(ctx context.Context, calendarID string, window Window, drafts []calendar.EventDraft) (Result, error) {
	var result Result

	deleted, err := s.ClearWindow(ctx, calendarID, window)
	result.Deleted = deleted
	if err != nil {
		return result, err
	}

	inserted, err := s.insertAll(ctx, calendarID, drafts)
	result.Inserted = inserted
	return result, err
}

func (s *Synchronizer) insertAll(ctx context.Context, calendarID string, drafts []calendar.EventDraft) (int, error) {
	logger := zerolog.Ctx(ctx)

	inserted := 0
	defer func() { s.metrics.AddEvents("inserted", inserted) }()

	for _, draft := range drafts {
		created, err := s.provider.InsertEvent(ctx, calendarID, draft)
		if err != nil {
			return inserted, err
		}
		inserted++
		logger.Debug().Str("event_id", created.ID).Str("title", draft.Title).Msg("inserted event")
	}

	logger.Info().Int("inserted", inserted).Str("calendar", calendarID).Msg("inserted drafts")
	return inserted, nil
}

// Reconcile upserts drafts keyed by fingerprint instead of recreating the
// whole window. Destination events without a mirror marker were not created
// by calmirror and are never touched.
//
// Phase 1 deletes marker-bearing events with no matching draft and any
// duplicates beyond the first per fingerprint. Phase 2 updates changed
// matches and inserts drafts that have no match.
func (s *Synchronizer) Reconcile(ctx context.Context, calendarID string, window Window, drafts []calendar.EventDraft) (Result, error) {
	logger := zerolog.Ctx(ctx)
	var result Result

	existing, err := s.provider.ListEvents(ctx, calendarID, window.Start, window.End)
	if err != nil {
		return result, err
	}

	wanted := make(map[string]struct{}, len(drafts))
	for _, draft := range drafts {
		wanted[fingerprint(draft)] = struct{}{}
	}

	// Phase 1: stale events and duplicates
	matched := make(map[string]calendar.Event)
	var stale []calendar.Event
	manual := 0
	for _, event := range existing {
		if event.SourceID == "" {
			manual++
			continue
		}
		if _, ok := wanted[event.SourceID]; !ok {
			stale = append(stale, event)
			continue
		}
		if _, dup := matched[event.SourceID]; dup {
			logger.Debug().Str("event_id", event.ID).Str("source_id", event.SourceID).Msg("found duplicate event")
			stale = append(stale, event)
			continue
		}
		matched[event.SourceID] = event
	}
	if manual > 0 {
		logger.Info().Int("count", manual).Msg("leaving events not created by calmirror untouched")
	}

	defer func() {
		s.metrics.AddEvents("deleted", result.Deleted)
		s.metrics.AddEvents("inserted", result.Inserted)
		s.metrics.AddEvents("updated", result.Updated)
		s.metrics.AddEvents("unchanged", result.Unchanged)
	}()

	for _, event := range stale {
		if err := s.provider.DeleteEvent(ctx, calendarID, event.ID); err != nil {
			return result, err
		}
		result.Deleted++
		logger.Debug().Str("event_id", event.ID).Str("title", event.Title).Msg("deleted stale event")
	}

	// Phase 2: updates and inserts
	seen := make(map[string]struct{}, len(drafts))
	for _, draft := range drafts {
		key := fingerprint(draft)
		if _, dup := seen[key]; dup {
			logger.Warn().Str("fingerprint", key).Msg("skipping draft with duplicate fingerprint")
			continue
		}
		seen[key] = struct{}{}
		draft.SourceID = key

		current, ok := matched[key]
		switch {
		case !ok:
			if _, err := s.provider.InsertEvent(ctx, calendarID, draft); err != nil {
				return result, err
			}
			result.Inserted++
		case draftMatches(current, draft):
			result.Unchanged++
		default:
			if err := s.provider.UpdateEvent(ctx, calendarID, current.ID, draft); err != nil {
				return result, err
			}
			result.Updated++
			logger.Debug().Str("event_id", current.ID).Str("title", draft.Title).Msg("updated event")
		}
	}

	logger.Info().
		Int("deleted", result.Deleted).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Msg("reconciled destination window")
	return result, nil
}

func (r Result) String() string {
	return fmt.Sprintf("%d deleted, %d inserted, %d updated, %d unchanged", r.Deleted, r.Inserted, r.Updated, r.Unchanged)
}
