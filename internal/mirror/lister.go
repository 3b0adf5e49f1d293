package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/beekhof/calmirror/internal/calendar"
	"github.com/beekhof/calmirror/internal/config"
)

// Window is the half-open interval [Start, End) of instants being mirrored.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [now, now + days*24h).
func NewWindow(now time.Time, days int) Window {
	return Window{
		Start: now,
		End:   now.Add(time.Duration(days) * 24 * time.Hour),
	}
}

func (w Window) String() string {
	return fmt.Sprintf("%s to %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Lister reads source events over a window starting at the current time.
type Lister struct {
	provider calendar.Provider
	now      func() time.Time
}

// NewLister creates a Lister. A nil now uses time.Now.
func NewLister(provider calendar.Provider, now func() time.Time) *Lister {
	if now == nil {
		now = time.Now
	}
	return &Lister{provider: provider, now: now}
}

// ListEvents returns the window it used and every event the provider
// reports in it, in the order delivered.
func (l *Lister) ListEvents(ctx context.Context, calendarID string, days int) (Window, []calendar.Event, error) {
	if days <= 0 {
		return Window{}, nil, &config.ConfigError{Field: "window_days", Reason: fmt.Sprintf("must be positive, got %d", days)}
	}

	window := NewWindow(l.now(), days)
	events, err := l.provider.ListEvents(ctx, calendarID, window.Start, window.End)
	if err != nil {
		return window, nil, err
	}

	return window, events, nil
}

// CountToday returns the number of events in the next 24 hours.
func (l *Lister) CountToday(ctx context.Context, calendarID string) (int, error) {
	_, events, err := l.ListEvents(ctx, calendarID, 1)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}
