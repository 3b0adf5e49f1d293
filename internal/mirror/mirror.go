package mirror

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/beekhof/calmirror/internal/calendar"
	"github.com/beekhof/calmirror/internal/config"
	"github.com/beekhof/calmirror/internal/metrics"
)

// Report summarizes one Run.
type Report struct {
	TodayCount int
	Window     Window
	Drafts     []calendar.EventDraft
	Result     Result
}

// Mirror copies a window of source events into the destination calendar.
type Mirror struct {
	source      calendar.Provider
	destination calendar.Provider
	config      *config.Config
	out         io.Writer
	metrics     *metrics.Recorder

	// DryRun prints the drafts without touching the destination.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// New creates a Mirror. Drafts and the daily count are printed to out.
func New(source, destination calendar.Provider, cfg *config.Config, out io.Writer, rec *metrics.Recorder) *Mirror {
	return &Mirror{
		source:      instrument(source, rec),
		destination: instrument(destination, rec),
		config:      cfg,
		out:         out,
		metrics:     rec,
	}
}

func (m *Mirror) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// CountToday returns the number of source events in the next 24 hours.
func (m *Mirror) CountToday(ctx context.Context) (int, error) {
	return NewLister(m.source, m.now).CountToday(ctx, m.config.SourceCalendarID)
}

// Run performs the mirror: count today's events, list the window, transform,
// print each draft and write them with the configured strategy.
func (m *Mirror) Run(ctx context.Context) (Report, error) {
	logger := zerolog.Ctx(ctx)
	var report Report

	lister := NewLister(m.source, m.now)

	today, err := lister.CountToday(ctx, m.config.SourceCalendarID)
	if err != nil {
		return report, err
	}
	report.TodayCount = today
	fmt.Fprintf(m.out, "%d events today\n", today)

	window, events, err := lister.ListEvents(ctx, m.config.SourceCalendarID, m.config.WindowDays)
	if err != nil {
		return report, err
	}
	report.Window = window
	m.metrics.AddEvents("listed", len(events))
	logger.Info().Int("count", len(events)).Stringer("window", window).Msg("listed source events")

	table := RenameTable(m.config.RenameTable)
	applyRename := m.config.RenameEnabled()
	for _, event := range events {
		draft := ToDestinationFormat(event, table, applyRename)
		fmt.Fprintf(m.out, "%s\t%s\t%s\n", draft.Title, draft.Start.Value(), draft.End.Value())
		report.Drafts = append(report.Drafts, draft)
	}

	if m.DryRun {
		logger.Info().Int("drafts", len(report.Drafts)).Msg("dry run, destination left unchanged")
		return report, nil
	}

	sync := NewSynchronizer(m.destination, m.metrics)
	destinationID := m.config.Destination.CalendarID

	switch m.config.Strategy {
	case config.StrategyReconcile:
		report.Result, err = sync.Reconcile(ctx, destinationID, window, report.Drafts)
	default:
		report.Result, err = sync.ReplaceWindow(ctx, destinationID, window, report.Drafts)
	}
	if err != nil {
		return report, err
	}

	logger.Info().Stringer("result", report.Result).Msg("mirror complete")
	return report, nil
}

// Clear deletes every destination event in the configured window.
func (m *Mirror) Clear(ctx context.Context) (int, error) {
	if m.config.WindowDays <= 0 {
		return 0, &config.ConfigError{Field: "window_days", Reason: fmt.Sprintf("must be positive, got %d", m.config.WindowDays)}
	}

	window := NewWindow(m.now(), m.config.WindowDays)
	return NewSynchronizer(m.destination, m.metrics).ClearWindow(ctx, m.config.Destination.CalendarID, window)
}

// instrumentedProvider records the latency of every provider call.
type instrumentedProvider struct {
	calendar.Provider
	metrics *metrics.Recorder
}

func instrument(p calendar.Provider, rec *metrics.Recorder) calendar.Provider {
	if rec == nil || p == nil {
		return p
	}
	return &instrumentedProvider{Provider: p, metrics: rec}
}

func (p *instrumentedProvider) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	defer p.metrics.ObserveProviderLatency("list", time.Now())
	return p.Provider.ListEvents(ctx, calendarID, timeMin, timeMax)
}

func (p *instrumentedProvider) InsertEvent(ctx context.Context, calendarID string, draft calendar.EventDraft) (calendar.Event, error) {
	defer p.metrics.ObserveProviderLatency("insert", time.Now())
	return p.Provider.InsertEvent(ctx, calendarID, draft)
}

func (p *instrumentedProvider) UpdateEvent(ctx context.Context, calendarID, eventID string, draft calendar.EventDraft) error {
	defer p.metrics.ObserveProviderLatency("update", time.Now())
	return p.Provider.UpdateEvent(ctx, calendarID, eventID, draft)
}

func (p *instrumentedProvider) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	defer p.metrics.ObserveProviderLatency("delete", time.Now())
	return p.Provider.DeleteEvent(ctx, calendarID, eventID)
}
