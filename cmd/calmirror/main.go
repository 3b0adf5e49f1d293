package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/beekhof/calmirror/internal/auth"
	"github.com/beekhof/calmirror/internal/calendar"
	"github.com/beekhof/calmirror/internal/config"
	"github.com/beekhof/calmirror/internal/logging"
)

const description = `Mirror events from one calendar into another.

Lists the source calendar's events from now over the next window_days days,
optionally renames titles through rename_table (e.g. "A Block" -> "Photography 1"),
then replaces (or reconciles) the same window in the destination calendar.

IMPORTANT: with the default "replace" strategy every event in the destination
window is deleted before the copies are inserted. Use a dedicated calendar.

Configuration precedence (highest to lowest): flags, environment variables
(CALMIRROR_TOKEN_PATH, GOOGLE_CREDENTIALS_PATH, CALMIRROR_SOURCE_CALENDAR,
CALMIRROR_DESTINATION_CALENDAR, CALMIRROR_WINDOW_DAYS, CALMIRROR_METRICS_FILE,
CALDAV_PASSWORD), config file, defaults.`

// Globals are flags shared by every command.
type Globals struct {
	Config                string `help:"Path to YAML or JSON config file." short:"c" type:"path"`
	Verbose               bool   `help:"Enable verbose output (show DEBUG logs)." short:"v"`
	TokenPath             string `name:"token-path" help:"Path to store the OAuth token (overrides config file and CALMIRROR_TOKEN_PATH)."`
	GoogleCredentialsPath string `name:"google-credentials-path" help:"Path to Google OAuth credentials JSON file (overrides config file and GOOGLE_CREDENTIALS_PATH)."`
	SourceCalendar        string `name:"source-calendar" help:"Source calendar ID."`
	DestinationCalendar   string `name:"destination-calendar" help:"Destination calendar ID (CalDAV: collection path)."`
	WindowDays            int    `name:"window-days" help:"Number of days to mirror, starting now."`
	MetricsFile           string `name:"metrics-file" help:"Write Prometheus metrics to this textfile after the run."`
}

func (g *Globals) overrides() config.Overrides {
	return config.Overrides{
		TokenPath:             g.TokenPath,
		GoogleCredentialsPath: g.GoogleCredentialsPath,
		SourceCalendarID:      g.SourceCalendar,
		DestinationCalendarID: g.DestinationCalendar,
		WindowDays:            g.WindowDays,
		MetricsFile:           g.MetricsFile,
	}
}

type CLI struct {
	Globals `embed:""`

	Run   RunCmd   `cmd:"" default:"withargs" help:"Mirror source events into the destination calendar (default)."`
	Count CountCmd `cmd:"" help:"Print the number of source events in the next 24 hours."`
	Clear ClearCmd `cmd:"" help:"Delete every destination event in the window."`
	Auth  AuthCmd  `cmd:"" help:"Obtain or refresh the OAuth credential and print its state."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("calmirror"),
		kong.Description(description),
		kong.UsageOnError(),
	)

	logger := logging.New(os.Stderr, cli.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = logger.WithContext(ctx)
	kctx.BindTo(ctx, (*context.Context)(nil))

	err := kctx.Run(&cli.Globals)
	stop()
	if err != nil {
		logger.Error().Err(err).Str("kind", errorKind(err)).Msg("calmirror failed")
		os.Exit(1)
	}
}

// errorKind names the failure class for the log line.
func errorKind(err error) string {
	var cfgErr *config.ConfigError
	var authErr *auth.AuthError
	var providerErr *calendar.ProviderError
	switch {
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &providerErr):
		return "provider"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
