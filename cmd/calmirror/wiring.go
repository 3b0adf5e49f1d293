package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/term"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/beekhof/calmirror/internal/auth"
	"github.com/beekhof/calmirror/internal/calendar"
	"github.com/beekhof/calmirror/internal/config"
)

// newOAuthConfig builds the Google OAuth client from the client secret file.
// RedirectURL is filled in by the acquirer.
func newOAuthConfig(cfg *config.Config) (*oauth2.Config, error) {
	clientID, clientSecret, err := config.LoadGoogleCredentials(cfg.GoogleCredentialsPath)
	if err != nil {
		return nil, err
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gcal.CalendarScope},
		Endpoint:     google.Endpoint,
	}, nil
}

func newTokenStore(cfg *config.Config, tokenPath string) (auth.TokenStore, error) {
	if cfg.TokenStore == config.TokenStoreKeyring {
		key, err := keyringKey(tokenPath)
		if err != nil {
			return nil, err
		}
		return auth.OpenKeyringTokenStore(cfg.KeyringService, key)
	}
	return auth.NewFileTokenStore(tokenPath), nil
}

// keyringKey names a keyring item after the absolute token path, so two
// accounts never share an item.
func keyringKey(tokenPath string) (string, error) {
	abs, err := filepath.Abs(tokenPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve token path %q: %w", tokenPath, err)
	}
	return abs, nil
}

// newAcquirer picks the consent flow for auth_mode. A nil acquirer makes any
// missing or revoked credential a hard error.
func newAcquirer(mode string, stdin *os.File, out io.Writer) auth.CredentialAcquirer {
	switch mode {
	case config.AuthModeBrowser:
		return &auth.LoopbackAcquirer{Out: out}
	case config.AuthModeManual:
		return &auth.PasteAcquirer{In: stdin, Out: out}
	case config.AuthModeNone:
		return nil
	default:
		if stdin != nil && term.IsTerminal(int(stdin.Fd())) {
			return &auth.LoopbackAcquirer{Out: out}
		}
		return nil
	}
}

func obtainSession(ctx context.Context, cfg *config.Config, oauthConfig *oauth2.Config, tokenPath string) (*auth.Session, error) {
	store, err := newTokenStore(cfg, tokenPath)
	if err != nil {
		return nil, &auth.AuthError{Op: "load", Err: err}
	}

	provider := &auth.Provider{
		OAuth:    oauthConfig,
		Store:    store,
		Acquirer: newAcquirer(cfg.AuthMode, os.Stdin, os.Stderr),
	}
	return provider.ObtainSession(ctx)
}

// sessions holds the authenticated sessions of one invocation.
type sessions struct {
	source      *auth.Session
	destination *auth.Session // nil unless the destination uses its own Google account
}

func authenticate(ctx context.Context, cfg *config.Config) (*sessions, error) {
	oauthConfig, err := newOAuthConfig(cfg)
	if err != nil {
		return nil, err
	}

	source, err := obtainSession(ctx, cfg, oauthConfig, cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate source account: %w", err)
	}
	s := &sessions{source: source}

	if cfg.Destination.Type == config.DestinationGoogle && cfg.Destination.TokenPath != "" {
		s.destination, err = obtainSession(ctx, cfg, oauthConfig, cfg.Destination.TokenPath)
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate destination account: %w", err)
		}
	}

	return s, nil
}

// newProviders authenticates and builds the source and destination providers.
func newProviders(ctx context.Context, cfg *config.Config) (source, destination calendar.Provider, err error) {
	s, err := authenticate(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	sourceClient, err := calendar.NewClient(ctx, s.source.Client)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case cfg.Destination.Type == config.DestinationCalDAV:
		zerolog.Ctx(ctx).Debug().Str("server", cfg.Destination.ServerURL).Msg("using CalDAV destination")
		destination = calendar.NewCalDAVClient(cfg.Destination.ServerURL, cfg.Destination.Username, cfg.Destination.Password, nil)
	case s.destination != nil:
		destination, err = calendar.NewClient(ctx, s.destination.Client)
		if err != nil {
			return nil, nil, err
		}
	default:
		destination = sourceClient
	}

	return sourceClient, destination, nil
}
