package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Provider produces an authenticated session from a persisted credential,
// refreshing or re-acquiring it as needed.
type Provider struct {
	OAuth *oauth2.Config
	Store TokenStore

	// Acquirer runs the consent flow. Nil means the run is headless and any
	// state that needs a fresh grant fails with an *AuthError.
	Acquirer CredentialAcquirer

	// Now defaults to time.Now.
	Now func() time.Time
}

// Session is an authenticated HTTP client plus the state the credential was
// found in.
type Session struct {
	Client *http.Client
	Token  *oauth2.Token
	State  CredentialState
}

// ObtainSession loads the stored token and drives it to Valid:
//
//	Absent               -> acquire, persist
//	ExpiredRefreshable   -> refresh, persist (rejected refresh -> ExpiredUnrefreshable)
//	ExpiredUnrefreshable -> acquire, persist
//	Valid                -> use
func (p *Provider) ObtainSession(ctx context.Context) (*Session, error) {
	logger := zerolog.Ctx(ctx)

	token, err := p.Store.LoadToken()
	if err != nil {
		return nil, &AuthError{Op: "load", Err: err}
	}

	initial := ClassifyToken(token, p.now())
	state := initial
	logger.Debug().Stringer("state", state).Msg("loaded credential")

	if state == ExpiredRefreshable {
		refreshed, err := p.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: token.RefreshToken}).Token()
		switch {
		case err == nil:
			if err := p.Store.SaveToken(refreshed); err != nil {
				return nil, &AuthError{Op: "save", Err: err}
			}
			logger.Info().Msg("refreshed credential")
			token, state = refreshed, Valid
		case isRevoked(err):
			logger.Warn().Err(err).Msg("refresh token rejected, a new authorization is required")
			state = ExpiredUnrefreshable
		default:
			return nil, &AuthError{Op: "refresh", Err: err}
		}
	}

	if state == Absent || state == ExpiredUnrefreshable {
		if p.Acquirer == nil {
			return nil, &AuthError{Op: "acquire", Err: fmt.Errorf("credential is %s: %w", state, ErrNoAcquirer)}
		}

		token, err = p.Acquirer.Acquire(ctx, p.OAuth)
		if err != nil {
			return nil, &AuthError{Op: "acquire", Err: err}
		}
		if err := p.Store.SaveToken(token); err != nil {
			return nil, &AuthError{Op: "save", Err: err}
		}
		logger.Info().Msg("authorization successful")
	}

	// Wrap the token source to auto-save refreshed tokens
	source := &autoSaveTokenSource{
		source:     oauth2.ReuseTokenSource(token, p.OAuth.TokenSource(ctx, token)),
		tokenStore: p.Store,
		lastToken:  token,
	}

	return &Session{
		Client: oauth2.NewClient(ctx, source),
		Token:  token,
		State:  initial,
	}, nil
}

func (p *Provider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// isRevoked reports whether the token endpoint refused the refresh token
// itself, as opposed to a transport failure.
func isRevoked(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}
	switch retrieveErr.ErrorCode {
	case "invalid_grant", "unauthorized_client":
		return true
	}
	return retrieveErr.Response != nil &&
		(retrieveErr.Response.StatusCode == http.StatusBadRequest || retrieveErr.Response.StatusCode == http.StatusUnauthorized)
}

// autoSaveTokenSource wraps an oauth2.TokenSource and automatically saves refreshed tokens.
type autoSaveTokenSource struct {
	mu         sync.Mutex
	source     oauth2.TokenSource
	tokenStore TokenStore
	lastToken  *oauth2.Token
}

// Token implements oauth2.TokenSource and saves the token if it was refreshed.
func (a *autoSaveTokenSource) Token() (*oauth2.Token, error) {
	token, err := a.source.Token()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastToken == nil || a.lastToken.AccessToken != token.AccessToken {
		if err := a.tokenStore.SaveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		a.lastToken = token
	}

	return token, nil
}
