package auth

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultLoopbackAddr = "127.0.0.1:8080"
	defaultRedirectURL  = "http://127.0.0.1:8080"
	defaultAuthTimeout  = 5 * time.Minute
)

// CredentialAcquirer obtains a brand new token through a consent flow.
type CredentialAcquirer interface {
	Acquire(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error)
}

// LoopbackAcquirer runs the browser flow and receives the authorization code
// on a local HTTP server.
type LoopbackAcquirer struct {
	// Addr is tried first; a random port is used if it is taken.
	Addr        string
	Timeout     time.Duration
	OpenBrowser func(url string) error
	Out         io.Writer
}

func (a *LoopbackAcquirer) Acquire(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	addr := a.Addr
	if addr == "" {
		addr = defaultLoopbackAddr
	}
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}
	out := a.Out
	if out == nil {
		out = os.Stderr
	}
	open := a.OpenBrowser
	if open == nil {
		open = openBrowser
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		// Fall back to random port if the preferred one is in use
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to start local server: %w", err)
		}
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	cfg := *config
	cfg.RedirectURL = redirectURL

	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)

	server := &http.Server{
		Handler:      callbackHandler(state, codeChan, errorChan),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Second,
	}
	defer server.Close()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errorChan <- fmt.Errorf("server error: %w", err):
			default:
			}
		}
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Fprintf(out, "Starting local server on %s\n", redirectURL)
	if redirectURL != defaultRedirectURL {
		fmt.Fprintf(out, "Note: %s was unavailable. Make sure %s is an authorized redirect URI in Google Cloud Console.\n", addr, redirectURL)
	}
	fmt.Fprintln(out, "\nPlease visit the following URL to authorize the application:")
	fmt.Fprintln(out, authURL)
	fmt.Fprintln(out, "\nWaiting for authorization...")
	_ = open(authURL)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var code string
	select {
	case code = <-codeChan:
	case err := <-errorChan:
		return nil, fmt.Errorf("failed to receive authorization code: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("authorization timeout: %w", ctx.Err())
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	return token, nil
}

func callbackHandler(state string, codeChan chan<- string, errorChan chan<- error) http.Handler {
	send := func(err error) {
		select {
		case errorChan <- err:
		default:
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		q := r.URL.Query()
		if errMsg := q.Get("error"); errMsg != "" {
			send(fmt.Errorf("authorization error: %s", errMsg))
			fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>Error: %s</p></body></html>", errMsg)
			return
		}
		if q.Get("state") != state {
			send(errors.New("state mismatch"))
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "<html><body><h1>State mismatch</h1></body></html>")
			return
		}
		code := q.Get("code")
		if code == "" {
			send(errors.New("no authorization code received"))
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "<html><body><h1>No authorization code received</h1></body></html>")
			return
		}

		select {
		case codeChan <- code:
		default:
		}
		fmt.Fprint(w, "<html><body><h1>Authorization successful!</h1><p>You can close this window.</p></body></html>")
	})
}

// PasteAcquirer prints the consent URL and reads back either the bare code or
// the whole redirect URL. It needs no local listener, so it works over SSH.
type PasteAcquirer struct {
	In  io.Reader
	Out io.Writer
}

func (a *PasteAcquirer) Acquire(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	out := a.Out
	if out == nil {
		out = os.Stderr
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	cfg := *config
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = defaultRedirectURL
	}

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(out, "Please visit the following URL to authorize the application:")
	fmt.Fprintln(out, authURL)
	fmt.Fprintln(out, "\nAfter authorizing, your browser is redirected to a local URL that may not load.")
	fmt.Fprint(out, "Paste that URL (or just the code) here: ")

	line, err := bufio.NewReader(a.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}

	code, err := parsePastedCode(strings.TrimSpace(line), state)
	if err != nil {
		return nil, err
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	return token, nil
}

// parsePastedCode accepts a bare code or a redirect URL carrying code and state.
func parsePastedCode(input, state string) (string, error) {
	if input == "" {
		return "", errors.New("no authorization code entered")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	parsed, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	q := parsed.Query()
	code := q.Get("code")
	if code == "" {
		return "", errors.New("no code found in URL")
	}
	if got := q.Get("state"); got != "" && got != state {
		return "", errors.New("state mismatch")
	}
	return code, nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func openBrowser(u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}
	return cmd.Start()
}
