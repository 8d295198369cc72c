package collector

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"golang.org/x/oauth2"
)

// KeyStore reads application secrets from <dir>/appkeys and keeps user
// tokens in <dir>/userkeys, one JSON file per source.
type KeyStore struct {
	Dir string
}

func (k KeyStore) appPath(name string) string {
	return filepath.Join(k.Dir, "appkeys", name+".json")
}

func (k KeyStore) userPath(name string) string {
	return filepath.Join(k.Dir, "userkeys", name+".json")
}

// AppSecrets returns the raw application secrets file of a source.
func (k KeyStore) AppSecrets(name string) ([]byte, error) {
	data, err := os.ReadFile(k.appPath(name))
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read the API secrets for %s: %v", ErrAuth, name, err)
	}
	return data, nil
}

// LoadUser decodes the stored user token into v. It reports false when no
// token was stored yet.
func (k KeyStore) LoadUser(name string, v any) (bool, error) {
	data, err := os.ReadFile(k.userPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read user secrets for %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode user secrets for %s: %w", name, err)
	}
	return true, nil
}

func (k KeyStore) SaveUser(name string, v any) error {
	path := k.userPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create user keys directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode user secrets for %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write user secrets for %s: %w", name, err)
	}

	slog.Debug("User secrets saved", "source", name, "path", path)
	return nil
}

// StartFunc prepares the authorization step for a redirect target and returns
// the URL the user must visit. redirectURI is empty when no local listener
// could be bound.
type StartFunc func(ctx context.Context, redirectURI, state string) (string, error)

// Authorizer obtains the user's consent and returns the parameters the
// provider passed back on the redirect.
type Authorizer interface {
	Authorize(ctx context.Context, start StartFunc) (url.Values, error)
}

// DefaultAuthPorts are the loopback ports tried for the redirect listener.
// They stay clear of the default API port.
var DefaultAuthPorts = []int{8090, 8091}

// BrowserAuthorizer opens the authorization URL in the browser and catches the
// redirect on a loopback listener. When none of the ports can be bound it
// falls back to asking the user on the terminal.
type BrowserAuthorizer struct {
	Host  string
	Ports []int
	Open  func(url string) error
	In    io.Reader
	Out   io.Writer
}

func NewBrowserAuthorizer() *BrowserAuthorizer {
	return &BrowserAuthorizer{
		Host:  "localhost",
		Ports: DefaultAuthPorts,
		Open:  browser.OpenURL,
		In:    os.Stdin,
		Out:   os.Stderr,
	}
}

func (a *BrowserAuthorizer) Authorize(ctx context.Context, start StartFunc) (url.Values, error) {
	state := uuid.NewString()

	listener := a.listen()
	if listener == nil {
		slog.Warn("Unable to start a local webserver to receive the authorization response")
		return a.manual(ctx, start, state)
	}
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	redirectURI := "http://" + net.JoinHostPort(a.Host, strconv.Itoa(port)) + "/"

	authURL, err := start(ctx, redirectURI, state)
	if err != nil {
		return nil, err
	}

	result := make(chan url.Values, 1)
	var once sync.Once
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			if query.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Authorization received, you can close this window.")
			once.Do(func() { result <- query })
		}),
	}
	go srv.Serve(listener)
	defer srv.Close()

	a.open(authURL)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case query := <-result:
		if msg := query.Get("error"); msg != "" {
			return nil, fmt.Errorf("%w: provider returned %s", ErrAuth, msg)
		}
		return query, nil
	}
}

func (a *BrowserAuthorizer) listen() net.Listener {
	for _, port := range a.Ports {
		l, err := net.Listen("tcp", net.JoinHostPort(a.Host, strconv.Itoa(port)))
		if err == nil {
			return l
		}
		slog.Debug("Cannot bind authorization listener", "port", port, "error", err)
	}
	return nil
}

func (a *BrowserAuthorizer) open(authURL string) {
	fmt.Fprintf(a.Out, "Authorize access at:\n  %s\n", authURL)
	if a.Open == nil {
		return
	}
	if err := a.Open(authURL); err != nil {
		slog.Warn("Failed to open browser", "error", err)
	}
}

// manual asks the user to confirm on the terminal. A pasted value is passed
// back as the authorization code.
func (a *BrowserAuthorizer) manual(ctx context.Context, start StartFunc, state string) (url.Values, error) {
	authURL, err := start(ctx, "", state)
	if err != nil {
		return nil, err
	}
	a.open(authURL)

	fmt.Fprint(a.Out, "When authorized paste the code (or press enter) to continue: ")

	type answer struct {
		line string
		err  error
	}
	answers := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(a.In).ReadString('\n')
		answers <- answer{line, err}
	}()

	var line string
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ans := <-answers:
		if ans.err != nil && !errors.Is(ans.err, io.EOF) {
			return nil, fmt.Errorf("%w: failed to read confirmation: %v", ErrAuth, ans.err)
		}
		line = ans.line
	}

	values := url.Values{}
	if code := strings.TrimSpace(line); code != "" {
		values.Set("code", code)
	}
	return values, nil
}

// OAuth2Source hands out HTTP clients authorized through a standard OAuth2
// code flow. Tokens are persisted in the key store and refreshed tokens are
// written back.
type OAuth2Source struct {
	Name       string
	Config     *oauth2.Config
	Keys       KeyStore
	Authorizer Authorizer
	// HTTPClient is used for the token endpoint and as transport of the
	// authorized client.
	HTTPClient *http.Client
}

func (s *OAuth2Source) Client(ctx context.Context) (*http.Client, error) {
	if s.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.HTTPClient)
	}

	var token oauth2.Token
	found, err := s.Keys.LoadUser(s.Name, &token)
	if err != nil {
		return nil, err
	}

	if !found || (token.AccessToken == "" && token.RefreshToken == "") {
		fresh, err := s.authorize(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.Keys.SaveUser(s.Name, fresh); err != nil {
			return nil, err
		}
		token = *fresh
	}

	ts := &persistingTokenSource{
		name:  s.Name,
		keys:  s.Keys,
		src:   s.Config.TokenSource(ctx, &token),
		token: token.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(&token, ts)), nil
}

func (s *OAuth2Source) authorize(ctx context.Context) (*oauth2.Token, error) {
	if s.Authorizer == nil {
		return nil, fmt.Errorf("%w: no stored token for %s", ErrAuth, s.Name)
	}

	var redirect string
	values, err := s.Authorizer.Authorize(ctx, func(_ context.Context, redirectURI, state string) (string, error) {
		redirect = redirectURI
		cfg := *s.Config
		cfg.RedirectURL = redirectURI
		return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s authorization: %v", ErrAuth, s.Name, err)
	}

	code := values.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: %s returned no authorization code", ErrAuth, s.Name)
	}

	cfg := *s.Config
	cfg.RedirectURL = redirect
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s token exchange: %v", ErrAuth, s.Name, err)
	}

	slog.Info("Authorized", "source", s.Name)
	return token, nil
}

// persistingTokenSource writes refreshed tokens back to the key store.
type persistingTokenSource struct {
	mu    sync.Mutex
	name  string
	keys  KeyStore
	src   oauth2.TokenSource
	token string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	t, err := p.src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %s token refresh: %v", ErrAuth, p.name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t.AccessToken != p.token {
		if err := p.keys.SaveUser(p.name, t); err != nil {
			slog.Warn("Failed to persist refreshed token", "source", p.name, "error", err)
		}
		p.token = t.AccessToken
	}
	return t, nil
}
