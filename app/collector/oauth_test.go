package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestKeyStoreRoundTrip(t *testing.T) {
	keys := KeyStore{Dir: t.TempDir()}

	var missing map[string]string
	found, err := keys.LoadUser("nothing", &missing)
	if err != nil || found {
		t.Fatalf("expected no stored token, got found=%v err=%v", found, err)
	}

	if err := keys.SaveUser("svc", map[string]string{"access_token": "t"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	var got map[string]string
	found, err = keys.LoadUser("svc", &got)
	if err != nil || !found || got["access_token"] != "t" {
		t.Errorf("unexpected round trip %v %v %v", got, found, err)
	}

	if _, err := keys.AppSecrets("svc"); !errors.Is(err, ErrAuth) {
		t.Errorf("missing app secrets must be an auth error, got %v", err)
	}
}

func TestBrowserAuthorizerCatchesRedirect(t *testing.T) {
	a := &BrowserAuthorizer{
		Host:  "127.0.0.1",
		Ports: []int{0},
		Out:   &strings.Builder{},
		In:    strings.NewReader(""),
	}
	// The "browser" follows the authorization URL straight to the redirect.
	a.Open = func(authURL string) error {
		go func() {
			u, _ := url.Parse(authURL)
			redirect := u.Query().Get("redirect_uri")
			q := url.Values{"code": {"the-code"}, "state": {u.Query().Get("state")}}
			resp, err := http.Get(redirect + "?" + q.Encode())
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	values, err := a.Authorize(ctx, func(_ context.Context, redirectURI, state string) (string, error) {
		if !strings.HasPrefix(redirectURI, "http://127.0.0.1:") {
			t.Errorf("unexpected redirect %q", redirectURI)
		}
		return "https://provider.example.com/auth?" + url.Values{
			"redirect_uri": {redirectURI},
			"state":        {state},
		}.Encode(), nil
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if values.Get("code") != "the-code" {
		t.Errorf("expected code, got %v", values)
	}
}

func TestBrowserAuthorizerManualFallback(t *testing.T) {
	a := &BrowserAuthorizer{
		Host: "127.0.0.1",
		Out:  &strings.Builder{},
		In:   strings.NewReader("pasted-code\n"),
	}

	values, err := a.Authorize(context.Background(), func(_ context.Context, redirectURI, state string) (string, error) {
		if redirectURI != "" {
			t.Errorf("expected no redirect without a listener, got %q", redirectURI)
		}
		return "https://provider.example.com/auth", nil
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if values.Get("code") != "pasted-code" {
		t.Errorf("expected pasted code, got %v", values)
	}
}

func TestOAuth2SourceExchangesAndPersists(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "abc" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"bearer"}`)
	}))
	defer tokenSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer apiSrv.Close()

	keys := KeyStore{Dir: t.TempDir()}
	src := &OAuth2Source{
		Name: "svc",
		Config: &oauth2.Config{
			ClientID: "id",
			Endpoint: oauth2.Endpoint{AuthURL: tokenSrv.URL + "/auth", TokenURL: tokenSrv.URL + "/token"},
		},
		Keys:       keys,
		Authorizer: &fakeAuthorizer{redirect: "http://localhost:1/", values: url.Values{"code": {"abc"}}},
	}

	client, err := src.Client(context.Background())
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	resp, err := client.Get(apiSrv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected authorized request, got %d", resp.StatusCode)
	}

	var saved oauth2.Token
	found, err := keys.LoadUser("svc", &saved)
	if err != nil || !found || saved.AccessToken != "fresh" {
		t.Errorf("expected persisted token, got %+v %v %v", saved, found, err)
	}
}

func TestBrowserAuthorizerManualFallbackHonoursContext(t *testing.T) {
	// Hold the only configured port so the terminal fallback is used.
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	stdin, stdinWriter := io.Pipe()
	defer stdinWriter.Close()

	a := &BrowserAuthorizer{
		Host:  "127.0.0.1",
		Ports: []int{busy.Addr().(*net.TCPAddr).Port},
		Out:   &strings.Builder{},
		In:    stdin,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := a.Authorize(ctx, func(context.Context, string, string) (string, error) {
			return "https://provider.example.com/auth", nil
		})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Authorize kept waiting on the terminal after its context expired")
	}
}

func TestDefaultAuthPortsAvoidAPIPort(t *testing.T) {
	for _, port := range DefaultAuthPorts {
		if port == 8080 {
			t.Errorf("authorization listener must not use the API port %d", port)
		}
	}
}

func TestOAuth2SourceWithoutAuthorizer(t *testing.T) {
	src := &OAuth2Source{
		Name:   "svc",
		Config: &oauth2.Config{},
		Keys:   KeyStore{Dir: t.TempDir()},
	}

	if _, err := src.Client(context.Background()); !errors.Is(err, ErrAuth) {
		t.Errorf("expected ErrAuth without a stored token, got %v", err)
	}
}

func TestOAuth2SourceExchangeFailure(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer tokenSrv.Close()

	src := &OAuth2Source{
		Name:       "svc",
		Config:     &oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: tokenSrv.URL}},
		Keys:       KeyStore{Dir: t.TempDir()},
		Authorizer: &fakeAuthorizer{values: url.Values{"code": {"abc"}}},
	}

	if _, err := src.Client(context.Background()); !errors.Is(err, ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}
