package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flatdario/flat/app/item"
)

func writeKeys(t *testing.T, dir, kind, name, content string) {
	t.Helper()
	path := filepath.Join(dir, kind, name+".json")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

type pocketCall struct {
	Offset int   `json:"offset"`
	Count  int   `json:"count"`
	Since  int64 `json:"since"`
}

func TestPocketRun(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeKeys(t, dir, "appkeys", "pocket", `{"consumer_key":"ck"}`)
	writeKeys(t, dir, "userkeys", "pocket", `{"access_token":"at"}`)

	var calls []pocketCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/get" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Accept") != "application/json" {
			t.Errorf("missing X-Accept header")
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["access_token"] != "at" || body["state"] != "archive" {
			t.Errorf("unexpected body %v", body)
		}

		var call pocketCall
		raw, _ := json.Marshal(body)
		json.Unmarshal(raw, &call)
		calls = append(calls, call)

		switch call.Offset {
		case 0:
			fmt.Fprint(w, `{"status":1,"list":{
				"200":{"item_id":"200","resolved_url":"https://b.example.com","resolved_title":"B",
					"time_added":"1551690000","time_updated":"1551690000","sort_id":1,"excerpt":"second"},
				"100":{"item_id":"100","resolved_url":"https://a.example.com","resolved_title":"A",
					"time_added":"1551694000","time_updated":"1551694830","sort_id":0,"excerpt":"first",
					"tags":{"go":{"tag":"go"},"db":{"tag":"db"}},
					"images":{"10":{"src":"https://img/10.jpg"},"2":{"src":"https://img/2.jpg"},"1":{"src":"https://img/1.jpg"}}}
			}}`)
		default:
			fmt.Fprint(w, `{"status":2,"list":[]}`)
		}
	}))
	defer srv.Close()

	p := NewPocket(2, KeyStore{Dir: dir}, nil, testFetcher())
	p.BaseURL = srv.URL

	var order []string
	store := newStore(t)
	res := Sync(ctx, p, store, false)
	if res.Err != nil {
		t.Fatalf("Sync: %v", res.Err)
	}
	if res.Added != 2 {
		t.Errorf("expected 2 added, got %d", res.Added)
	}
	if len(calls) != 2 || calls[1].Offset != 2 {
		t.Errorf("expected a second page at offset 2, got %+v", calls)
	}
	if calls[0].Since != 0 {
		t.Errorf("empty store must not send since, got %d", calls[0].Since)
	}

	a, err := store.Get(ctx, "100", item.TypePocket)
	if err != nil || a == nil {
		t.Fatalf("expected article 100: %v", err)
	}
	if !a.Timestamp.Equal(time.Date(2019, 3, 4, 10, 20, 30, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", a.Timestamp)
	}
	images, _ := a.Extra["images"].([]any)
	for _, img := range images {
		order = append(order, img.(string))
	}
	want := []string{"https://img/1.jpg", "https://img/2.jpg", "https://img/10.jpg"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("expected images in key order %v, got %v", want, order)
	}
	tags, _ := a.Extra["tags"].([]any)
	if len(tags) != 2 || tags[0] != "db" {
		t.Errorf("expected sorted tags, got %v", a.Extra["tags"])
	}

	calls = nil
	res = Sync(ctx, p, store, false)
	if res.Err != nil {
		t.Fatalf("second Sync: %v", res.Err)
	}
	if res.Added != 0 || !res.Stopped {
		t.Errorf("expected second run to stop on known item: %+v", res)
	}
	if len(calls) != 1 || calls[0].Since != 1551694830 {
		t.Errorf("expected one call since the newest item, got %+v", calls)
	}
}

func TestPocketRecordsOrder(t *testing.T) {
	resp := pocketResponse{List: json.RawMessage(`{
		"a":{"item_id":"a","sort_id":2},
		"b":{"item_id":"b","sort_id":0},
		"c":{"item_id":"c","sort_id":1}
	}`)}
	records, err := resp.records()
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	var ids []string
	for _, r := range records {
		ids = append(ids, r.ItemID)
	}
	if fmt.Sprint(ids) != "[b c a]" {
		t.Errorf("expected sort_id order, got %v", ids)
	}

	empty := pocketResponse{List: json.RawMessage(`[]`)}
	records, err = empty.records()
	if err != nil || len(records) != 0 {
		t.Errorf("expected empty list, got %v %v", records, err)
	}
}

type fakeAuthorizer struct {
	redirect string
	authURL  string
	values   url.Values
	err      error
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, start StartFunc) (url.Values, error) {
	u, err := start(ctx, f.redirect, "state-1")
	if err != nil {
		return nil, err
	}
	f.authURL = u
	return f.values, f.err
}

func TestPocketAuthorizationFlow(t *testing.T) {
	dir := t.TempDir()
	writeKeys(t, dir, "appkeys", "pocket", `{"consumer_key":"ck"}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/v3/oauth/request":
			if body["redirect_uri"] != "http://localhost:1/?state=state-1" {
				t.Errorf("unexpected redirect %q", body["redirect_uri"])
			}
			fmt.Fprint(w, `{"code":"req-token"}`)
		case "/v3/oauth/authorize":
			if body["code"] != "req-token" {
				t.Errorf("unexpected code %q", body["code"])
			}
			fmt.Fprint(w, `{"access_token":"user-token","username":"dario"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	auth := &fakeAuthorizer{redirect: "http://localhost:1/"}
	keys := KeyStore{Dir: dir}
	p := NewPocket(5, keys, auth, testFetcher())
	p.BaseURL = srv.URL

	consumer, token, err := p.authenticate(context.Background())
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if consumer != "ck" || token != "user-token" {
		t.Errorf("unexpected credentials %q %q", consumer, token)
	}

	var saved pocketUserSecrets
	found, err := keys.LoadUser("pocket", &saved)
	if err != nil || !found || saved.AccessToken != "user-token" {
		t.Errorf("expected token persisted, got %+v found=%v err=%v", saved, found, err)
	}
}

func TestPocketAuthorizationFailure(t *testing.T) {
	dir := t.TempDir()
	writeKeys(t, dir, "appkeys", "pocket", `{"consumer_key":"ck"}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewPocket(5, KeyStore{Dir: dir}, &fakeAuthorizer{}, testFetcher())
	p.BaseURL = srv.URL

	res := Sync(context.Background(), p, newStore(t), false)
	if !errors.Is(res.Err, ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", res.Err)
	}
}
