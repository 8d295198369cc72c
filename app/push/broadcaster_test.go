package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/flatdario/flat/app/database"
	"github.com/flatdario/flat/app/item"
)

type fakeSender struct {
	sent    map[string][]byte
	results map[string]error
}

func (f *fakeSender) Send(ctx context.Context, subscription string, payload []byte) error {
	if err := f.results[subscription]; err != nil {
		return err
	}
	if f.sent == nil {
		f.sent = make(map[string][]byte)
	}
	f.sent[subscription] = payload
	return nil
}

func subscribe(t *testing.T, subs *database.SubscriptionRepository, endpoint string) string {
	t.Helper()
	payload := fmt.Sprintf(`{"endpoint":%q,"keys":{"auth":"a","p256dh":"b"}}`, endpoint)
	if _, err := subs.Create(context.Background(), payload, "test-agent"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return payload
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	db := database.NewTestDB(t)
	subs := database.NewSubscriptionRepository(db)

	ok := subscribe(t, subs, "https://push.example.com/ok")
	gone := subscribe(t, subs, "https://push.example.com/gone")
	flaky := subscribe(t, subs, "https://push.example.com/flaky")

	sender := &fakeSender{results: map[string]error{
		gone:  fmt.Errorf("%w: 410", ErrGone),
		flaky: errors.New("timeout"),
	}}
	b := NewBroadcaster(subs, database.NewItemRepository(db), sender)

	sent, err := b.Broadcast(ctx, Notification{Title: "hello", Count: 1})
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if sent != 1 {
		t.Errorf("expected 1 delivery, got %d", sent)
	}

	var n Notification
	if err := json.Unmarshal(sender.sent[ok], &n); err != nil || n.Title != "hello" {
		t.Errorf("unexpected payload %s", sender.sent[ok])
	}

	active, _ := subs.ActiveSubscriptions(ctx)
	if len(active) != 2 {
		t.Fatalf("expected expired subscription to be invalidated, got %d active", len(active))
	}
	for _, s := range active {
		switch s.Subscription {
		case ok:
			if s.LastNotification == nil {
				t.Error("successful delivery must be recorded")
			}
		case flaky:
			if s.LastNotification != nil {
				t.Error("failed delivery must not be recorded")
			}
		default:
			t.Errorf("unexpected active subscription %s", s.Subscription)
		}
	}
}

func TestSendMissing(t *testing.T) {
	ctx := context.Background()
	db := database.NewTestDB(t)
	subs := database.NewSubscriptionRepository(db)
	items := database.NewItemRepository(db)

	payload := subscribe(t, subs, "https://push.example.com/one")

	now := time.Now().UTC()
	seed := []item.Item{
		{ID: "before", Type: item.TypeRSS, URL: "https://example.com/before", Title: "before", Timestamp: now.Add(-48 * time.Hour)},
		{ID: "after", Type: item.TypeRSS, URL: "https://example.com/after", Title: "after", Timestamp: now.Add(time.Hour)},
	}
	for _, it := range seed {
		if err := items.Insert(ctx, it); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	sender := &fakeSender{}
	sent, err := NewBroadcaster(subs, items, sender).SendMissing(ctx)
	if err != nil {
		t.Fatalf("SendMissing: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 notification, got %d", sent)
	}

	var n Notification
	if err := json.Unmarshal(sender.sent[payload], &n); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if n.Count != 1 || n.Title != "after" || n.URL != "https://example.com/after" {
		t.Errorf("unexpected notification %+v", n)
	}
}

func TestSummarize(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []item.Item{
		{ID: "2", Type: item.TypeVimeo, Title: "second", URL: "https://v/2", Timestamp: ts.Add(time.Hour)},
		{ID: "1", Type: item.TypeVimeo, Title: "first", URL: "https://v/1", Timestamp: ts},
	}

	if n := Summarize(items); n.Title != "second" || n.Body != "2 new items" || n.Count != 2 {
		t.Errorf("unexpected summary %+v", n)
	}
	if n := Summarize(items[1:]); n.Body != "New Vimeo item" {
		t.Errorf("unexpected single summary %+v", n)
	}
}

func testSubscription(t *testing.T, endpoint string) string {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth := make([]byte, 16)
	rand.Read(auth)

	sub := webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
	data, _ := json.Marshal(sub)
	return string(data)
}

func TestWebPushSender(t *testing.T) {
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys: %v", err)
	}

	tests := []struct {
		name   string
		status int
		gone   bool
		fails  bool
	}{
		{"created", http.StatusCreated, false, false},
		{"gone", http.StatusGone, true, true},
		{"not found", http.StatusNotFound, true, true},
		{"server error", http.StatusInternalServerError, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTTL string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotTTL = r.Header.Get("TTL")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender := NewWebPushSender(public, private, "mailto:test@example.com", srv.Client())
			err := sender.Send(context.Background(), testSubscription(t, srv.URL), []byte(`{"title":"x"}`))

			if (err != nil) != tt.fails {
				t.Fatalf("unexpected error state: %v", err)
			}
			if errors.Is(err, ErrGone) != tt.gone {
				t.Errorf("expected gone=%v, got %v", tt.gone, err)
			}
			if gotTTL == "" {
				t.Error("TTL header must be set")
			}
		})
	}
}

func TestWebPushSenderInvalidSubscription(t *testing.T) {
	sender := NewWebPushSender("pub", "priv", "mailto:x", nil)
	if err := sender.Send(context.Background(), "not json", nil); err == nil {
		t.Error("expected decode error")
	}
	if err := sender.Send(context.Background(), `{"keys":{}}`, nil); err == nil {
		t.Error("expected missing endpoint error")
	}
}
