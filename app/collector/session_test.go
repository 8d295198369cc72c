package collector

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/flatdario/flat/app/database"
	"github.com/flatdario/flat/app/item"
)

func newStore(t *testing.T) *database.ItemRepository {
	t.Helper()
	return database.NewItemRepository(database.NewTestDB(t))
}

type staticClient struct {
	client *http.Client
	err    error
}

func (s staticClient) Client(context.Context) (*http.Client, error) {
	return s.client, s.err
}

func testFetcher() *Fetcher {
	return NewFetcher(http.DefaultClient, "flat-test", 5*time.Second)
}

func rssItem(id string, ts time.Time) item.Item {
	return item.Item{
		ID:        id,
		Type:      item.TypeRSS,
		URL:       "https://example.com/" + id,
		Title:     id,
		Timestamp: ts,
	}
}

func TestSessionStopsOnDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, rssItem("old", ts)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewSession(store, "test", Params{})
	stop, err := s.Save(ctx, rssItem("new", ts.Add(time.Hour)))
	if err != nil || stop {
		t.Fatalf("expected new item to be saved, got stop=%v err=%v", stop, err)
	}

	stop, err = s.Save(ctx, rssItem("old", ts))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !stop {
		t.Fatal("expected stop on known item")
	}
	if s.StoppedAt == nil || s.StoppedAt.ID != "old" {
		t.Errorf("expected stop at old, got %v", s.StoppedAt)
	}

	stop, _ = s.Save(ctx, rssItem("later", ts))
	if !stop {
		t.Error("a stopped session must keep refusing records")
	}
	if s.Added != 1 {
		t.Errorf("expected 1 added, got %d", s.Added)
	}
}

func TestSessionRefreshUpdates(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	ts := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, rssItem("a", ts)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewSession(store, "test", Params{Refresh: true})
	for _, it := range []item.Item{rssItem("a", ts), rssItem("b", ts)} {
		stop, err := s.Save(ctx, it)
		if err != nil || stop {
			t.Fatalf("refresh must never stop: stop=%v err=%v", stop, err)
		}
	}
	if s.Added != 1 || s.Updated != 1 {
		t.Errorf("expected 1 added and 1 updated, got %d/%d", s.Added, s.Updated)
	}
}

func TestSessionResumeCursor(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	cursor := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

	s := NewSession(store, "test", Params{Since: &cursor})

	stop, err := s.Save(ctx, rssItem("newer", cursor.Add(time.Minute)))
	if err != nil || stop {
		t.Fatalf("expected newer item saved: stop=%v err=%v", stop, err)
	}
	stop, err = s.Save(ctx, rssItem("same", cursor))
	if err != nil || stop {
		t.Fatalf("an unknown item at the cursor must still be saved: stop=%v err=%v", stop, err)
	}
	stop, err = s.Save(ctx, rssItem("older", cursor.Add(-time.Minute)))
	if err != nil || !stop {
		t.Fatalf("expected stop before cursor: stop=%v err=%v", stop, err)
	}

	got, err := store.Get(ctx, "older", item.TypeRSS)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Error("records older than the cursor must not be written")
	}
}

func TestSessionCursorTie(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	cursor := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

	// The newest stored item defines the cursor.
	if err := store.Insert(ctx, rssItem("stored", cursor)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name  string
		id    string
		stop  bool
		added int
	}{
		// Several records may share the cursor timestamp, so a new one is kept.
		{"new record at cursor", "sibling", false, 1},
		{"stored record at cursor", "stored", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(store, "test", Params{Since: &cursor})
			stop, err := s.Save(ctx, rssItem(tt.id, cursor))
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			if stop != tt.stop {
				t.Errorf("expected stop=%v, got %v", tt.stop, stop)
			}
			if s.Added != tt.added {
				t.Errorf("expected %d added, got %d", tt.added, s.Added)
			}
		})
	}
}

func TestSessionSkipsMalformed(t *testing.T) {
	ctx := context.Background()
	s := NewSession(newStore(t), "test", Params{})

	stop, err := s.Save(ctx, item.Item{ID: "x", Type: item.TypeRSS, URL: "https://x"})
	if err != nil || stop {
		t.Fatalf("malformed record must be skipped: stop=%v err=%v", stop, err)
	}
	if s.Skipped != 1 || s.Added != 0 {
		t.Errorf("expected 1 skipped, got skipped=%d added=%d", s.Skipped, s.Added)
	}
}

type fakeCollector struct {
	items  []item.Item
	err    error
	params Params
}

func (f *fakeCollector) Name() string    { return "fake" }
func (f *fakeCollector) Type() item.Type { return item.TypeRSS }

func (f *fakeCollector) InitialParameters(ctx context.Context, store Store, refresh bool) (Params, error) {
	p, err := cursorParams(ctx, store, item.TypeRSS, refresh)
	f.params = p
	return p, err
}

func (f *fakeCollector) Run(ctx context.Context, s *Session) error {
	for _, it := range f.items {
		stop, err := s.Save(ctx, it)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return f.err
}

func TestSyncIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	base := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &fakeCollector{items: []item.Item{
		rssItem("c", base.Add(2*time.Hour)),
		rssItem("b", base.Add(time.Hour)),
		rssItem("a", base),
	}}

	first := Sync(ctx, c, store, false)
	if first.Err != nil || first.Added != 3 {
		t.Fatalf("first run: %+v", first)
	}
	before, _ := store.All(ctx)

	second := Sync(ctx, c, store, false)
	if second.Err != nil || second.Added != 0 || !second.Stopped {
		t.Fatalf("second run must add nothing and stop: %+v", second)
	}
	if c.params.Since == nil || !c.params.Since.Equal(base.Add(2*time.Hour)) {
		t.Errorf("expected resume cursor at newest item, got %v", c.params.Since)
	}

	after, _ := store.All(ctx)
	if len(before) != len(after) {
		t.Fatalf("store changed: %d vs %d items", len(before), len(after))
	}
	for i := range before {
		if before[i].Key() != after[i].Key() || before[i].Title != after[i].Title {
			t.Errorf("item %d changed", i)
		}
	}
}

func TestSyncReportsErrors(t *testing.T) {
	boom := errors.New("boom")
	res := Sync(context.Background(), &fakeCollector{err: boom}, newStore(t), true)
	if !errors.Is(res.Err, boom) {
		t.Errorf("expected error in result, got %v", res.Err)
	}
}
