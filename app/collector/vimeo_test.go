package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flatdario/flat/app/item"
)

func TestVimeoRun(t *testing.T) {
	ctx := context.Background()
	var pages []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages = append(pages, r.URL.RequestURI())
		switch r.URL.Query().Get("page") {
		case "":
			fmt.Fprint(w, `{"data":[
				{"uri":"/videos/2","name":"Second like","link":"https://vimeo.com/2","description":"d2",
				 "pictures":{"sizes":[{"width":100,"link":"p0"},{"width":200,"link":"p1"},{"width":640,"link":"p2"}]},
				 "tags":[{"name":"music"}],
				 "metadata":{"interactions":{"like":{"added":true,"added_time":"2019-03-04T10:20:30+00:00"}}}},
				{"uri":"/videos/1","name":"First like","link":"https://vimeo.com/1","description":"d1",
				 "pictures":{"sizes":[]},"tags":[],
				 "metadata":{"interactions":{"like":{"added":true,"added_time":"2019-03-03T10:20:30+00:00"}}}}
			],"paging":{"next":"/me/likes?page=2&per_page=2"}}`)
		case "2":
			fmt.Fprint(w, `{"data":[
				{"uri":"/videos/0","name":"Oldest","link":"https://vimeo.com/0",
				 "metadata":{"interactions":{"like":{"added":true,"added_time":"2019-03-01T10:20:30+00:00"}}}}
			],"paging":{"next":null}}`)
		default:
			t.Errorf("unexpected page %s", r.URL)
		}
	}))
	defer srv.Close()

	v := NewVimeo(2, staticClient{client: srv.Client()}, testFetcher())
	v.BaseURL = srv.URL

	store := newStore(t)
	res := Sync(ctx, v, store, false)
	if res.Err != nil {
		t.Fatalf("Sync: %v", res.Err)
	}
	if res.Added != 3 || len(pages) != 2 {
		t.Errorf("expected 3 added over 2 pages, got %d over %v", res.Added, pages)
	}

	got, err := store.Get(ctx, "/videos/2", item.TypeVimeo)
	if err != nil || got == nil {
		t.Fatalf("expected /videos/2: %v", err)
	}
	if got.Title != "Second like" || got.URL != "https://vimeo.com/2" {
		t.Errorf("unexpected item %+v", got)
	}
	if tags, _ := got.Extra["tags"].([]any); len(tags) != 1 || tags[0] != "music" {
		t.Errorf("unexpected tags %v", got.Extra["tags"])
	}

	pages = nil
	res = Sync(ctx, v, store, false)
	if res.Added != 0 || !res.Stopped || len(pages) != 1 {
		t.Errorf("expected immediate stop on the newest like: %+v pages=%v", res, pages)
	}
}
