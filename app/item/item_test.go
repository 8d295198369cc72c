package item

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2019, 3, 4, 10, 20, 30, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"epoch string", "1551694830", want},
		{"iso with Z", "2019-03-04T10:20:30Z", want},
		{"iso with fraction", "2019-03-04T10:20:30.250Z", want.Add(250 * time.Millisecond)},
		{"iso with offset", "2019-03-04T11:20:30+01:00", want},
		{"pocket style", "2019-03-04T10:20:30+00:00Z", want},
		{"naive iso", "2019-03-04T10:20:30", want},
		{"tumblr gmt", "2019-03-04 10:20:30 GMT", want},
		{"rfc1123", "Mon, 04 Mar 2019 10:20:30 GMT", want},
		{"rfc1123z", "Mon, 04 Mar 2019 12:20:30 +0200", want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if got.Location() != time.UTC {
				t.Errorf("expected UTC location, got %v", got.Location())
			}
		})
	}
}

func TestParseTimestampInvalid(t *testing.T) {
	for _, input := range []string{"", "   ", "not a date at all"} {
		if _, err := ParseTimestamp(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestSetExtraCollisionRule(t *testing.T) {
	it := Item{ID: "1", Type: TypeTumblr}
	it.SetExtra("type", "photo")
	it.SetExtra("tags", []string{"a", "b"})
	it.SetExtra("empty", "")
	it.SetExtra("none", nil)

	if it.Type != TypeTumblr {
		t.Errorf("fixed schema type must win, got %q", it.Type)
	}
	if it.Extra["tumblr_type"] != "photo" {
		t.Errorf("expected raw type aliased to tumblr_type, got %v", it.Extra)
	}
	if _, ok := it.Extra["type"]; ok {
		t.Error("raw type must not be stored under the schema name")
	}
	if _, ok := it.Extra["tags"]; !ok {
		t.Error("expected tags in extra")
	}
	if len(it.Extra) != 2 {
		t.Errorf("expected empty values to be dropped, got %v", it.Extra)
	}
}

func TestNormalize(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	it := Normalize(Item{
		ID:        " abc ",
		Type:      TypeRSS,
		URL:       "https://example.com/a",
		Title:     "  Café  ",
		Timestamp: time.Date(2020, 1, 1, 13, 0, 0, 0, loc),
		Extra:     Extra{},
	})

	if it.ID != "abc" {
		t.Errorf("expected trimmed id, got %q", it.ID)
	}
	if it.Title != "Café" {
		t.Errorf("expected NFC title, got %q", it.Title)
	}
	if it.Timestamp.Location() != time.UTC || it.Timestamp.Hour() != 12 {
		t.Errorf("expected UTC timestamp, got %v", it.Timestamp)
	}
	if it.Extra != nil {
		t.Errorf("expected empty extra to be dropped")
	}

	untitled := Normalize(Item{ID: "x", Type: TypeRSS, URL: "https://example.com/x"})
	if untitled.Title != "https://example.com/x" {
		t.Errorf("expected title to fall back to url, got %q", untitled.Title)
	}
}

func TestValidate(t *testing.T) {
	ok := Item{ID: "1", Type: TypePocket, URL: "https://x", Timestamp: time.Now()}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := Item{Type: TypePocket, URL: "https://x"}
	err := bad.Validate()
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestSortedValues(t *testing.T) {
	numeric := map[string]string{"10": "ten", "2": "two", "1": "one"}
	got := SortedValues(numeric)
	want := []string{"one", "two", "ten"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	mixed := map[string]int{"b": 2, "a": 1, "c10": 3}
	values := SortedValues(mixed)
	if values[0] != 1 || values[1] != 2 || values[2] != 3 {
		t.Errorf("expected lexicographic order, got %v", values)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
		ok   bool
	}{
		{"Youtube", TypeYoutube, true},
		{"rss", TypeRSS, true},
		{"POCKET", TypePocket, true},
		{"flickr", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseType(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseType(%q) = %q, %v", tt.in, got, ok)
		}
	}
}
