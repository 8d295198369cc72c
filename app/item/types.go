package item

import (
	"errors"
	"strings"
	"time"
)

// Type names the source an item was collected from.
type Type string

const (
	TypeYoutube Type = "Youtube"
	TypePocket  Type = "Pocket"
	TypeVimeo   Type = "Vimeo"
	TypeRSS     Type = "RSS"
	TypeTumblr  Type = "Tumblr"
	TypeManual  Type = "Manual"
)

// Types lists every known source type.
var Types = []Type{TypeYoutube, TypePocket, TypeVimeo, TypeRSS, TypeTumblr, TypeManual}

// ParseType matches a type name case-insensitively.
func ParseType(s string) (Type, bool) {
	for _, t := range Types {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

var ErrMalformed = errors.New("malformed item")

// Item is the normalized unit of aggregated content. The pair (ID, Type)
// identifies it across the store.
type Item struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	// Thumb is nil while unresolved. An empty string marks an item whose
	// thumbnail lookup already failed, so enrichment never rescans it.
	Thumb  *string `json:"thumb"`
	Extra  Extra   `json:"extra,omitempty"`
	Hidden bool    `json:"hidden"`
}

// Extra holds the source specific fields that are not part of the fixed schema.
type Extra map[string]any

// Key is the store-wide identity of an item.
type Key struct {
	ID   string
	Type Type
}

func (i Item) Key() Key {
	return Key{ID: i.ID, Type: i.Type}
}

func (i Item) HasThumb() bool {
	return i.Thumb != nil
}

func (i Item) ThumbURL() string {
	if i.Thumb == nil {
		return ""
	}
	return *i.Thumb
}

func (i *Item) SetThumb(url string) {
	i.Thumb = &url
}
