package item

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// reservedKeys are the fixed schema field names. A raw payload key with one of
// these names never overrides the schema field: it is kept in Extra under a
// source prefixed alias instead (e.g. a Tumblr post "type" becomes "tumblr_type").
var reservedKeys = map[string]bool{
	"id":        true,
	"type":      true,
	"url":       true,
	"title":     true,
	"timestamp": true,
	"thumb":     true,
	"extra":     true,
	"hidden":    true,
}

// ExtraKey returns the key a raw field is stored under for the given source.
func ExtraKey(source Type, key string) string {
	if reservedKeys[strings.ToLower(key)] {
		return strings.ToLower(string(source)) + "_" + key
	}
	return key
}

// SetExtra stores a source specific value, applying the collision rule.
// Nil values and empty strings are dropped.
func (i *Item) SetExtra(key string, value any) {
	switch v := value.(type) {
	case nil:
		return
	case string:
		if v == "" {
			return
		}
	}
	if i.Extra == nil {
		i.Extra = make(Extra)
	}
	i.Extra[ExtraKey(i.Type, key)] = value
}

// Normalize brings an item to the canonical form expected by the store:
// UTC timestamp, trimmed NFC title falling back to the URL, no empty extra map.
func Normalize(it Item) Item {
	it.ID = strings.TrimSpace(it.ID)
	it.URL = strings.TrimSpace(it.URL)
	it.Title = strings.TrimSpace(norm.NFC.String(it.Title))
	if it.Title == "" {
		it.Title = it.URL
	}
	if !it.Timestamp.IsZero() {
		it.Timestamp = it.Timestamp.UTC()
	}
	if len(it.Extra) == 0 {
		it.Extra = nil
	}
	return it
}

// Validate reports whether the fields essential to identity and ordering are set.
func (i Item) Validate() error {
	missing := make([]string, 0, 4)
	if i.ID == "" {
		missing = append(missing, "id")
	}
	if i.Type == "" {
		missing = append(missing, "type")
	}
	if i.URL == "" {
		missing = append(missing, "url")
	}
	if i.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformed, strings.Join(missing, ", "))
	}
	return nil
}

// SortedValues returns the values of a keyed collection ordered by key.
// Numeric keys are compared as numbers so "10" sorts after "2".
func SortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	numeric := true
	for k := range m {
		keys = append(keys, k)
		if _, err := strconv.Atoi(k); err != nil {
			numeric = false
		}
	}

	if numeric {
		slices.SortFunc(keys, func(a, b string) int {
			x, _ := strconv.Atoi(a)
			y, _ := strconv.Atoi(b)
			return cmp.Compare(x, y)
		})
	} else {
		slices.Sort(keys)
	}

	values := make([]T, 0, len(keys))
	for _, k := range keys {
		values = append(values, m[k])
	}
	return values
}

// SortedKeys returns the keys of a map in ascending order.
func SortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
