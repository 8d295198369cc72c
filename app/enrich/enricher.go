package enrich

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flatdario/flat/app/item"
)

type Store interface {
	MissingThumb(ctx context.Context) ([]item.Item, error)
	SetEnrichment(ctx context.Context, id string, typ item.Type, title, thumb string) (bool, error)
}

// PageFetcher loads the metadata of a page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// Enricher backfills thumbnails and titles. Every item it visits ends with a
// thumbnail set, possibly the empty marker, so it is never visited again.
type Enricher struct {
	store Store
	pages PageFetcher
}

func NewEnricher(store Store, pages PageFetcher) *Enricher {
	return &Enricher{store: store, pages: pages}
}

// Run enriches every stored item whose thumbnail was never resolved and
// returns the number of items changed. Lookup failures are logged only.
func (e *Enricher) Run(ctx context.Context) (int, error) {
	items, err := e.store.MissingThumb(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load items to enrich: %w", err)
	}
	slog.Debug("Filling missing infos", "items", len(items))

	changes := 0
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return changes, err
		}

		enriched := e.Enrich(ctx, it)
		ok, err := e.store.SetEnrichment(ctx, it.ID, it.Type, enriched.Title, enriched.ThumbURL())
		if err != nil {
			return changes, fmt.Errorf("failed to store enriched item %s/%s: %w", it.Type, it.ID, err)
		}
		if !ok {
			slog.Debug("Item removed during enrichment", "type", it.Type, "id", it.ID)
			continue
		}
		changes++
	}

	slog.Info("Enrichment completed", "changes", changes)
	return changes, nil
}

// Enrich resolves the thumbnail of a single item, updating its title from
// OpenGraph data when the page is scraped.
func (e *Enricher) Enrich(ctx context.Context, it item.Item) item.Item {
	if it.HasThumb() {
		return it
	}

	if thumb := ExtraThumbnail(it); thumb != "" {
		it.SetThumb(thumb)
		return it
	}

	slog.Info("Parsing page for thumbnail", "type", it.Type, "title", it.Title, "url", it.URL)
	page, err := e.pages.Fetch(ctx, it.URL)
	if err != nil {
		slog.Warn("Failed to fetch page", "url", it.URL, "error", err)
		it.SetThumb("")
		return it
	}

	if title := page.DisplayTitle(); title != "" && title != it.Title {
		slog.Debug("Changed title", "from", it.Title, "to", title)
		it.Title = title
	}
	it.SetThumb(page.BestImage())

	return it
}

// ExtraThumbnail finds a thumbnail in the source specific fields.
func ExtraThumbnail(it item.Item) string {
	switch it.Type {
	case item.TypeYoutube:
		return lookupString(it.Extra, "thumbnails", "medium", "url")
	case item.TypePocket:
		return lookupString(it.Extra, "images", 0)
	case item.TypeVimeo:
		return lookupString(it.Extra, "thumbnails", 2, "link")
	case item.TypeRSS:
		return lookupString(it.Extra, "thumbnail")
	case item.TypeTumblr:
		return lookupString(it.Extra, "img")
	}
	return ""
}

// lookupString walks decoded JSON by map keys and slice indexes.
func lookupString(extra item.Extra, path ...any) string {
	var cur any = map[string]any(extra)
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return ""
			}
			cur = m[key]
		case int:
			switch list := cur.(type) {
			case []any:
				if key >= len(list) {
					return ""
				}
				cur = list[key]
			case []string:
				if key >= len(list) {
					return ""
				}
				cur = list[key]
			default:
				return ""
			}
		}
	}
	s, _ := cur.(string)
	return s
}
