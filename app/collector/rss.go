package collector

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/flatdario/flat/app/item"
)

// RSS collects the entries of one RSS or Atom feed.
type RSS struct {
	url     string
	parser  *gofeed.Parser
	fetcher *Fetcher
}

func NewRSS(feedURL string, fetcher *Fetcher) *RSS {
	return &RSS{
		url:     feedURL,
		parser:  gofeed.NewParser(),
		fetcher: fetcher,
	}
}

func (r *RSS) Name() string {
	return "rss:" + r.url
}

func (r *RSS) Type() item.Type {
	return item.TypeRSS
}

func (r *RSS) InitialParameters(ctx context.Context, store Store, refresh bool) (Params, error) {
	return noCursor(refresh), nil
}

func (r *RSS) Run(ctx context.Context, s *Session) error {
	data, err := r.fetcher.Get(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch feed: %w", err)
	}

	feed, err := r.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to parse feed: %w", err)
	}

	for _, entry := range feed.Items {
		stop, err := s.Save(ctx, r.normalizeEntry(feed, entry))
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}

	return nil
}

func (r *RSS) normalizeEntry(feed *gofeed.Feed, entry *gofeed.Item) item.Item {
	it := item.Item{
		ID:    cmp.Or(entry.GUID, entry.Link),
		Type:  item.TypeRSS,
		URL:   entry.Link,
		Title: entry.Title,
	}

	if entry.PublishedParsed != nil {
		it.Timestamp = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		it.Timestamp = *entry.UpdatedParsed
	}

	it.SetExtra("content", strings.TrimSpace(entry.Content))
	it.SetExtra("description", strings.TrimSpace(entry.Description))
	if len(entry.Categories) > 0 {
		it.SetExtra("tags", entry.Categories)
	}
	if authors := extractAuthors(entry); len(authors) > 0 {
		it.SetExtra("authors", authors)
	}
	it.SetExtra("feed", feed.Title)
	it.SetExtra("thumbnail", entryThumbnail(entry))

	return it
}

// entryThumbnail prefers the entry image, then the first image enclosure.
func entryThumbnail(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enc := range entry.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

func extractAuthors(entry *gofeed.Item) []string {
	var authors []string

	if len(entry.Authors) > 0 {
		for _, author := range entry.Authors {
			if author != nil {
				if s := formatAuthor(author.Name, author.Email); s != "" {
					authors = append(authors, s)
				}
			}
		}
	} else if entry.Author != nil {
		if s := formatAuthor(entry.Author.Name, entry.Author.Email); s != "" {
			authors = append(authors, s)
		}
	}

	return authors
}

func formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	}
	return email
}
