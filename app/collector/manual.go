package collector

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/flatdario/flat/app/item"
)

const youtubeOEmbedURL = "https://www.youtube.com/oembed"

var (
	youtubeHosts   = []string{"youtube.com", "www.youtube.com", "m.youtube.com", "youtu.be"}
	youtubeEmbedRe = regexp.MustCompile(`/embed/([A-Za-z0-9_-]+)`)
)

// PageInfo is what can be learned about an arbitrary web page.
type PageInfo struct {
	Title string
	Thumb string
}

// PageInspector reads the title and a representative image of a page.
type PageInspector interface {
	Inspect(ctx context.Context, pageURL string) (PageInfo, error)
}

// Manual ingests URLs given by hand. YouTube links become Youtube items
// described through oEmbed; anything else is a Manual item keyed by the
// SHA-1 of its URL.
type Manual struct {
	OEmbedURL string
	urls      []string
	fetcher   *Fetcher
	inspector PageInspector
	now       func() time.Time
}

func NewManual(urls []string, fetcher *Fetcher, inspector PageInspector) *Manual {
	return &Manual{
		OEmbedURL: youtubeOEmbedURL,
		urls:      urls,
		fetcher:   fetcher,
		inspector: inspector,
		now:       time.Now,
	}
}

func (m *Manual) Name() string {
	return "manual"
}

func (m *Manual) Type() item.Type {
	return item.TypeManual
}

func (m *Manual) InitialParameters(ctx context.Context, store Store, refresh bool) (Params, error) {
	return noCursor(refresh), nil
}

func (m *Manual) Run(ctx context.Context, s *Session) error {
	for _, u := range m.urls {
		it, err := m.Build(ctx, u)
		if errors.Is(err, item.ErrMalformed) {
			s.Skip(u, err)
			continue
		}
		if err != nil {
			return err
		}

		stop, err := s.Save(ctx, it)
		if err != nil {
			return err
		}
		if stop {
			slog.Info("URL already stored", "url", u)
			return nil
		}
	}
	return nil
}

// Build describes a single URL as an item.
func (m *Manual) Build(ctx context.Context, rawURL string) (item.Item, error) {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return item.Item{}, fmt.Errorf("%w: invalid url %q", item.ErrMalformed, rawURL)
	}

	if isYouTube(parsed) {
		return m.buildYouTube(ctx, parsed)
	}

	it := item.Item{
		ID:        hashID(rawURL),
		Type:      item.TypeManual,
		URL:       rawURL,
		Title:     rawURL,
		Timestamp: m.now().UTC(),
	}
	it.SetExtra("subtype", "manual")

	if m.inspector == nil {
		return it, nil
	}

	info, err := m.inspector.Inspect(ctx, rawURL)
	if err != nil {
		slog.Warn("Failed to inspect page", "url", rawURL, "error", err)
	}
	if info.Title != "" {
		it.Title = info.Title
	}
	it.SetThumb(info.Thumb)

	return it, nil
}

type youtubeOEmbed struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnail_url"`
	ProviderName string `json:"provider_name"`
	AuthorName   string `json:"author_name"`
}

func (m *Manual) buildYouTube(ctx context.Context, u *url.URL) (item.Item, error) {
	rawURL := u.String()

	var data youtubeOEmbed
	endpoint := m.OEmbedURL + "?" + url.Values{"url": {rawURL}, "format": {"json"}}.Encode()
	if err := m.fetcher.GetJSON(ctx, endpoint, nil, &data); err != nil {
		return item.Item{}, fmt.Errorf("failed to fetch youtube metadata: %w", err)
	}

	id := youtubeVideoID(u)
	if id == "" {
		id = hashID(rawURL)
	}

	it := item.Item{
		ID:        id,
		Type:      item.TypeYoutube,
		URL:       rawURL,
		Title:     data.Title,
		Timestamp: m.now().UTC(),
	}
	it.SetExtra("subtype", "manual")
	it.SetExtra("provider_name", data.ProviderName)
	it.SetExtra("author_name", data.AuthorName)
	if data.ThumbnailURL != "" {
		it.SetThumb(data.ThumbnailURL)
	}

	return it, nil
}

func isYouTube(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, h := range youtubeHosts {
		if host == h {
			return true
		}
	}
	return false
}

func youtubeVideoID(u *url.URL) string {
	if strings.EqualFold(u.Hostname(), "youtu.be") {
		return strings.Trim(u.Path, "/")
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	if m := youtubeEmbedRe.FindStringSubmatch(u.Path); m != nil {
		return m[1]
	}
	return ""
}

func hashID(value string) string {
	sum := sha1.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}
