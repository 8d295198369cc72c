package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/flatdario/flat/app/item"
)

const tumblrJSONPPrefix = "var tumblr_api_read = "

// Tumblr collects the posts of a blog through the legacy read API, mapping
// each post type onto the item schema.
type Tumblr struct {
	blogURL  string
	pageSize int
	fetcher  *Fetcher
}

func NewTumblr(blogURL string, pageSize int, fetcher *Fetcher) *Tumblr {
	return &Tumblr{
		blogURL:  strings.TrimRight(blogURL, "/"),
		pageSize: pageSize,
		fetcher:  fetcher,
	}
}

func (t *Tumblr) Name() string {
	return "tumblr:" + t.blogURL
}

func (t *Tumblr) Type() item.Type {
	return item.TypeTumblr
}

func (t *Tumblr) InitialParameters(ctx context.Context, store Store, refresh bool) (Params, error) {
	return noCursor(refresh), nil
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	*f = flexString(data)
	return nil
}

type tumblrPost struct {
	ID              flexString `json:"id"`
	DateGMT         string     `json:"date-gmt"`
	URLWithSlug     string     `json:"url-with-slug"`
	Type            string     `json:"type"`
	Tags            []string   `json:"tags"`
	VideoSource     string     `json:"video-source"`
	VideoCaption    string     `json:"video-caption"`
	VideoPlayer     string     `json:"video-player"`
	PhotoLinkURL    string     `json:"photo-link-url"`
	PhotoCaption    string     `json:"photo-caption"`
	PhotoURL1280    string     `json:"photo-url-1280"`
	LinkURL         string     `json:"link-url"`
	LinkText        string     `json:"link-text"`
	LinkDescription string     `json:"link-description"`
	RegularTitle    string     `json:"regular-title"`
	RegularBody     string     `json:"regular-body"`
	QuoteSource     string     `json:"quote-source"`
	QuoteText       string     `json:"quote-text"`
}

type tumblrPage struct {
	PostsTotal flexString   `json:"posts-total"`
	Posts      []tumblrPost `json:"posts"`
}

// decodeTumblrPage strips the JavaScript assignment around the JSON document.
func decodeTumblrPage(data []byte) (*tumblrPage, error) {
	doc := bytes.TrimSpace(data)
	doc = bytes.TrimPrefix(doc, []byte(tumblrJSONPPrefix))
	doc = bytes.TrimRight(doc, ";\n\r\t ")

	var page tumblrPage
	if err := json.Unmarshal(doc, &page); err != nil {
		return nil, fmt.Errorf("failed to decode tumblr response: %w", err)
	}
	return &page, nil
}

func (t *Tumblr) Run(ctx context.Context, s *Session) error {
	start := 0
	for {
		endpoint := t.blogURL + "/api/read/json?" + url.Values{
			"start": {strconv.Itoa(start)},
			"num":   {strconv.Itoa(t.pageSize)},
		}.Encode()

		data, err := t.fetcher.Get(ctx, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to fetch tumblr posts: %w", err)
		}

		page, err := decodeTumblrPage(data)
		if err != nil {
			return err
		}
		total, _ := strconv.Atoi(string(page.PostsTotal))

		for _, post := range page.Posts {
			start++

			it, err := t.toItem(post)
			if err != nil {
				s.Skip(string(post.ID), err)
				continue
			}

			stop, err := s.Save(ctx, it)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}

		// A missing or unreadable total leaves paging to the page length.
		if len(page.Posts) == 0 || len(page.Posts) < t.pageSize || (total > 0 && start >= total) {
			return nil
		}
	}
}

func (t *Tumblr) toItem(post tumblrPost) (item.Item, error) {
	it := item.Item{
		ID:   string(post.ID),
		Type: item.TypeTumblr,
	}
	if ts, err := item.ParseTimestamp(post.DateGMT); err == nil {
		it.Timestamp = ts
	}

	link := post.URLWithSlug
	var title string

	switch post.Type {
	case "video":
		link = post.VideoSource
		title = post.VideoCaption
		it.SetExtra("content", iframeSource(post.VideoPlayer))
		it.SetExtra("content_format", "iframe")
	case "photo":
		if post.PhotoLinkURL != "" {
			link = post.PhotoLinkURL
		}
		title = post.PhotoCaption
		it.SetExtra("img", post.PhotoURL1280)
	case "link":
		link = post.LinkURL
		title = post.LinkText
		it.SetExtra("description", textFromHTML(post.LinkDescription))
	case "regular":
		title = post.RegularTitle
		it.SetExtra("subtitle", textFromHTML(post.RegularBody))
	case "quote":
		link = post.QuoteSource
		title = post.QuoteText
	default:
		return item.Item{}, fmt.Errorf("%w: unknown tumblr post type %q", item.ErrMalformed, post.Type)
	}

	// The raw type collides with the schema and lands in extra as tumblr_type.
	it.SetExtra("type", post.Type)
	if len(post.Tags) > 0 {
		it.SetExtra("tags", post.Tags)
	}

	it.URL = textFromHTML(link)
	it.Title = textFromHTML(title)

	return it, nil
}

// textFromHTML drops the markup and decodes entities.
func textFromHTML(s string) string {
	if s == "" || !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}

func iframeSource(player string) string {
	if player == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(player))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("iframe").First().Attr("src")
	return src
}
