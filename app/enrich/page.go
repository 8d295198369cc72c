package enrich

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"github.com/flatdario/flat/app/collector"
)

// Page holds the metadata scraped from an HTML document.
type Page struct {
	URL          *url.URL
	Title        string
	SiteName     string
	OGTitle      string
	OGImage      string
	TwitterImage string
	LeadImage    string
	LargestImage string
}

// DisplayTitle is the OpenGraph title prefixed by the site name when known.
func (p *Page) DisplayTitle() string {
	if p.OGTitle == "" {
		return ""
	}
	if p.SiteName != "" {
		return p.SiteName + ": " + p.OGTitle
	}
	return p.OGTitle
}

// BestImage walks the fallbacks in order: OpenGraph, Twitter card, the
// readability lead image and finally the largest <img>.
func (p *Page) BestImage() string {
	for _, candidate := range []string{p.OGImage, p.TwitterImage, p.LeadImage, p.LargestImage} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// Scraper fetches pages and extracts their metadata.
type Scraper struct {
	fetcher *collector.Fetcher
}

func NewScraper(fetcher *collector.Fetcher) *Scraper {
	return &Scraper{fetcher: fetcher}
}

func (s *Scraper) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	data, err := s.fetcher.Get(ctx, pageURL, nil)
	if err != nil {
		return nil, err
	}
	return ParsePage(pageURL, data)
}

// Inspect describes a page for manual ingestion: its <title> (or OpenGraph
// title) and its best image.
func (s *Scraper) Inspect(ctx context.Context, pageURL string) (collector.PageInfo, error) {
	page, err := s.Fetch(ctx, pageURL)
	if err != nil {
		return collector.PageInfo{}, err
	}
	return collector.PageInfo{
		Title: firstNonEmpty(page.Title, page.DisplayTitle()),
		Thumb: page.BestImage(),
	}, nil
}

// ParsePage extracts the metadata of an HTML document. Image URLs are made
// absolute against pageURL.
func ParsePage(pageURL string, data []byte) (*Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("HTML data is empty")
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := &Page{
		URL:      base,
		Title:    strings.TrimSpace(doc.Find("head title").First().Text()),
		SiteName: meta(doc, "og:site_name"),
		OGTitle:  meta(doc, "og:title"),
	}
	page.OGImage = resolve(base, meta(doc, "og:image"))
	page.TwitterImage = resolve(base, meta(doc, "twitter:image"))
	page.LargestImage = resolve(base, largestImage(doc))

	if article, err := readability.FromReader(bytes.NewReader(data), base); err == nil {
		page.LeadImage = resolve(base, article.Image)
		if page.Title == "" {
			page.Title = strings.TrimSpace(article.Title)
		}
	}

	return page, nil
}

// meta reads a <meta> content by property or name.
func meta(doc *goquery.Document, key string) string {
	selector := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, key, key)
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

// largestImage picks the <img> with the largest declared area, or the first
// image when no size is declared.
func largestImage(doc *goquery.Document) string {
	var (
		best     string
		bestArea int
		first    string
	)
	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		if first == "" {
			first = src
		}
		w, _ := strconv.Atoi(img.AttrOr("width", "0"))
		h, _ := strconv.Atoi(img.AttrOr("height", "0"))
		if area := w * h; area > bestArea {
			bestArea = area
			best = src
		}
	})
	return firstNonEmpty(best, first)
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
