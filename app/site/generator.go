package site

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"mime"
	"path"
	"time"

	"github.com/flatdario/flat/app/item"
)

// Generator renders the aggregated stream as an RSS 2.0 document.
type Generator struct {
	Title   string
	Link    string
	SelfURL string
	Version string
}

func NewGenerator(baseURL, version string) *Generator {
	return &Generator{
		Title:   "Flat",
		Link:    baseURL,
		SelfURL: baseURL + "/feed.xml",
		Version: version,
	}
}

func (g *Generator) Run(items []item.Item) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", g.Title, 4)
	g.writeElement(&buf, "link", g.Link, 4)
	g.writeElement(&buf, "description", "Everything I liked, saved and published, in one stream", 4)

	if g.SelfURL != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(g.SelfURL)))
	}

	lastBuildDate := time.Now().In(time.Local)
	if len(items) > 0 {
		lastBuildDate = items[0].Timestamp
	}
	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("Flat/%s", cmp.Or(g.Version, "dev")), 4)

	for _, it := range items {
		g.writeItem(&buf, it)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, it item.Item) {
	buf.WriteString("    <item>\n")

	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte(string(it.Type)+":"+it.ID))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", it.Title, 6)
	g.writeElement(buf, "link", it.URL, 6)
	if description := itemDescription(it); description != "" {
		g.writeElement(buf, "description", description, 6)
	}
	g.writeElement(buf, "pubDate", it.Timestamp.Format(time.RFC1123Z), 6)
	g.writeElement(buf, "category", string(it.Type), 6)

	if thumb := it.ThumbURL(); thumb != "" {
		buf.WriteString(fmt.Sprintf("      <enclosure url=\"%s\" length=\"0\" type=\"%s\" />\n",
			html.EscapeString(thumb),
			html.EscapeString(imageType(thumb))))
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func itemDescription(it item.Item) string {
	for _, key := range []string{"description", "excerpt"} {
		if s, ok := it.Extra[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func imageType(thumb string) string {
	if t := mime.TypeByExtension(path.Ext(thumb)); t != "" {
		return t
	}
	return "image/jpeg"
}
