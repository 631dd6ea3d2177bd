package pipeline

import (
	"bytes"
	"cmp"
	"context"
	"crypto/sha1" //nolint:gosec // non-cryptographic id generation
	"encoding/hex"
	"encoding/xml"
	"errors"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// rssProcessor parses RSS, Atom and JSON Feed documents.
type rssProcessor struct{}

// NewRSSProcessor builds the gofeed-backed processor.
func NewRSSProcessor() Processor { return rssProcessor{} }

func (rssProcessor) Process(_ context.Context, res LoadResult) ([]Entry, error) {
	if len(bytes.TrimSpace(res.Data)) == 0 {
		return nil, &ProcessingError{Processor: ProcessorRSS, Err: errors.New("empty document")}
	}
	// gofeed parsers keep per-document state; one per call.
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(res.Data))
	if err != nil {
		return nil, &ProcessingError{Processor: ProcessorRSS, Err: err}
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, entryFromItem(item))
	}
	return entries, nil
}

func entryFromItem(item *gofeed.Item) Entry {
	e := Entry{
		ExternalID: cmp.Or(strings.TrimSpace(item.GUID), strings.TrimSpace(item.Link)),
		Title:      strings.TrimSpace(item.Title),
		Content:    cmp.Or(item.Content, item.Description),
		SourceURL:  strings.TrimSpace(item.Link),
		RawData: map[string]any{
			"title":       item.Title,
			"link":        item.Link,
			"guid":        item.GUID,
			"description": item.Description,
		},
	}
	if e.ExternalID == "" {
		e.ExternalID = hashURL(item.Title + "|" + item.Published)
	}

	switch {
	case item.PublishedParsed != nil:
		e.PublishedAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		e.PublishedAt = *item.UpdatedParsed
	}

	if len(item.Categories) > 0 {
		e.RawData["categories"] = item.Categories
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		e.RawData["author"] = item.Authors[0].Name
	}

	if item.Image != nil {
		e.ImageURLs = appendUnique(e.ImageURLs, item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
			e.ImageURLs = appendUnique(e.ImageURLs, enc.URL)
		}
	}
	for _, media := range item.Extensions["media"]["content"] {
		medium := media.Attrs["medium"]
		if medium == "" || medium == "image" {
			e.ImageURLs = appendUnique(e.ImageURLs, media.Attrs["url"])
		}
	}
	return e
}

// sitemapProcessor parses Google News sitemaps.
type sitemapProcessor struct{}

// NewSitemapProcessor builds the news sitemap processor.
func NewSitemapProcessor() Processor { return sitemapProcessor{} }

type googleNewsSitemap struct {
	XMLName xml.Name
	URLs    []googleNewsURL `xml:"url"`
}

type googleNewsURL struct {
	Loc  string `xml:"loc"`
	News struct {
		Title           string `xml:"title"`
		PublicationDate string `xml:"publication_date"`
		Keywords        string `xml:"keywords"`
	} `xml:"news"`
	Images []struct {
		Loc string `xml:"loc"`
	} `xml:"image"`
}

func (sitemapProcessor) Process(_ context.Context, res LoadResult) ([]Entry, error) {
	var sitemap googleNewsSitemap
	if err := xml.Unmarshal(res.Data, &sitemap); err != nil {
		return nil, &ProcessingError{Processor: ProcessorSitemap, Err: err}
	}
	if sitemap.XMLName.Local != "urlset" {
		return nil, &ProcessingError{Processor: ProcessorSitemap, Err: errors.New("unexpected root <" + sitemap.XMLName.Local + ">")}
	}

	entries := make([]Entry, 0, len(sitemap.URLs))
	for _, u := range sitemap.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			continue
		}
		e := Entry{
			ExternalID:  hashURL(loc),
			Title:       cmp.Or(strings.TrimSpace(u.News.Title), loc),
			SourceURL:   loc,
			PublishedAt: parsePublicationDate(u.News.PublicationDate),
			RawData:     map[string]any{"loc": loc},
		}
		if kw := parseKeywords(u.News.Keywords); kw != nil {
			e.RawData["keywords"] = kw
		}
		for _, img := range u.Images {
			e.ImageURLs = appendUnique(e.ImageURLs, img.Loc)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func hashURL(u string) string {
	sum := sha1.Sum([]byte(u))
	return hex.EncodeToString(sum[:])
}

func parseKeywords(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if kw := strings.TrimSpace(part); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func parsePublicationDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func appendUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
