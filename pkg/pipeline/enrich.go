package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/httpclient"
)

const maxPageBytes = 1 << 20 // 1 MiB

// enrichingProcessor fills in text and images that the feed item lacks from
// the linked page's Open Graph tags. Sitemaps in particular carry only a URL
// and a title.
type enrichingProcessor struct {
	inner  Processor
	client httpclient.Client
}

// NewEnrichingProcessor wraps inner with page metadata enrichment.
func NewEnrichingProcessor(inner Processor, client httpclient.Client) Processor {
	return &enrichingProcessor{inner: inner, client: client}
}

func (p *enrichingProcessor) Process(ctx context.Context, res LoadResult) ([]Entry, error) {
	entries, err := p.inner.Process(ctx, res)
	if err != nil {
		return nil, err
	}
	for i, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !needsEnrichment(entry) || !isRemoteURL(entry.SourceURL) {
			continue
		}
		enriched, err := p.enrich(ctx, entry)
		if err != nil {
			// The entry is kept as parsed; the normalizer decides if it is usable.
			enriched = entry
			enriched.RawData = withRaw(entry.RawData, "enrich_error", err.Error())
		}
		entries[i] = enriched
	}
	return entries, nil
}

func needsEnrichment(e Entry) bool {
	return strings.TrimSpace(e.Content) == "" || len(e.ImageURLs) == 0
}

func (p *enrichingProcessor) enrich(ctx context.Context, entry Entry) (Entry, error) {
	resp, err := p.client.Get(ctx, entry.SourceURL, httpclient.Request{})
	if err != nil {
		return entry, fmt.Errorf("fetch page: %w", err)
	}
	if !resp.OK() {
		return entry, fmt.Errorf("page returned status %d body: %s", resp.Status, responseSnippet(resp.Body))
	}
	body := resp.Body
	if len(body) > maxPageBytes {
		body = body[:maxPageBytes]
	}

	meta, err := parsePageMeta(body)
	if err != nil {
		return entry, err
	}
	out := entry
	if strings.TrimSpace(out.Title) == "" {
		out.Title = meta.Title
	}
	if strings.TrimSpace(out.Content) == "" {
		out.Content = meta.Description
	}
	if img := resolveURL(meta.ImageURL, entry.SourceURL); img != "" {
		out.ImageURLs = appendUnique(append([]string(nil), out.ImageURLs...), img)
	}
	return out, nil
}

type pageMeta struct {
	Title       string
	Description string
	ImageURL    string
}

func parsePageMeta(body []byte) (pageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageMeta{}, fmt.Errorf("parse html: %w", err)
	}
	content := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}
	return pageMeta{
		Title:       firstNonEmpty(content(`meta[property="og:title"]`), doc.Find("title").First().Text()),
		Description: firstNonEmpty(content(`meta[property="og:description"]`), content(`meta[name="description"]`)),
		ImageURL:    content(`meta[property="og:image"]`),
	}, nil
}

func resolveURL(ref, base string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func withRaw(raw map[string]any, key string, val any) map[string]any {
	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	out[key] = val
	return out
}
