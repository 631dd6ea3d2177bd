package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/pkg/httpclient"
)

type staticProcessor []Entry

func (s staticProcessor) Process(context.Context, LoadResult) ([]Entry, error) {
	return append([]Entry(nil), s...), nil
}

func TestParsePageMetaPrefersOGTags(t *testing.T) {
	html := []byte(`
<html>
  <head>
    <title>Fallback</title>
    <meta property="og:title" content="OG Title">
    <meta property="og:description" content="OG Desc">
    <meta property="og:image" content="/img/og.png">
  </head>
</html>`)

	meta, err := parsePageMeta(html)
	if err != nil {
		t.Fatalf("parsePageMeta: %v", err)
	}
	if meta.Title != "OG Title" || meta.Description != "OG Desc" || meta.ImageURL != "/img/og.png" {
		t.Fatalf("unexpected meta %#v", meta)
	}
}

func TestResolveURLHandlesRelative(t *testing.T) {
	if got := resolveURL("/img.png", "https://example.com/articles/1"); got != "https://example.com/img.png" {
		t.Fatalf("resolveURL got %q", got)
	}
	if got := resolveURL("", "https://example.com"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestEnrichingProcessorFillsMissingFields(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `<html><head>
<meta property="og:description" content="From the page">
<meta property="og:image" content="/lead.jpg">
</head></html>`)
	}))
	defer srv.Close()

	inner := staticProcessor{
		{ExternalID: "a", Title: "Sparse", SourceURL: srv.URL + "/a"},
		{ExternalID: "b", Content: "full", ImageURLs: []string{"https://x/y.jpg"}, SourceURL: srv.URL + "/b"},
		{ExternalID: "c", SourceURL: srv.URL + "/broken"},
	}
	client := httpclient.NewRestyClient(httpclient.Options{Timeout: 2 * time.Second})
	entries, err := NewEnrichingProcessor(inner, client).Process(context.Background(), LoadResult{Status: LoadSuccess})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	a := entries[0]
	if a.Content != "From the page" || len(a.ImageURLs) != 1 || a.ImageURLs[0] != srv.URL+"/lead.jpg" || a.Title != "Sparse" {
		t.Fatalf("entry a not enriched: %+v", a)
	}
	if entries[1].Content != "full" {
		t.Fatalf("complete entry must be left alone: %+v", entries[1])
	}
	if entries[2].RawData["enrich_error"] == nil {
		t.Fatalf("failed enrichment must be noted on the entry: %+v", entries[2])
	}
	if hits != 2 {
		t.Fatalf("expected 2 page fetches, got %d", hits)
	}
}
