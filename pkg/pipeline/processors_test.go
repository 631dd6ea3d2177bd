package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/httpclient"
)

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
  <channel>
    <title>Example</title>
    <item>
      <title>First</title>
      <link>https://example.com/1</link>
      <guid>guid-1</guid>
      <description>&lt;p&gt;Hello&lt;/p&gt;</description>
      <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
      <enclosure url="https://example.com/1.jpg" type="image/jpeg" length="10"/>
    </item>
    <item>
      <title>Second</title>
      <link>https://example.com/2</link>
      <media:content url="https://example.com/2.png" medium="image"/>
    </item>
  </channel>
</rss>`

func TestRSSProcessorParsesItems(t *testing.T) {
	entries, err := NewRSSProcessor().Process(context.Background(), LoadResult{Status: LoadSuccess, Data: []byte(sampleRSS)})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first.ExternalID != "guid-1" || first.Title != "First" {
		t.Fatalf("unexpected first entry %+v", first)
	}
	if first.PublishedAt.IsZero() {
		t.Fatalf("expected published date")
	}
	if len(first.ImageURLs) != 1 || first.ImageURLs[0] != "https://example.com/1.jpg" {
		t.Fatalf("unexpected enclosure images %v", first.ImageURLs)
	}
	if entries[1].ExternalID != "https://example.com/2" {
		t.Fatalf("expected link fallback id, got %q", entries[1].ExternalID)
	}
	if len(entries[1].ImageURLs) != 1 {
		t.Fatalf("expected media:content image, got %v", entries[1].ImageURLs)
	}
}

func TestRSSProcessorRejectsGarbage(t *testing.T) {
	_, err := NewRSSProcessor().Process(context.Background(), LoadResult{Data: []byte("definitely not a feed")})
	var pe *ProcessingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessingError, got %v", err)
	}
}

func TestSitemapProcessorParsesNewsFields(t *testing.T) {
	data := []byte(`
<urlset xmlns:news="http://www.google.com/schemas/sitemap-news/0.9" xmlns:image="http://www.google.com/schemas/sitemap-image/1.1">
  <url>
    <loc>https://example.com/a</loc>
    <news:news>
      <news:publication_date>2024-01-01T00:00:00Z</news:publication_date>
      <news:keywords>foo, bar</news:keywords>
      <news:title>Hello</news:title>
    </news:news>
    <image:image>
      <image:loc>https://example.com/a.jpg</image:loc>
    </image:image>
  </url>
  <url>
    <loc>   </loc>
  </url>
</urlset>`)

	entries, err := NewSitemapProcessor().Process(context.Background(), LoadResult{Data: data})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after filtering empty loc, got %d", len(entries))
	}
	e := entries[0]
	if e.Title != "Hello" || e.ExternalID == "" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if !e.PublishedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("PublishedAt = %v", e.PublishedAt)
	}
	kw, _ := e.RawData["keywords"].([]string)
	if len(kw) != 2 || kw[0] != "foo" || kw[1] != "bar" {
		t.Fatalf("keywords = %#v", e.RawData["keywords"])
	}
	if len(e.ImageURLs) != 1 || e.ImageURLs[0] != "https://example.com/a.jpg" {
		t.Fatalf("ImageURLs = %v", e.ImageURLs)
	}
}

func TestSitemapProcessorRejectsIndex(t *testing.T) {
	_, err := NewSitemapProcessor().Process(context.Background(), LoadResult{Data: []byte(`<sitemapindex><sitemap><loc>x</loc></sitemap></sitemapindex>`)})
	var pe *ProcessingError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessingError, got %v", err)
	}
}

func TestParseHelpers(t *testing.T) {
	kw := parseKeywords(" a, b , ,c ")
	if len(kw) != 3 || kw[0] != "a" || kw[2] != "c" {
		t.Errorf("parseKeywords = %#v", kw)
	}
	if kw := parseKeywords("   "); kw != nil {
		t.Errorf("expected nil keywords on blank input")
	}
	if tm := parsePublicationDate("not-a-date"); !tm.IsZero() {
		t.Errorf("expected zero time on invalid input, got %v", tm)
	}
	if s := responseSnippet([]byte(strings.Repeat("a", 600))); len(s) != 515 {
		t.Errorf("expected truncated response snippet, got %d bytes", len(s))
	}
	if s := responseSnippet([]byte("  ")); s != "<empty>" {
		t.Errorf("expected blank body marker, got %q", s)
	}
}

func TestHTTPLoaderReportsStatusAsLoadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Language") != "hi" {
			t.Errorf("feed headers not forwarded")
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("oops"))
	}))
	defer srv.Close()

	loader := NewHTTPLoader(httpclient.NewRestyClient(httpclient.Options{Timeout: time.Second}))
	res := loader.Load(context.Background(), Source{FeedID: "f1", URL: srv.URL, Headers: map[string]string{"Accept-Language": "hi"}})
	if res.OK() || res.Err == nil || !strings.Contains(res.Err.Error(), "status 400") {
		t.Fatalf("expected status load error, got %+v", res)
	}
}

func TestFileLoaderReadsLocalFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.xml")
	if err := os.WriteFile(path, []byte(sampleRSS), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := NewFileLoader().Load(context.Background(), Source{URL: "file://" + path})
	if !res.OK() || len(res.Data) == 0 {
		t.Fatalf("expected success, got %+v", res)
	}
	if res := NewFileLoader().Load(context.Background(), Source{URL: path + ".missing"}); res.OK() {
		t.Fatalf("expected missing file to fail")
	}
}

func TestRegistryValidateRejectsUnknownKeys(t *testing.T) {
	reg := DefaultRegistry(nil, NormalizeOptions{})
	if err := reg.Validate(domain.Profile{Key: "ok", Loader: "http", Processor: "RSS", Normalizer: "rss"}); err != nil {
		t.Fatalf("expected valid profile, got %v", err)
	}
	err := reg.Validate(domain.Profile{Key: "bad", Loader: "ftp", Processor: "rss", Normalizer: "atom"})
	if err == nil || !strings.Contains(err.Error(), "ftp") || !strings.Contains(err.Error(), "atom") {
		t.Fatalf("expected both unknown keys reported, got %v", err)
	}
}
