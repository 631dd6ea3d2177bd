package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/samvad-hq/samvad-feed-syndicator/pkg/httpclient"
)

// httpLoader fetches the feed over HTTP.
type httpLoader struct {
	client httpclient.Client
}

// NewHTTPLoader builds a loader on top of the shared client; timeouts and
// redirect limits come from the client.
func NewHTTPLoader(client httpclient.Client) Loader {
	return &httpLoader{client: client}
}

func (l *httpLoader) Load(ctx context.Context, src Source) LoadResult {
	if strings.TrimSpace(src.URL) == "" {
		return loadFailed(fmt.Errorf("feed %s source_url is empty", src.FeedID))
	}
	if l.client == nil {
		return loadFailed(fmt.Errorf("http loader has no client"))
	}

	resp, err := l.client.Get(ctx, src.URL, httpclient.Request{Headers: src.Headers})
	if err != nil {
		return loadFailed(fmt.Errorf("fetch %s: %w", src.FeedID, err))
	}
	if !resp.OK() {
		return loadFailed(fmt.Errorf("%s returned status %d body: %s", src.FeedID, resp.Status, responseSnippet(resp.Body)))
	}

	return LoadResult{
		Status:      LoadSuccess,
		Data:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
	}
}

// fileLoader reads a local file; source URLs may be plain paths or file:// URLs.
type fileLoader struct{}

// NewFileLoader builds a loader for local feed files.
func NewFileLoader() Loader { return fileLoader{} }

func (fileLoader) Load(_ context.Context, src Source) LoadResult {
	path := strings.TrimSpace(src.URL)
	if strings.HasPrefix(path, "file://") {
		u, err := url.Parse(path)
		if err != nil {
			return loadFailed(fmt.Errorf("parse file url: %w", err))
		}
		path = u.Path
	}
	if path == "" {
		return loadFailed(fmt.Errorf("feed %s source path is empty", src.FeedID))
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return loadFailed(fmt.Errorf("read %s: %w", path, err))
	}
	return LoadResult{
		Status:      LoadSuccess,
		Data:        data,
		ContentType: http.DetectContentType(data),
	}
}

func responseSnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
