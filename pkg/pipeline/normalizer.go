package pipeline

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
)

const defaultMaxLength = 5000

// rssNormalizer turns feed entries into posts.
type rssNormalizer struct {
	maxLength     int
	linkAsComment bool
	now           func() time.Time
}

// NewRSSNormalizer builds the default normalizer.
func NewRSSNormalizer(opts NormalizeOptions) Normalizer {
	n := &rssNormalizer{
		maxLength:     opts.MaxLength,
		linkAsComment: opts.LinkAsComment,
		now:           opts.Now,
	}
	if n.maxLength <= len(truncationMarker) {
		n.maxLength = defaultMaxLength
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n
}

func (n *rssNormalizer) Normalize(entry Entry) domain.Post {
	now := n.now().UTC()

	text, inline := extractText(entry.Content)
	if text == "" {
		text = collapseSpace(entry.Title)
	}

	images := make([]string, 0, len(entry.ImageURLs)+len(inline))
	for _, u := range append(append([]string{}, entry.ImageURLs...), inline...) {
		if isRemoteURL(u) {
			images = appendUnique(images, u)
		}
	}

	post := domain.Post{
		Title:          collapseSpace(entry.Title),
		Message:        truncate(text, n.maxLength),
		Link:           strings.TrimSpace(entry.SourceURL),
		AttachmentURLs: images,
		PublishedAt:    clampPublished(entry.PublishedAt, now),
	}
	if n.linkAsComment && post.Link != "" {
		post.Comments = []string{post.Link}
	}

	if text == "" && len(images) == 0 {
		post.ValidationErrors = append(post.ValidationErrors, RejectNoContentOrImages)
	}
	if len(post.ValidationErrors) == 0 {
		post.Status = domain.PostEnqueued
	} else {
		post.Status = domain.PostRejected
	}
	return post
}

// extractText strips markup and returns the visible text plus inline image sources.
func extractText(html string) (string, []string) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	if !strings.Contains(html, "<") {
		return collapseSpace(html), nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseSpace(html), nil
	}
	doc.Find("script, style").Remove()

	var images []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			images = append(images, strings.TrimSpace(src))
		}
	})
	return collapseSpace(doc.Text()), images
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isRemoteURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func clampPublished(t, now time.Time) time.Time {
	if t.IsZero() || t.After(now) {
		return now
	}
	return t.UTC()
}

// truncate cuts s to at most max runes, ending with the truncation marker.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := strings.TrimRight(string(runes[:max-len(truncationMarker)]), " ")
	return cut + truncationMarker
}
