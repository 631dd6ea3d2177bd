package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
)

// Package pipeline holds the pluggable load, process and normalize stages of
// an ingestion run.

// Source describes what a Loader should fetch.
type Source struct {
	FeedID  string
	URL     string
	Headers map[string]string
}

// LoadStatus is the outcome of a Loader call.
type LoadStatus string

const (
	LoadSuccess LoadStatus = "success"
	LoadError   LoadStatus = "error"
)

// LoadResult is what a Loader returns. Ordinary fetch failures are reported
// with Status LoadError and Err set rather than as a Go error.
type LoadResult struct {
	Status      LoadStatus
	Data        []byte
	ContentType string
	Err         error
}

// OK reports whether the load succeeded.
func (r LoadResult) OK() bool { return r.Status == LoadSuccess }

func loadFailed(err error) LoadResult {
	return LoadResult{Status: LoadError, Err: err}
}

// Loader fetches raw bytes for a feed.
type Loader interface {
	Load(ctx context.Context, src Source) LoadResult
}

// Entry is one parsed item before normalization.
type Entry struct {
	ExternalID  string
	Title       string
	Content     string
	PublishedAt time.Time
	SourceURL   string
	ImageURLs   []string
	RawData     map[string]any
}

// ProcessingError reports unparsable loader output.
type ProcessingError struct {
	Processor string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s processor: %v", e.Processor, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Processor turns loaded bytes into entries.
type Processor interface {
	Process(ctx context.Context, res LoadResult) ([]Entry, error)
}

// Normalizer maps an entry to a post. Rejections are reported through the
// post's status and validation errors, never as a Go error.
type Normalizer interface {
	Normalize(entry Entry) domain.Post
}

// RejectNoContentOrImages is the validation code for an entry with neither
// usable text nor images.
const RejectNoContentOrImages = "no_content_or_images"

// NormalizeOptions tunes the normalizers.
type NormalizeOptions struct {
	MaxLength     int
	LinkAsComment bool
	Now           func() time.Time
}

const truncationMarker = "..."
