package domain

import (
	"strings"
	"time"
)

// Domain contains core models shared by the scheduler, pipeline and publisher.

// FeedState toggles whether a feed may be dispatched.
type FeedState string

const (
	FeedDisabled FeedState = "disabled"
	FeedEnabled  FeedState = "enabled"
)

// RunStatus is the outcome of the most recent ingestion run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// Profile names the loader, processor and normalizer used for a feed.
type Profile struct {
	Key        string `json:"key"`
	Loader     string `json:"loader"`
	Processor  string `json:"processor"`
	Normalizer string `json:"normalizer"`
}

// RunInfo captures the last ingestion run for diagnostics.
type RunInfo struct {
	Status       RunStatus     `json:"status,omitempty"`
	Error        string        `json:"error,omitempty"`
	FailedAtStep string        `json:"failed_at_step,omitempty"`
	FinishedAt   time.Time     `json:"finished_at,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Created      int           `json:"created,omitempty"`
	Rejected     int           `json:"rejected,omitempty"`
	Skipped      int           `json:"skipped,omitempty"`
}

// Feed is a configured external content source.
type Feed struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	SourceURL     string            `json:"source_url"`
	Cron          string            `json:"cron"`
	State         FeedState         `json:"state"`
	CredentialID  string            `json:"credential_id"`
	DestinationID string            `json:"destination_id"`
	Profile       Profile           `json:"profile"`
	Headers       map[string]string `json:"headers,omitempty"`
	AutoPublish   bool              `json:"auto_publish"`
	SuspendReason string            `json:"suspend_reason,omitempty"`
	LastRun       RunInfo           `json:"last_run"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Enabled reports whether the feed is switched on.
func (f Feed) Enabled() bool { return f.State == FeedEnabled }

// Dispatchable reports whether the feed carries everything a run needs locally;
// the credential itself still has to resolve in the store.
func (f Feed) Dispatchable() bool {
	return f.Enabled() &&
		strings.TrimSpace(f.CredentialID) != "" &&
		strings.TrimSpace(f.DestinationID) != ""
}

// FeedSchedule holds the next and last run times of a feed.
type FeedSchedule struct {
	FeedID    string    `json:"feed_id"`
	NextRunAt time.Time `json:"next_run_at"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
}

// Due reports whether the schedule should run at now.
func (s FeedSchedule) Due(now time.Time) bool { return !s.NextRunAt.After(now) }

// FeedEntryUID is an immutable ledger row: the entry was ingested.
type FeedEntryUID struct {
	FeedID     string    `json:"feed_id"`
	ExternalID string    `json:"external_id"`
	ImportedAt time.Time `json:"imported_at"`
}

// EntryStatus is the processing state of a raw entry.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryProcessed EntryStatus = "processed"
)

// FeedEntry is one raw ingested unit.
type FeedEntry struct {
	ID         string         `json:"id"`
	FeedID     string         `json:"feed_id"`
	ExternalID string         `json:"external_id"`
	Title      string         `json:"title"`
	SourceURL  string         `json:"source_url"`
	RawData    map[string]any `json:"raw_data,omitempty"`
	Status     EntryStatus    `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	PostDraft     PostStatus = "draft"
	PostEnqueued  PostStatus = "enqueued"
	PostRejected  PostStatus = "rejected"
	PostPublished PostStatus = "published"
	PostFailed    PostStatus = "failed"
	PostWithdrawn PostStatus = "withdrawn"
)

// Post is the normalized, publishable artifact derived from one entry.
type Post struct {
	ID               string     `json:"id"`
	FeedID           string     `json:"feed_id"`
	EntryID          string     `json:"entry_id"`
	Title            string     `json:"title"`
	Message          string     `json:"message"`
	Link             string     `json:"link,omitempty"`
	AttachmentURLs   []string   `json:"attachment_urls,omitempty"`
	Comments         []string   `json:"comments,omitempty"`
	PublishedAt      time.Time  `json:"published_at"`
	Status           PostStatus `json:"status"`
	ValidationErrors []string   `json:"validation_errors,omitempty"`
	ExternalID       string     `json:"external_id,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CredentialStatus drives whether a credential may call the external API.
type CredentialStatus string

const (
	CredentialPending    CredentialStatus = "pending"
	CredentialValidating CredentialStatus = "validating"
	CredentialActive     CredentialStatus = "active"
	CredentialInactive   CredentialStatus = "inactive"
)

// Credential is an access token for the external API, stored sealed.
type Credential struct {
	ID              string           `json:"id"`
	Host            string           `json:"host"`
	OwnerID         string           `json:"owner_id,omitempty"`
	EncryptedSecret string           `json:"encrypted_secret"`
	Status          CredentialStatus `json:"status"`
	ValidatedAt     time.Time        `json:"validated_at,omitempty"`
	LastError       string           `json:"last_error,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Usable reports whether the credential may be used for API calls.
func (c Credential) Usable() bool { return c.Status == CredentialActive }

// FeedMetric holds daily counters per feed.
type FeedMetric struct {
	FeedID       string `json:"feed_id"`
	Date         string `json:"date"`
	PostsCreated int64  `json:"posts_created"`
	InvalidPosts int64  `json:"invalid_posts"`
}

// MetricDate formats t as the daily metric key.
func MetricDate(t time.Time) string { return t.UTC().Format("2006-01-02") }
