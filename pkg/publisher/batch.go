package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/events"
)

// ErrPrecondition wraps failures that abort a batch before any item runs.
var ErrPrecondition = errors.New("batch precondition failed")

// Connector returns an API client for an active credential, or an error when
// the credential is missing or not active.
type Connector func(ctx context.Context, credentialID string) (API, error)

// Operation names a batch kind.
type Operation string

const (
	OpPurge   Operation = "purge"
	OpPublish Operation = "publish"
)

// ItemFailure is one post the batch could not process.
type ItemFailure struct {
	PostID string `json:"post_id"`
	Error  string `json:"error"`
}

// Report summarizes a batch run.
type Report struct {
	FeedID    string        `json:"feed_id"`
	Operation Operation     `json:"operation"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// Batch runs best-effort purge and publish passes over a feed's posts.
type Batch struct {
	store   Store
	connect Connector
	events  events.Emitter
	log     logger.Logger
}

// NewBatch builds a Batch.
func NewBatch(store Store, connect Connector, emitter events.Emitter, log logger.Logger) *Batch {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Batch{store: store, connect: connect, events: emitter, log: logger.Ensure(log)}
}

// Publisher resolves the feed's credential and destination. Any failure is
// wrapped in ErrPrecondition.
func (b *Batch) Publisher(ctx context.Context, feedID string) (*Publisher, domain.Feed, error) {
	if b == nil || b.store == nil || b.connect == nil {
		return nil, domain.Feed{}, fmt.Errorf("%w: batch is not initialized", ErrPrecondition)
	}
	feed, err := b.store.GetFeed(feedID)
	if err != nil {
		return nil, domain.Feed{}, fmt.Errorf("%w: load feed %s: %v", ErrPrecondition, feedID, err)
	}
	if strings.TrimSpace(feed.DestinationID) == "" {
		return nil, feed, fmt.Errorf("%w: feed %s has no destination", ErrPrecondition, feedID)
	}
	if strings.TrimSpace(feed.CredentialID) == "" {
		return nil, feed, fmt.Errorf("%w: feed %s has no credential", ErrPrecondition, feedID)
	}
	api, err := b.connect(ctx, feed.CredentialID)
	if err != nil {
		return nil, feed, fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	return New(api, b.store, feed.DestinationID, b.events, b.log), feed, nil
}

// Purge withdraws every post of the feed that still has a remote id. Item
// failures are collected in the report; only a precondition failure is
// returned as an error.
func (b *Batch) Purge(ctx context.Context, feedID string) (Report, error) {
	return b.run(ctx, feedID, OpPurge, func(post domain.Post) bool {
		return post.ExternalID != ""
	}, func(ctx context.Context, pub *Publisher, post domain.Post) error {
		return pub.Withdraw(ctx, post)
	})
}

// PublishPending publishes every enqueued post, and failed posts that never
// reached the remote side.
func (b *Batch) PublishPending(ctx context.Context, feedID string) (Report, error) {
	return b.run(ctx, feedID, OpPublish, Publishable, func(ctx context.Context, pub *Publisher, post domain.Post) error {
		_, err := pub.Publish(ctx, post)
		return err
	})
}

// PublishOne publishes a single stored post.
func (b *Batch) PublishOne(ctx context.Context, feedID, postID string) (string, error) {
	pub, _, err := b.Publisher(ctx, feedID)
	if err != nil {
		return "", err
	}
	post, err := b.store.GetPost(feedID, postID)
	if err != nil {
		return "", fmt.Errorf("load post %s: %w", postID, err)
	}
	return pub.Publish(ctx, post)
}

func (b *Batch) run(
	ctx context.Context,
	feedID string,
	op Operation,
	selectPost func(domain.Post) bool,
	apply func(context.Context, *Publisher, domain.Post) error,
) (Report, error) {
	report := Report{FeedID: feedID, Operation: op}

	pub, _, err := b.Publisher(ctx, feedID)
	if err != nil {
		return report, err
	}
	posts, err := b.store.ListPosts(feedID)
	if err != nil {
		return report, fmt.Errorf("%w: list posts: %v", ErrPrecondition, err)
	}

	for _, post := range posts {
		if !selectPost(post) {
			continue
		}
		report.Attempted++
		err := ctx.Err()
		if err == nil {
			err = apply(ctx, pub, post)
		}
		if err != nil {
			report.Failures = append(report.Failures, ItemFailure{PostID: post.ID, Error: err.Error()})
			b.log.ErrorObj("batch item failed", "batch_item", map[string]any{
				"feed_id":   feedID,
				"post_id":   post.ID,
				"operation": string(op),
				"error":     err.Error(),
			})
			continue
		}
		report.Succeeded++
	}

	b.log.InfoObj("batch completed", "batch_report", map[string]any{
		"feed_id":   feedID,
		"operation": string(op),
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"failed":    len(report.Failures),
	})
	b.events.Emit(ctx, events.New(events.TypeBatchCompleted, feedID).
		With("operation", string(op)).
		With("attempted", report.Attempted).
		With("succeeded", report.Succeeded).
		With("failed", len(report.Failures)))
	return report, nil
}
