package publisher

// Package publisher pushes normalized posts to the social API and withdraws
// them again.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/events"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/socialapi"
)

var (
	// ErrNotPublishable is returned for posts outside enqueued/failed or
	// already carrying a remote id.
	ErrNotPublishable = errors.New("post is not publishable")
	// ErrNotPublished is returned when withdrawing a post with no remote id.
	ErrNotPublished = errors.New("post has no remote id")
)

// API is the subset of the social API client used for publishing.
type API interface {
	UploadAttachment(ctx context.Context, mediaURL string) (string, error)
	CreatePost(ctx context.Context, p socialapi.NewPost) (string, error)
	CreateComment(ctx context.Context, postID, message string) (string, error)
	DeletePost(ctx context.Context, postID string) error
}

// Store is the subset of storage.Store used for posts.
type Store interface {
	GetFeed(id string) (domain.Feed, error)
	GetPost(feedID, postID string) (domain.Post, error)
	SavePost(post domain.Post) error
	ListPosts(feedID string, statuses ...domain.PostStatus) ([]domain.Post, error)
}

// Publisher performs single-post operations against one destination.
type Publisher struct {
	api           API
	store         Store
	destinationID string
	events        events.Emitter
	log           logger.Logger
	now           func() time.Time
}

// New builds a Publisher for destinationID.
func New(api API, store Store, destinationID string, emitter events.Emitter, log logger.Logger) *Publisher {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Publisher{
		api:           api,
		store:         store,
		destinationID: destinationID,
		events:        emitter,
		log:           logger.Ensure(log),
		now:           time.Now,
	}
}

// Publishable reports whether Publish accepts the post. A failed post that
// already has a remote id only lost its comments; publishing it again would
// duplicate the remote post.
func Publishable(post domain.Post) bool {
	switch post.Status {
	case domain.PostEnqueued, domain.PostFailed:
		return post.ExternalID == ""
	default:
		return false
	}
}

// Publish uploads attachments, creates the remote post and its comments, and
// records the outcome on the stored post.
func (p *Publisher) Publish(ctx context.Context, post domain.Post) (string, error) {
	if !Publishable(post) {
		return "", fmt.Errorf("publish post %s (%s): %w", post.ID, post.Status, ErrNotPublishable)
	}

	externalID, err := p.push(ctx, &post)
	if err != nil {
		post.Status = domain.PostFailed
		post.LastError = err.Error()
		post.UpdatedAt = p.now().UTC()
		if saveErr := p.store.SavePost(post); saveErr != nil {
			err = errors.Join(err, fmt.Errorf("save failed post: %w", saveErr))
		}
		p.emit(ctx, events.TypePostPublishFailed, post, err.Error())
		return "", fmt.Errorf("publish post %s: %w", post.ID, err)
	}

	post.Status = domain.PostPublished
	post.ExternalID = externalID
	post.LastError = ""
	post.UpdatedAt = p.now().UTC()
	if err := p.store.SavePost(post); err != nil {
		return externalID, fmt.Errorf("save published post %s: %w", post.ID, err)
	}
	p.emit(ctx, events.TypePostPublished, post, "")
	return externalID, nil
}

// push performs the remote calls. Once the remote post exists its id is kept
// on post even if a later comment fails, so it can still be withdrawn.
func (p *Publisher) push(ctx context.Context, post *domain.Post) (string, error) {
	attachmentIDs := make([]string, 0, len(post.AttachmentURLs))
	for _, mediaURL := range post.AttachmentURLs {
		id, err := p.api.UploadAttachment(ctx, mediaURL)
		if err != nil {
			return "", fmt.Errorf("upload attachment %s: %w", mediaURL, err)
		}
		attachmentIDs = append(attachmentIDs, id)
	}

	externalID, err := p.api.CreatePost(ctx, socialapi.NewPost{
		DestinationID: p.destinationID,
		Message:       post.Message,
		Link:          post.Link,
		AttachmentIDs: attachmentIDs,
		PublishedAt:   post.PublishedAt,
	})
	if err != nil {
		return "", fmt.Errorf("create post: %w", err)
	}
	if strings.TrimSpace(externalID) == "" {
		return "", errors.New("create post: empty remote id")
	}

	for i, comment := range post.Comments {
		if _, err := p.api.CreateComment(ctx, externalID, comment); err != nil {
			post.ExternalID = externalID
			return "", fmt.Errorf("create comment %d: %w", i+1, err)
		}
	}
	return externalID, nil
}

// Withdraw deletes the remote post. On failure the stored post is unchanged.
func (p *Publisher) Withdraw(ctx context.Context, post domain.Post) error {
	if post.ExternalID == "" {
		return fmt.Errorf("withdraw post %s: %w", post.ID, ErrNotPublished)
	}
	if err := p.api.DeletePost(ctx, post.ExternalID); err != nil {
		p.emit(ctx, events.TypePostWithdrawFailed, post, err.Error())
		return fmt.Errorf("withdraw post %s: %w", post.ID, err)
	}

	post.ExternalID = ""
	post.Status = domain.PostWithdrawn
	post.UpdatedAt = p.now().UTC()
	if err := p.store.SavePost(post); err != nil {
		return fmt.Errorf("save withdrawn post %s: %w", post.ID, err)
	}
	p.emit(ctx, events.TypePostWithdrawn, post, "")
	return nil
}

func (p *Publisher) emit(ctx context.Context, typ string, post domain.Post, reason string) {
	evt := events.New(typ, post.FeedID)
	evt.PostID = post.ID
	evt.Status = string(post.Status)
	evt.Reason = reason
	if post.ExternalID != "" {
		evt = evt.With("external_id", post.ExternalID)
	}
	p.events.Emit(ctx, evt)
}
