package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the core.
const (
	TypeScheduleClaimed     = "schedule.claimed"
	TypeFeedRunCompleted    = "feed.run_completed"
	TypeFeedRunFailed       = "feed.run_failed"
	TypeFeedSuspended       = "feed.suspended"
	TypePostPublished       = "post.published"
	TypePostPublishFailed   = "post.publish_failed"
	TypePostWithdrawn       = "post.withdrawn"
	TypePostWithdrawFailed  = "post.withdraw_failed"
	TypeCredentialValidated = "credential.validated"
	TypeCredentialRejected  = "credential.rejected"
	TypeBatchCompleted      = "batch.completed"
)

// Event is the payload delivered to sinks.
type Event struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	FeedID       string         `json:"feed_id,omitempty"`
	PostID       string         `json:"post_id,omitempty"`
	CredentialID string         `json:"credential_id,omitempty"`
	Status       string         `json:"status,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// New constructs an Event of the given type for a feed.
func New(typ, feedID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		FeedID:     feedID,
		OccurredAt: time.Now().UTC(),
	}
}

// With returns a copy of e carrying an extra attribute.
func (e Event) With(key string, val any) Event {
	attrs := make(map[string]any, len(e.Attributes)+1)
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	attrs[key] = val
	e.Attributes = attrs
	return e
}

// Emitter is what core components depend on. Emit never fails the caller.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(context.Context, Event) {}
