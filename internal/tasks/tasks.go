package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/ingest"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/queue"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/publisher"
)

// Ingester runs one ingestion pass for a feed.
type Ingester interface {
	Run(ctx context.Context, feedID string) (ingest.Result, error)
}

// Batcher performs publish and purge operations.
type Batcher interface {
	Purge(ctx context.Context, feedID string) (publisher.Report, error)
	PublishPending(ctx context.Context, feedID string) (publisher.Report, error)
	PublishOne(ctx context.Context, feedID, postID string) (string, error)
}

// Validator checks a credential against the API.
type Validator interface {
	Validate(ctx context.Context, credentialID string) (domain.Credential, error)
}

// Handlers binds task names to the core services.
type Handlers struct {
	Ingest      Ingester
	Batch       Batcher
	Credentials Validator
	Log         logger.Logger
}

// Register installs every handler whose service is set.
func (h Handlers) Register(mux *queue.Mux) {
	if h.Ingest != nil {
		mux.Handle(queue.TaskIngestFeed, h.ingestFeed)
	}
	if h.Batch != nil {
		mux.Handle(queue.TaskPublishPost, h.publishPost)
		mux.Handle(queue.TaskPurgeFeed, h.purgeFeed)
		mux.Handle(queue.TaskPublishFeed, h.publishFeed)
	}
	if h.Credentials != nil {
		mux.Handle(queue.TaskValidateCredential, h.validateCredential)
	}
}

func requireArgs(task queue.Task, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		v := strings.TrimSpace(task.Arg(i))
		if v == "" {
			return nil, fmt.Errorf("task %s: missing %s argument", task.Name, name)
		}
		out[i] = v
	}
	return out, nil
}

func (h Handlers) ingestFeed(ctx context.Context, task queue.Task) error {
	args, err := requireArgs(task, "feed_id")
	if err != nil {
		return err
	}
	_, err = h.Ingest.Run(ctx, args[0])
	return err
}

func (h Handlers) publishPost(ctx context.Context, task queue.Task) error {
	args, err := requireArgs(task, "feed_id", "post_id")
	if err != nil {
		return err
	}
	_, err = h.Batch.PublishOne(ctx, args[0], args[1])
	return err
}

func (h Handlers) purgeFeed(ctx context.Context, task queue.Task) error {
	args, err := requireArgs(task, "feed_id")
	if err != nil {
		return err
	}
	report, err := h.Batch.Purge(ctx, args[0])
	if err != nil {
		return err
	}
	h.logReport(report)
	return nil
}

func (h Handlers) publishFeed(ctx context.Context, task queue.Task) error {
	args, err := requireArgs(task, "feed_id")
	if err != nil {
		return err
	}
	report, err := h.Batch.PublishPending(ctx, args[0])
	if err != nil {
		return err
	}
	h.logReport(report)
	return nil
}

func (h Handlers) validateCredential(ctx context.Context, task queue.Task) error {
	args, err := requireArgs(task, "credential_id")
	if err != nil {
		return err
	}
	_, err = h.Credentials.Validate(ctx, args[0])
	return err
}

func (h Handlers) logReport(report publisher.Report) {
	if len(report.Failures) == 0 {
		return
	}
	logger.Ensure(h.Log).WarnObj("batch finished with failures", "batch_report", map[string]any{
		"feed_id":   report.FeedID,
		"operation": string(report.Operation),
		"failures":  report.Failures,
	})
}
