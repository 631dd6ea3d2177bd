package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/queue"
)

// Operation names a one-shot command.
type Operation string

const (
	OpPurge    Operation = "purge"
	OpPublish  Operation = "publish"
	OpValidate Operation = "validate"
	OpIngest   Operation = "ingest"
	OpSeed     Operation = "seed"
)

// Request selects an operation and its target.
type Request struct {
	Op           Operation
	FeedID       string
	PostID       string
	CredentialID string
}

func (r Request) validate() error {
	switch r.Op {
	case OpPurge, OpPublish, OpIngest:
		if strings.TrimSpace(r.FeedID) == "" {
			return fmt.Errorf("%s requires a feed id", r.Op)
		}
	case OpValidate:
		if strings.TrimSpace(r.CredentialID) == "" {
			return fmt.Errorf("validate requires a credential id")
		}
	case OpSeed:
	default:
		return fmt.Errorf("unknown operation %q", r.Op)
	}
	return nil
}

// Execute runs one operation synchronously and returns its report. Follow-up
// tasks queued in memory are drained before returning; with a durable queue
// they are left for the syndicator workers.
func (rt *Runtime) Execute(ctx context.Context, req Request) (any, error) {
	if rt == nil || rt.Batch == nil {
		return nil, fmt.Errorf("runtime is not initialized")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	result, err := rt.execute(ctx, req)
	if err != nil {
		return result, err
	}

	if mem, ok := rt.Queue.(*queue.Memory); ok {
		if n := mem.Drain(ctx, rt.Mux); n > 0 {
			rt.log.InfoObj("follow-up tasks drained", "drained", n)
		}
	}
	return result, nil
}

func (rt *Runtime) execute(ctx context.Context, req Request) (any, error) {
	switch req.Op {
	case OpPurge:
		return rt.Batch.Purge(ctx, req.FeedID)
	case OpPublish:
		if req.PostID != "" {
			externalID, err := rt.Batch.PublishOne(ctx, req.FeedID, req.PostID)
			return map[string]string{"post_id": req.PostID, "external_id": externalID}, err
		}
		return rt.Batch.PublishPending(ctx, req.FeedID)
	case OpValidate:
		return rt.Validator.Validate(ctx, req.CredentialID)
	case OpIngest:
		return rt.Ingest.Run(ctx, req.FeedID)
	default:
		seeder := NewSeeder(rt.Store, rt.Factory.Box, rt.Queue, logger.Named(rt.log, "seeder"))
		return seeder.Seed(ctx, rt.Definitions)
	}
}
