package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/ledger"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/queue"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/storage"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/workflow"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/events"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/pipeline"
)

// Step names of an ingestion run.
const (
	StepLoad      = "load"
	StepProcess   = "process"
	StepFilter    = "filter"
	StepNormalize = "normalize"
	StepPersist   = "persist"
)

// Store is the subset of storage.Store an ingestion run touches.
type Store interface {
	ledger.Store
	GetFeed(id string) (domain.Feed, error)
	UpdateFeed(id string, mutate func(*domain.Feed) error) (domain.Feed, error)
	GetCredential(id string) (domain.Credential, error)
}

// Result describes one run.
type Result struct {
	FeedID   string
	Status   domain.RunStatus
	Fetched  int
	Created  int
	Rejected int
	Skipped  int
	// Enqueued holds the ids of new posts ready to publish.
	Enqueued []string
	Stats    workflow.Stats
}

// Service runs the load, process, filter, normalize and persist pipeline for
// one feed.
type Service struct {
	store    Store
	registry *pipeline.Registry
	ledger   *ledger.Ledger
	queue    queue.Enqueuer
	events   events.Emitter
	log      logger.Logger
	now      func() time.Time
}

// NewService wires an ingestion service. q may be nil when auto-publish is
// never used.
func NewService(store Store, registry *pipeline.Registry, q queue.Enqueuer, emitter events.Emitter, log logger.Logger) *Service {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Service{
		store:    store,
		registry: registry,
		ledger:   ledger.New(store),
		queue:    q,
		events:   emitter,
		log:      logger.Ensure(log),
		now:      time.Now,
	}
}

type draft struct {
	entry pipeline.Entry
	post  domain.Post
}

type runState struct {
	feed      domain.Feed
	stages    pipeline.Stages
	loaded    pipeline.LoadResult
	entries   []pipeline.Entry
	fresh     []pipeline.Entry
	drafts    []draft
	result    Result
	// committed survives a failed step; workflow.Run hands back the state
	// from before that step.
	committed *commitLog
}

// commitLog tracks rows persisted by the persist step as they are written.
type commitLog struct {
	created  int
	rejected int
	skipped  int
	enqueued []string
}

func (c *commitLog) applyTo(res *Result) {
	res.Created += c.created
	res.Rejected += c.rejected
	res.Skipped += c.skipped
	res.Enqueued = append(res.Enqueued, c.enqueued...)
}

// Run ingests the feed once. A disabled feed is skipped; a feed whose
// credential or destination cannot be resolved is suspended and skipped.
// Both return a skipped result without error. A failing step is recorded
// on the feed and its error returned.
func (s *Service) Run(ctx context.Context, feedID string) (Result, error) {
	if s == nil || s.store == nil || s.registry == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}
	started := s.now()

	feed, err := s.store.GetFeed(feedID)
	if err != nil {
		return Result{}, fmt.Errorf("load feed %s: %w", feedID, err)
	}
	if !feed.Enabled() {
		s.log.DebugObj("feed disabled; run skipped", "ingest_skip", map[string]any{"feed_id": feedID})
		return Result{FeedID: feedID, Status: domain.RunSkipped}, nil
	}
	if reason, err := s.unresolvable(feed); err != nil {
		return Result{}, err
	} else if reason != "" {
		return s.suspend(ctx, feed, reason)
	}

	stages, err := s.registry.Resolve(feed.Profile)
	if err != nil {
		s.recordFailure(ctx, feed, Result{FeedID: feedID}, "resolve", err, s.now().Sub(started))
		return Result{FeedID: feedID, Status: domain.RunFailed}, fmt.Errorf("resolve stages for feed %s: %w", feedID, err)
	}

	committed := &commitLog{}
	initial := runState{feed: feed, stages: stages, result: Result{FeedID: feedID}, committed: committed}
	final, stats, err := workflow.Run(ctx, "ingest_feed", s.steps(), initial, s.hooks(feedID))
	final.result.Stats = stats
	committed.applyTo(&final.result)
	// Posts already committed are in the ledger and will never be seen again,
	// so they are queued even when a later entry failed.
	if feed.AutoPublish {
		s.enqueuePublish(ctx, feedID, final.result.Enqueued)
	}
	if err != nil {
		final.result.Status = domain.RunFailed
		s.recordFailure(ctx, feed, final.result, stats.FailedAtStep, err, stats.Total)
		return final.result, fmt.Errorf("ingest feed %s: %w", feedID, err)
	}

	final.result.Status = domain.RunSucceeded
	s.recordSuccess(ctx, feed, final.result)
	return final.result, nil
}

// unresolvable returns a suspension reason, or "" when the feed can run.
func (s *Service) unresolvable(feed domain.Feed) (string, error) {
	if strings.TrimSpace(feed.DestinationID) == "" {
		return "destination not set", nil
	}
	if strings.TrimSpace(feed.CredentialID) == "" {
		return "credential not set", nil
	}
	if _, err := s.store.GetCredential(feed.CredentialID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Sprintf("credential %s not found", feed.CredentialID), nil
		}
		return "", fmt.Errorf("load credential %s: %w", feed.CredentialID, err)
	}
	return "", nil
}

func (s *Service) suspend(ctx context.Context, feed domain.Feed, reason string) (Result, error) {
	_, err := s.store.UpdateFeed(feed.ID, func(f *domain.Feed) error {
		f.State = domain.FeedDisabled
		f.SuspendReason = reason
		f.UpdatedAt = s.now().UTC()
		f.LastRun = domain.RunInfo{Status: domain.RunSkipped, Error: reason, FinishedAt: s.now().UTC()}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("suspend feed %s: %w", feed.ID, err)
	}
	s.log.WarnObj("feed suspended", "ingest_suspend", map[string]any{
		"feed_id": feed.ID,
		"reason":  reason,
	})
	evt := events.New(events.TypeFeedSuspended, feed.ID)
	evt.Reason = reason
	evt.Status = string(domain.FeedDisabled)
	s.events.Emit(ctx, evt)
	return Result{FeedID: feed.ID, Status: domain.RunSkipped}, nil
}

func (s *Service) steps() []workflow.Step[runState] {
	return []workflow.Step[runState]{
		{Name: StepLoad, Run: s.load},
		{Name: StepProcess, Run: s.process},
		{Name: StepFilter, Run: s.filter},
		{Name: StepNormalize, Run: s.normalize},
		{Name: StepPersist, Run: s.persist},
	}
}

func (s *Service) hooks(feedID string) workflow.Hooks[runState] {
	return workflow.Hooks[runState]{
		Before: func(name string, _ runState) {
			s.log.DebugObj("ingest step starting", "ingest_step", map[string]any{"feed_id": feedID, "step": name})
		},
		After: func(name string, _ runState, err error) {
			meta := map[string]any{"feed_id": feedID, "step": name}
			if err != nil {
				meta["error"] = err.Error()
			}
			s.log.DebugObj("ingest step finished", "ingest_step", meta)
		},
	}
}

func (s *Service) load(ctx context.Context, st runState) (runState, error) {
	res := st.stages.Loader.Load(ctx, pipeline.Source{
		FeedID:  st.feed.ID,
		URL:     st.feed.SourceURL,
		Headers: st.feed.Headers,
	})
	if !res.OK() {
		if res.Err == nil {
			res.Err = errors.New("loader returned no data")
		}
		return st, res.Err
	}
	st.loaded = res
	return st, nil
}

func (s *Service) process(ctx context.Context, st runState) (runState, error) {
	entries, err := st.stages.Processor.Process(ctx, st.loaded)
	if err != nil {
		return st, err
	}
	st.entries = entries
	st.result.Fetched = len(entries)
	return st, nil
}

// filter drops entries already in the ledger and entries without an id.
func (s *Service) filter(ctx context.Context, st runState) (runState, error) {
	fresh := make([]pipeline.Entry, 0, len(st.entries))
	seen := make(map[string]struct{}, len(st.entries))
	for _, entry := range st.entries {
		id := strings.TrimSpace(entry.ExternalID)
		if id == "" {
			st.result.Skipped++
			continue
		}
		if _, dup := seen[id]; dup {
			st.result.Skipped++
			continue
		}
		seen[id] = struct{}{}

		imported, err := s.ledger.AlreadyImported(ctx, st.feed.ID, id)
		if err != nil {
			return st, err
		}
		if imported {
			st.result.Skipped++
			continue
		}
		entry.ExternalID = id
		fresh = append(fresh, entry)
	}
	st.fresh = fresh
	return st, nil
}

// normalize never fails; rejections travel on the post.
func (s *Service) normalize(_ context.Context, st runState) (runState, error) {
	drafts := make([]draft, 0, len(st.fresh))
	for _, entry := range st.fresh {
		drafts = append(drafts, draft{entry: entry, post: st.stages.Normalizer.Normalize(entry)})
	}
	st.drafts = drafts
	return st, nil
}

// persist commits each draft with its ledger row and metric increment in
// one store transaction, so a failure part way leaves earlier rows complete.
func (s *Service) persist(ctx context.Context, st runState) (runState, error) {
	now := s.now().UTC()
	for _, d := range st.drafts {
		entry := domain.FeedEntry{
			ID:         uuid.NewString(),
			FeedID:     st.feed.ID,
			ExternalID: d.entry.ExternalID,
			Title:      d.entry.Title,
			SourceURL:  d.entry.SourceURL,
			RawData:    d.entry.RawData,
			Status:     domain.EntryProcessed,
			CreatedAt:  now,
		}
		post := d.post
		post.ID = uuid.NewString()
		post.FeedID = st.feed.ID
		post.EntryID = entry.ID
		post.CreatedAt = now
		post.UpdatedAt = now

		inserted, err := s.ledger.Commit(ctx, entry, post)
		if err != nil {
			return st, err
		}
		if !inserted {
			st.committed.skipped++
			continue
		}
		st.committed.created++
		if post.Status == domain.PostRejected {
			st.committed.rejected++
			continue
		}
		st.committed.enqueued = append(st.committed.enqueued, post.ID)
	}
	return st, nil
}

func (s *Service) recordSuccess(ctx context.Context, feed domain.Feed, res Result) {
	info := domain.RunInfo{
		Status:     domain.RunSucceeded,
		FinishedAt: s.now().UTC(),
		Duration:   res.Stats.Total,
		Created:    res.Created,
		Rejected:   res.Rejected,
		Skipped:    res.Skipped,
	}
	s.saveRunInfo(feed.ID, info)

	s.log.InfoObj("feed run completed", "ingest_result", map[string]any{
		"feed_id":     feed.ID,
		"fetched":     res.Fetched,
		"created":     res.Created,
		"rejected":    res.Rejected,
		"skipped":     res.Skipped,
		"duration_ms": res.Stats.Total.Milliseconds(),
	})
	evt := events.New(events.TypeFeedRunCompleted, feed.ID).
		With("fetched", res.Fetched).
		With("created", res.Created).
		With("rejected", res.Rejected).
		With("skipped", res.Skipped)
	evt.Status = string(domain.RunSucceeded)
	s.events.Emit(ctx, evt)
}

func (s *Service) recordFailure(ctx context.Context, feed domain.Feed, res Result, step string, runErr error, elapsed time.Duration) {
	info := domain.RunInfo{
		Status:       domain.RunFailed,
		Error:        runErr.Error(),
		FailedAtStep: step,
		FinishedAt:   s.now().UTC(),
		Duration:     elapsed,
		Created:      res.Created,
		Rejected:     res.Rejected,
		Skipped:      res.Skipped,
	}
	s.saveRunInfo(feed.ID, info)

	s.log.ErrorObj("feed run failed", "ingest_result", map[string]any{
		"feed_id":        feed.ID,
		"failed_at_step": step,
		"error":          runErr.Error(),
		"duration_ms":    elapsed.Milliseconds(),
	})
	evt := events.New(events.TypeFeedRunFailed, feed.ID).With("failed_at_step", step)
	evt.Status = string(domain.RunFailed)
	evt.Reason = runErr.Error()
	s.events.Emit(ctx, evt)
}

func (s *Service) saveRunInfo(feedID string, info domain.RunInfo) {
	_, err := s.store.UpdateFeed(feedID, func(f *domain.Feed) error {
		f.LastRun = info
		f.UpdatedAt = info.FinishedAt
		return nil
	})
	if err != nil {
		s.log.ErrorObj("record run info failed", "ingest_run_info", map[string]any{
			"feed_id": feedID,
			"error":   err.Error(),
		})
	}
}

func (s *Service) enqueuePublish(ctx context.Context, feedID string, postIDs []string) {
	if s.queue == nil {
		return
	}
	for _, postID := range postIDs {
		if _, err := s.queue.Enqueue(ctx, queue.TaskPublishPost, feedID, postID); err != nil {
			s.log.WarnObj("enqueue publish failed", "ingest_autopublish", map[string]any{
				"feed_id": feedID,
				"post_id": postID,
				"error":   err.Error(),
			})
		}
	}
}
