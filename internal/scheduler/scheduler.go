package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/queue"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/storage"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/events"
)

// Store is the subset of storage.Store the scheduler needs.
type Store interface {
	ListFeeds() ([]domain.Feed, error)
	GetSchedule(feedID string) (domain.FeedSchedule, error)
	CreateScheduleIfAbsent(s domain.FeedSchedule) (bool, error)
	CompareAndSwapSchedule(feedID string, expected time.Time, updated domain.FeedSchedule) (int64, error)
}

// TickReport summarizes one scan.
type TickReport struct {
	Scanned    int
	Dispatched int
	LostRaces  int
	NotDue     int
	Errors     int
}

// Scheduler claims due feeds and enqueues one ingestion task per claim.
// Several schedulers may tick concurrently against the same store; the
// compare-and-swap on next_run_at lets exactly one of them dispatch.
type Scheduler struct {
	store  Store
	queue  queue.Enqueuer
	events events.Emitter
	log    logger.Logger
	now    func() time.Time
}

// New builds a Scheduler.
func New(store Store, q queue.Enqueuer, emitter events.Emitter, log logger.Logger) *Scheduler {
	if emitter == nil {
		emitter = events.Discard{}
	}
	return &Scheduler{
		store:  store,
		queue:  q,
		events: emitter,
		log:    logger.Ensure(log),
		now:    time.Now,
	}
}

// NextRun returns the first activation of expr strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched.Next(from).UTC(), nil
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if s == nil || s.store == nil || s.queue == nil {
		return fmt.Errorf("scheduler is not initialized")
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}

	s.log.InfoObj("scheduler loop starting", "scheduler_state", map[string]any{
		"interval": interval.String(),
	})
	s.tickAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.InfoObj("scheduler loop exiting", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	report, err := s.Tick(ctx)
	if err != nil {
		s.log.ErrorObj("scheduler tick failed", "error", err)
		return
	}
	s.log.DebugObj("scheduler tick finished", "tick_report", map[string]any{
		"scanned":    report.Scanned,
		"dispatched": report.Dispatched,
		"lost_races": report.LostRaces,
		"not_due":    report.NotDue,
		"errors":     report.Errors,
	})
}

// Tick scans dispatchable feeds once. Per-feed failures are logged and the
// feed is left for the next tick; only a failure to list feeds is returned.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	feeds, err := s.store.ListFeeds()
	if err != nil {
		return report, fmt.Errorf("list feeds: %w", err)
	}

	for _, feed := range feeds {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !feed.Dispatchable() {
			continue
		}
		report.Scanned++

		outcome, err := s.claim(feed)
		if err != nil {
			report.Errors++
			s.log.ErrorObj("schedule claim failed", "schedule_claim", map[string]any{
				"feed_id": feed.ID,
				"error":   err.Error(),
			})
			continue
		}

		switch outcome {
		case claimNotDue:
			report.NotDue++
			continue
		case claimLost:
			report.LostRaces++
			continue
		}

		if _, err := s.queue.Enqueue(ctx, queue.TaskIngestFeed, feed.ID); err != nil {
			report.Errors++
			s.log.ErrorObj("enqueue ingestion failed", "schedule_dispatch", map[string]any{
				"feed_id": feed.ID,
				"error":   err.Error(),
			})
			continue
		}
		report.Dispatched++
		s.events.Emit(ctx, events.New(events.TypeScheduleClaimed, feed.ID).With("first_run", outcome == claimFirst))
	}
	return report, nil
}

type claimOutcome int

const (
	claimNotDue claimOutcome = iota
	claimLost
	claimWon
	claimFirst
)

func (s *Scheduler) claim(feed domain.Feed) (claimOutcome, error) {
	now := s.now().UTC()

	current, err := s.store.GetSchedule(feed.ID)
	if errors.Is(err, storage.ErrNotFound) {
		created, err := s.store.CreateScheduleIfAbsent(domain.FeedSchedule{FeedID: feed.ID, NextRunAt: now})
		if err != nil {
			return claimNotDue, fmt.Errorf("create schedule: %w", err)
		}
		if !created {
			return claimLost, nil
		}
		return claimFirst, nil
	}
	if err != nil {
		return claimNotDue, fmt.Errorf("read schedule: %w", err)
	}
	if !current.Due(now) {
		return claimNotDue, nil
	}

	next, err := NextRun(feed.Cron, now)
	if err != nil {
		return claimNotDue, err
	}
	updated := domain.FeedSchedule{FeedID: feed.ID, NextRunAt: next, LastRunAt: now}
	affected, err := s.store.CompareAndSwapSchedule(feed.ID, current.NextRunAt, updated)
	if err != nil {
		return claimNotDue, fmt.Errorf("claim schedule: %w", err)
	}
	if affected != 1 {
		return claimLost, nil
	}
	return claimWon, nil
}
