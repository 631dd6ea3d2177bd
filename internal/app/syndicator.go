package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/config"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
)

// Syndicator is the long-running process: it seeds the store from the feeds
// file, runs the queue workers and drives the scheduler loop.
type Syndicator struct {
	cfg *config.Config
	rt  *Runtime
	log logger.Logger
}

// NewSyndicator builds the runtime for the syndicator process.
func NewSyndicator(ctx context.Context, cfg *config.Config, log logger.Logger) (*Syndicator, error) {
	rt, err := NewRuntime(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &Syndicator{cfg: cfg, rt: rt, log: logger.Ensure(log)}, nil
}

// Run blocks until ctx is cancelled, then waits for in-flight tasks and
// releases every resource.
func (s *Syndicator) Run(ctx context.Context) error {
	if s == nil || s.rt == nil {
		return fmt.Errorf("syndicator is not initialized")
	}
	defer func() {
		if err := s.rt.Close(); err != nil {
			s.log.ErrorObj("runtime close failed", "error", err)
		}
	}()

	seeder := NewSeeder(s.rt.Store, s.rt.Factory.Box, s.rt.Queue, logger.Named(s.log, "seeder"))
	if _, err := seeder.Seed(ctx, s.rt.Definitions); err != nil {
		// Feeds stored before the failure stay runnable.
		s.log.ErrorObj("seed finished with errors", "error", err)
	}

	s.log.InfoObj("syndicator starting", "syndicator_state", map[string]any{
		"feeds":              len(s.rt.Definitions.Feeds),
		"sinks":              s.rt.Events.Size(),
		"workers":            s.cfg.WorkerCount,
		"queue_type":         s.cfg.QueueType,
		"scheduler_interval": s.cfg.SchedulerInterval.String(),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.rt.Queue.Run(runCtx, s.rt.Mux); err != nil {
			s.log.ErrorObj("queue stopped", "error", err)
		}
	}()

	err := s.rt.Scheduler.Run(runCtx, s.cfg.SchedulerInterval)
	cancel()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("scheduler run: %w", err)
	}
	s.log.InfoObj("syndicator stopped", "reason", ctx.Err())
	return nil
}
