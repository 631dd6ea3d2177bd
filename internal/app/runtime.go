package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/config"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/credentials"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/ingest"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/queue"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/scheduler"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/storage"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/tasks"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/awsclient"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/events"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/feeds"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/httpclient"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/pipeline"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/publisher"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/secrets"
)

// Runtime holds the wired services shared by both binaries.
type Runtime struct {
	cfg *config.Config
	log logger.Logger

	Store       storage.Store
	Queue       queue.Queue
	Mux         *queue.Mux
	Events      *events.Fanout
	Registry    *pipeline.Registry
	Factory     *credentials.Factory
	Ingest      *ingest.Service
	Batch       *publisher.Batch
	Validator   *credentials.Validator
	Scheduler   *scheduler.Scheduler
	Definitions feeds.File

	closers []io.Closer
}

// NewRuntime builds every component from cfg. The caller must Close it.
func NewRuntime(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	log = logger.Ensure(log)
	if ctx == nil {
		ctx = context.Background()
	}

	rt := &Runtime{cfg: cfg, log: log}
	if err := rt.build(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context) error {
	cfg, log := rt.cfg, rt.log

	defs, err := feeds.Load(cfg.FeedsFile)
	if err != nil {
		return fmt.Errorf("load feeds file: %w", err)
	}
	rt.Definitions = defs
	log.InfoObj("feeds file loaded", "feeds_meta", map[string]any{
		"feeds":       len(defs.Feeds),
		"profiles":    len(defs.Profiles),
		"credentials": len(defs.Credentials),
	})

	fanout, err := buildEvents(ctx, cfg.SinksFile, log)
	if err != nil {
		return err
	}
	rt.Events = fanout
	rt.closers = append(rt.closers, fanout)

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	rt.Store = store
	rt.closers = append(rt.closers, store)
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type": cfg.StorageType,
		"path": cfg.BBoltPath,
	})

	box, err := secrets.NewSecretBox(cfg.SecretKeyRaw)
	if err != nil {
		return fmt.Errorf("init secret box: %w", err)
	}

	transport := httpclient.NewRestyClient(httpclient.Options{
		Timeout:      cfg.HTTPTimeout,
		MaxRedirects: cfg.MaxRedirects,
		UserAgent:    cfg.UserAgent,
	})
	cacheStore, err := httpclient.NewCacheStore(cfg.APICacheType, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("init api cache: %w", err)
	}
	if c, ok := cacheStore.(io.Closer); ok {
		rt.closers = append(rt.closers, c)
	}
	rt.Factory = &credentials.Factory{
		Store:     store,
		Box:       box,
		BaseURL:   cfg.APIBaseURL,
		Transport: transport,
		Reads:     httpclient.NewCachingClient(transport, cacheStore, cfg.APICacheTTL),
	}

	rt.Registry = pipeline.DefaultRegistry(transport, pipeline.NormalizeOptions{
		MaxLength:     cfg.MaxMessageLength,
		LinkAsComment: cfg.LinkAsComment,
	})
	var profileErrs []error
	for _, p := range defs.DomainProfiles() {
		profileErrs = append(profileErrs, rt.Registry.Validate(p))
	}
	if err := errors.Join(profileErrs...); err != nil {
		return fmt.Errorf("validate profiles: %w", err)
	}

	q, err := queue.New(ctx, queue.Options{
		Type:        cfg.QueueType,
		Buffer:      cfg.QueueBuffer,
		Workers:     cfg.WorkerCount,
		TaskTimeout: cfg.TaskTimeout,
		SQSQueueURL: cfg.SQSQueueURL,
		AWS: awsclient.Options{
			Region:          cfg.AWSRegion,
			Endpoint:        cfg.AWSEndpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretKey,
		},
	}, logger.Named(log, "queue"))
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	rt.Queue = q
	rt.closers = append(rt.closers, q)

	connect := func(ctx context.Context, credentialID string) (publisher.API, error) {
		client, err := rt.Factory.Active(ctx, credentialID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	rt.Ingest = ingest.NewService(store, rt.Registry, q, fanout, logger.Named(log, "ingest"))
	rt.Batch = publisher.NewBatch(store, connect, fanout, logger.Named(log, "publisher"))
	rt.Validator = credentials.NewValidator(store, rt.Factory, fanout, logger.Named(log, "credentials"))
	rt.Scheduler = scheduler.New(store, q, fanout, logger.Named(log, "scheduler"))

	rt.Mux = queue.NewMux()
	tasks.Handlers{
		Ingest:      rt.Ingest,
		Batch:       rt.Batch,
		Credentials: rt.Validator,
		Log:         logger.Named(log, "tasks"),
	}.Register(rt.Mux)

	return nil
}

// buildEvents loads the sinks file. A missing file falls back to a single log sink.
func buildEvents(ctx context.Context, path string, log logger.Logger) (*events.Fanout, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) || path == "" {
		log.WarnObj("sinks file not found; events go to the log only", "sinks_file", path)
		return events.NewFanout([]events.Sink{events.NewLogSink("log", log)}, log), nil
	}

	cfgs, err := events.LoadConfigs(path)
	if err != nil {
		return nil, fmt.Errorf("load sinks file: %w", err)
	}
	sinks, err := events.BuildAll(ctx, events.DefaultRegistry(), cfgs, log)
	if err != nil {
		return nil, fmt.Errorf("build sinks: %w", err)
	}
	summaries := make([]map[string]string, 0, len(cfgs))
	for _, c := range cfgs {
		summaries = append(summaries, map[string]string{"id": c.ID, "type": c.Type})
	}
	log.InfoObj("event sinks loaded", "sinks_meta", map[string]any{
		"count": len(summaries),
		"sinks": summaries,
	})
	return events.NewFanout(sinks, log), nil
}

// Close releases resources in reverse order of creation.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
