package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/awsclient"
)

// Task names understood by the workers.
const (
	TaskIngestFeed         = "ingest_feed"
	TaskPublishPost        = "publish_post"
	TaskValidateCredential = "validate_credential"
	TaskPurgeFeed          = "purge_feed"
	TaskPublishFeed        = "publish_feed"
)

var (
	// ErrQueueFull is returned by the memory queue when its buffer is exhausted.
	ErrQueueFull = errors.New("task queue is full")
	// ErrUnknownTask is returned when no handler is registered for a task name.
	ErrUnknownTask = errors.New("unknown task")
)

// Task is one unit of queued work.
type Task struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Args       []string  `json:"args,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Arg returns the i-th argument or "".
func (t Task) Arg(i int) string {
	if i < 0 || i >= len(t.Args) {
		return ""
	}
	return t.Args[i]
}

func newTask(name string, args []string) Task {
	return Task{ID: uuid.NewString(), Name: name, Args: args, EnqueuedAt: time.Now().UTC()}
}

// Enqueuer is the producer side used by the scheduler and handlers.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, args ...string) (Task, error)
}

// Queue is a task backend with a consuming worker pool.
type Queue interface {
	Enqueuer
	// Run consumes tasks with the mux until ctx is cancelled.
	Run(ctx context.Context, mux *Mux) error
	Close() error
}

// Handler processes one task.
type Handler func(ctx context.Context, task Task) error

// Mux maps task names to handlers.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers h for name.
func (m *Mux) Handle(name string, h Handler) {
	if name == "" || h == nil {
		return
	}
	m.mu.Lock()
	m.handlers[name] = h
	m.mu.Unlock()
}

// Dispatch runs the handler registered for the task.
func (m *Mux) Dispatch(ctx context.Context, task Task) error {
	m.mu.RLock()
	h := m.handlers[task.Name]
	m.mu.RUnlock()
	if h == nil {
		return fmt.Errorf("%w %q", ErrUnknownTask, task.Name)
	}
	return h(ctx, task)
}

// Options configures a queue backend.
type Options struct {
	Type        string
	Buffer      int
	Workers     int
	TaskTimeout time.Duration
	SQSQueueURL string
	AWS         awsclient.Options
}

// New creates the configured queue backend.
func New(ctx context.Context, opts Options, log logger.Logger) (Queue, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 5 * time.Minute
	}

	switch strings.ToLower(strings.TrimSpace(opts.Type)) {
	case "", "memory":
		return NewMemory(opts, log), nil
	case "sqs":
		q, err := NewSQS(ctx, opts, log)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unsupported queue type %q", opts.Type)
	}
}

// execute runs one task with the per-task timeout and logs the outcome.
func execute(ctx context.Context, mux *Mux, task Task, timeout time.Duration, log logger.Logger, workerID int) error {
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := mux.Dispatch(taskCtx, task)
	meta := map[string]any{
		"worker_id":  workerID,
		"task_id":    task.ID,
		"task":       task.Name,
		"args":       task.Args,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		meta["error"] = err.Error()
		log.ErrorObj("task failed", "task", meta)
		return err
	}
	log.DebugObj("task completed", "task", meta)
	return nil
}
