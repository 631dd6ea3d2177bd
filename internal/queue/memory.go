package queue

import (
	"context"
	"sync"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
)

const defaultBuffer = 256

// Memory is an in-process queue: a buffered channel drained by a worker pool.
// Tasks still buffered when the process exits are lost.
type Memory struct {
	tasks   chan Task
	workers int
	timeout time.Duration
	log     logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewMemory builds an in-process queue.
func NewMemory(opts Options, log logger.Logger) *Memory {
	buf := opts.Buffer
	if buf <= 0 {
		buf = defaultBuffer
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	timeout := opts.TaskTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Memory{
		tasks:   make(chan Task, buf),
		workers: workers,
		timeout: timeout,
		log:     logger.Ensure(log),
		done:    make(chan struct{}),
	}
}

// Enqueue buffers a task without blocking.
func (m *Memory) Enqueue(ctx context.Context, name string, args ...string) (Task, error) {
	task := newTask(name, args)
	select {
	case <-m.done:
		return Task{}, context.Canceled
	default:
	}
	select {
	case m.tasks <- task:
		return task, nil
	case <-ctx.Done():
		return Task{}, ctx.Err()
	default:
		return Task{}, ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is cancelled and in-flight tasks finish.
func (m *Memory) Run(ctx context.Context, mux *Mux) error {
	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m.worker(ctx, mux, id)
		}(i)
	}
	wg.Wait()
	return nil
}

func (m *Memory) worker(ctx context.Context, mux *Mux, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case task := <-m.tasks:
			_ = execute(ctx, mux, task, m.timeout, m.log, id)
		}
	}
}

// Drain runs every buffered task on the caller's goroutine. Used by one-shot
// commands that enqueue follow-up work without running a worker pool.
func (m *Memory) Drain(ctx context.Context, mux *Mux) int {
	n := 0
	for {
		select {
		case task := <-m.tasks:
			_ = execute(ctx, mux, task, m.timeout, m.log, 0)
			n++
		default:
			return n
		}
	}
}

// Close stops the workers.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}
