package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Package workflow runs named steps over a state value, in order, stopping at
// the first failure. There is no retry.

const tracerName = "github.com/samvad-hq/samvad-feed-syndicator/internal/workflow"

// Step is one named unit of work.
type Step[S any] struct {
	Name string
	Run  func(ctx context.Context, state S) (S, error)
}

// Hooks observe step boundaries. After is called for every step that started,
// including one that failed or panicked.
type Hooks[S any] struct {
	Before func(name string, state S)
	After  func(name string, state S, err error)
}

// Stats describes a finished run.
type Stats struct {
	Durations    map[string]time.Duration
	FailedAtStep string
	Total        time.Duration
}

// Run executes steps sequentially in the caller's goroutine. It returns the
// state produced by the last successful step, run stats, and the failing
// step's error unchanged.
func Run[S any](ctx context.Context, name string, steps []Step[S], state S, hooks Hooks[S]) (S, Stats, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	stats := Stats{Durations: make(map[string]time.Duration, len(steps))}
	started := time.Now()

	for _, step := range steps {
		next, err := runStep(ctx, tracer, step, state, hooks, stats.Durations)
		if err != nil {
			stats.FailedAtStep = step.Name
			stats.Total = time.Since(started)
			span.SetAttributes(attribute.String("workflow.failed_at_step", step.Name))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return state, stats, err
		}
		state = next
	}
	stats.Total = time.Since(started)
	return state, stats, nil
}

func runStep[S any](ctx context.Context, tracer trace.Tracer, step Step[S], state S, hooks Hooks[S], durations map[string]time.Duration) (out S, err error) {
	ctx, span := tracer.Start(ctx, step.Name)
	begin := time.Now()
	if hooks.Before != nil {
		hooks.Before(step.Name, state)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Name, r)
			out = state
		}
		durations[step.Name] = time.Since(begin)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if hooks.After != nil {
			after := out
			if err != nil {
				after = state
			}
			hooks.After(step.Name, after, err)
		}
	}()

	if step.Run == nil {
		return state, fmt.Errorf("step %s has no function", step.Name)
	}
	return step.Run(ctx, state)
}
