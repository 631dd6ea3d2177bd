package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
)

// Fanout dispatches events to all configured sinks.
type Fanout struct {
	sinks []Sink
	log   Logger
}

// NewFanout builds a dispatcher that fans out events across sinks.
func NewFanout(sinks []Sink, log Logger) *Fanout {
	cp := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		cp = append(cp, s)
	}
	return &Fanout{sinks: cp, log: logger.Ensure(log)}
}

// Send forwards the event to every sink and returns how many accepted it.
func (f *Fanout) Send(ctx context.Context, evt Event) (int, error) {
	if f == nil || len(f.sinks) == 0 {
		return 0, nil
	}

	var errs []error
	successful := 0
	for _, s := range f.sinks {
		if err := s.Send(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s sink[%s]: %w", s.Type(), s.ID(), err))
		} else {
			successful++
		}
	}
	return successful, errors.Join(errs...)
}

// Emit delivers the event and logs delivery failures instead of returning them.
func (f *Fanout) Emit(ctx context.Context, evt Event) {
	if f == nil {
		return
	}
	if _, err := f.Send(ctx, evt); err != nil {
		f.log.WarnObj("event delivery failed", "event_delivery", map[string]any{
			"event_id":   evt.ID,
			"event_type": evt.Type,
			"error":      err.Error(),
		})
	}
}

// Size returns the number of active sinks.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Close releases sink resources such as Pub/Sub clients.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := closeSink(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
