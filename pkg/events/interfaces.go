package events

import (
	"context"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
)

// Sink sends events to a downstream system (SQS, SNS, Pub/Sub, HTTP, log).
type Sink interface {
	ID() string
	Type() string
	Send(ctx context.Context, evt Event) error
}

// Logger defines the logging surface sinks rely on.
type Logger = logger.Logger
