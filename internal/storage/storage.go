package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
)

// Package storage provides the durable record store.

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique key already exists.
	ErrDuplicate = errors.New("duplicate record")
)

// Store persists feeds, schedules, ledger rows, entries, posts, credentials and metrics.
type Store interface {
	Close() error

	SaveFeed(feed domain.Feed) error
	GetFeed(id string) (domain.Feed, error)
	ListFeeds() ([]domain.Feed, error)
	UpdateFeed(id string, mutate func(*domain.Feed) error) (domain.Feed, error)

	GetSchedule(feedID string) (domain.FeedSchedule, error)
	// CreateScheduleIfAbsent inserts s unless a schedule for the feed exists.
	CreateScheduleIfAbsent(s domain.FeedSchedule) (bool, error)
	// CompareAndSwapSchedule replaces the schedule iff its stored next_run_at
	// equals expected. It returns the number of rows updated (0 or 1).
	CompareAndSwapSchedule(feedID string, expected time.Time, updated domain.FeedSchedule) (int64, error)

	HasEntryUID(feedID, externalID string) (bool, error)
	InsertEntryUID(uid domain.FeedEntryUID) error
	// CommitIngested writes entry, post, ledger row and the day's metric
	// increment (dated by the ledger row) in one transaction, or nothing with
	// ErrDuplicate when the ledger row exists.
	CommitIngested(entry domain.FeedEntry, post domain.Post, uid domain.FeedEntryUID) error

	ListEntries(feedID string) ([]domain.FeedEntry, error)
	GetPost(feedID, postID string) (domain.Post, error)
	SavePost(post domain.Post) error
	ListPosts(feedID string, statuses ...domain.PostStatus) ([]domain.Post, error)

	SaveCredential(cred domain.Credential) error
	GetCredential(id string) (domain.Credential, error)
	UpdateCredential(id string, mutate func(*domain.Credential) error) (domain.Credential, error)

	IncrementMetric(feedID, date string, created, invalid int64) error
	GetMetric(feedID, date string) (domain.FeedMetric, error)
}

// NewStore creates the configured storage backend.
func NewStore(typ, path string) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	switch typ {
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}
