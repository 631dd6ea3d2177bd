package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/storage"
)

// Store is the subset of storage.Store the ledger needs.
type Store interface {
	HasEntryUID(feedID, externalID string) (bool, error)
	InsertEntryUID(uid domain.FeedEntryUID) error
	CommitIngested(entry domain.FeedEntry, post domain.Post, uid domain.FeedEntryUID) error
}

// Ledger records which (feed, external id) pairs were ingested. Rows are
// never removed, so deleting a post does not make its entry importable again.
type Ledger struct {
	store Store
	now   func() time.Time
}

// New builds a Ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// AlreadyImported reports whether the pair has a ledger row.
func (l *Ledger) AlreadyImported(ctx context.Context, feedID, externalID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	seen, err := l.store.HasEntryUID(feedID, externalID)
	if err != nil {
		return false, fmt.Errorf("check ledger %s/%s: %w", feedID, externalID, err)
	}
	return seen, nil
}

// RecordImported inserts the ledger row. A concurrent or earlier insert is
// reported as inserted=false with no error.
func (l *Ledger) RecordImported(ctx context.Context, feedID, externalID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := l.store.InsertEntryUID(domain.FeedEntryUID{FeedID: feedID, ExternalID: externalID, ImportedAt: at.UTC()})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrDuplicate):
		return false, nil
	default:
		return false, fmt.Errorf("record ledger %s/%s: %w", feedID, externalID, err)
	}
}

// Commit persists entry and post together with the ledger row. It returns
// inserted=false when the entry was already imported; nothing is written then.
func (l *Ledger) Commit(ctx context.Context, entry domain.FeedEntry, post domain.Post) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	uid := domain.FeedEntryUID{FeedID: entry.FeedID, ExternalID: entry.ExternalID, ImportedAt: l.now().UTC()}
	err := l.store.CommitIngested(entry, post, uid)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrDuplicate):
		return false, nil
	default:
		return false, fmt.Errorf("commit entry %s/%s: %w", entry.FeedID, entry.ExternalID, err)
	}
}
