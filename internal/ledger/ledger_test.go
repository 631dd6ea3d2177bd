package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-feed-syndicator/internal/domain"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/storage"
)

func newLedger(t *testing.T) (*Ledger, storage.Store) {
	t.Helper()
	store, err := storage.NewStore("bbolt", filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestRecordImportedTreatsDuplicateAsAlreadyImported(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	inserted, err := l.RecordImported(ctx, "f1", "x1", time.Now())
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = l.RecordImported(ctx, "f1", "x1", time.Now())
	if err != nil || inserted {
		t.Fatalf("duplicate insert: inserted=%v err=%v", inserted, err)
	}
	seen, err := l.AlreadyImported(ctx, "f1", "x1")
	if err != nil || !seen {
		t.Fatalf("AlreadyImported: seen=%v err=%v", seen, err)
	}
}

func TestLedgerSurvivesPostRemoval(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	entry := domain.FeedEntry{ID: "e1", FeedID: "f1", ExternalID: "x1"}
	post := domain.Post{ID: "p1", FeedID: "f1", EntryID: "e1", Status: domain.PostEnqueued}
	if ok, err := l.Commit(ctx, entry, post); err != nil || !ok {
		t.Fatalf("Commit: ok=%v err=%v", ok, err)
	}

	post.Status = domain.PostWithdrawn
	if err := store.SavePost(post); err != nil {
		t.Fatalf("SavePost: %v", err)
	}

	entry.ID, post.ID = "e2", "p2"
	ok, err := l.Commit(ctx, entry, post)
	if err != nil || ok {
		t.Fatalf("expected duplicate commit to be skipped, ok=%v err=%v", ok, err)
	}
}

func TestLedgerHonoursCancelledContext(t *testing.T) {
	l, _ := newLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.AlreadyImported(ctx, "f1", "x1"); err == nil {
		t.Fatalf("expected context error")
	}
}
